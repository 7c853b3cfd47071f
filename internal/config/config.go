package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/hpungsan/skillminer/internal/domains"
)

// Config holds application configuration.
type Config struct {
	// DraftsDir holds manifest.json and one content file per slug.
	// Empty means <base>/drafts.
	DraftsDir string `json:"drafts_dir,omitempty"`

	// SkillsDir is the active deployment location (one <slug>/SKILL.md per deployed skill).
	// Empty means ~/.claude/skills.
	SkillsDir string `json:"skills_dir,omitempty"`

	// ProjectsDir is scanned for session JSONL logs. Empty means ~/.claude/projects.
	ProjectsDir string `json:"projects_dir,omitempty"`

	// HistoryFile is the prompt history consumed by "today". Empty means ~/.claude/history.jsonl.
	HistoryFile string `json:"history_file,omitempty"`

	// Domains overrides the built-in domain master list when non-empty.
	Domains []domains.Domain `json:"domains,omitempty" validate:"omitempty,dive"`

	// CatchAll is the slug for conversations that fit no domain.
	CatchAll string `json:"catch_all,omitempty"`

	// DaysBack is the maximum mining lookback in days.
	DaysBack int `json:"days_back" validate:"gte=1,lte=3650"`

	// MaxWindows caps the number of windows per run. 0 means no cap.
	MaxWindows int `json:"max_windows,omitempty" validate:"gte=0"`

	// MinMessages is the minimum message count for a conversation to be mined.
	MinMessages int `json:"min_messages" validate:"gte=1"`

	// MinSignificance halts window expansion when 1 - misc/total falls below it.
	// Nil means unset, so an explicit 0 (never halt on significance) survives Merge.
	MinSignificance *float64 `json:"min_significance,omitempty" validate:"omitempty,gte=0,lte=1"`

	// MaxParallel bounds concurrently outstanding AI collaborator calls.
	MaxParallel int `json:"max_parallel" validate:"gte=1,lte=64"`

	// MaxRetries is the number of attempts per collaborator call (including the first).
	MaxRetries int `json:"max_retries" validate:"gte=1,lte=10"`

	// RetryBaseDelayMS is the first backoff delay; it doubles per attempt.
	RetryBaseDelayMS int `json:"retry_base_delay_ms" validate:"gte=0"`

	// MinScore is the consolidation threshold below which skills are rejected.
	MinScore float64 `json:"min_score" validate:"gte=0,lte=1"`

	// ScoreLookbackDays bounds the invocation log window used for scoring.
	ScoreLookbackDays int `json:"score_lookback_days" validate:"gte=1"`

	// AIModel is the Gemini model used by the collaborators.
	AIModel string `json:"ai_model,omitempty"`

	// AIRequestsPerMinute paces outbound AI requests. 0 means unlimited.
	AIRequestsPerMinute int `json:"ai_requests_per_minute,omitempty" validate:"gte=0"`

	// AllowedPaths is an allowlist of directories for bundle export/import.
	// Paths outside ~/.skillminer/exports require being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for bundle export/import.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits open index connections. 0 means sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// LogLevel is a zerolog level name (debug, info, warn, error). Empty means info.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error disabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CatchAll:          domains.DefaultCatchAll,
		DaysBack:          30,
		MinMessages:       4,
		MinSignificance:   Float(0.3),
		MaxParallel:       4,
		MaxRetries:        3,
		RetryBaseDelayMS:  500,
		MinScore:          0.1,
		ScoreLookbackDays: 30,
		AIModel:           "gemini-1.5-flash",
	}
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 {
	return &v
}

// Significance returns the configured significance floor, 0 when unset.
func (c *Config) Significance() float64 {
	if c.MinSignificance == nil {
		return 0
	}
	return *c.MinSignificance
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.skillminer) and repo (.skillminer) directories.
// Repo config is found by walking upward from startDir. Repo values take precedence for scalars;
// arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .skillminer/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".skillminer", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadEnv loads .env files from baseDir and the working directory, without
// overriding variables already set in the environment.
func LoadEnv(baseDir string) {
	_ = godotenv.Load(filepath.Join(baseDir, ".env"))
	_ = godotenv.Load()
}

var validate = validator.New()

// Validate checks config bounds.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	raw, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Merge(DefaultConfig(), raw)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
// A non-empty overlay domain list replaces the base list.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.DraftsDir = pickString(overlay.DraftsDir, base.DraftsDir)
	result.SkillsDir = pickString(overlay.SkillsDir, base.SkillsDir)
	result.ProjectsDir = pickString(overlay.ProjectsDir, base.ProjectsDir)
	result.HistoryFile = pickString(overlay.HistoryFile, base.HistoryFile)
	result.CatchAll = pickString(overlay.CatchAll, base.CatchAll)
	result.AIModel = pickString(overlay.AIModel, base.AIModel)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)

	result.DaysBack = pickInt(overlay.DaysBack, base.DaysBack)
	result.MaxWindows = pickInt(overlay.MaxWindows, base.MaxWindows)
	result.MinMessages = pickInt(overlay.MinMessages, base.MinMessages)
	result.MaxParallel = pickInt(overlay.MaxParallel, base.MaxParallel)
	result.MaxRetries = pickInt(overlay.MaxRetries, base.MaxRetries)
	result.RetryBaseDelayMS = pickInt(overlay.RetryBaseDelayMS, base.RetryBaseDelayMS)
	result.ScoreLookbackDays = pickInt(overlay.ScoreLookbackDays, base.ScoreLookbackDays)
	result.AIRequestsPerMinute = pickInt(overlay.AIRequestsPerMinute, base.AIRequestsPerMinute)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)

	result.MinSignificance = base.MinSignificance
	if overlay.MinSignificance != nil {
		result.MinSignificance = overlay.MinSignificance
	}
	result.MinScore = overlay.MinScore
	if result.MinScore == 0 {
		result.MinScore = base.MinScore
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.Domains = base.Domains
	if len(overlay.Domains) > 0 {
		result.Domains = overlay.Domains
	}

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// Catalog builds the domain catalog described by the config.
func (c *Config) Catalog() *domains.Catalog {
	return domains.NewCatalog(c.Domains, c.CatchAll)
}

// ResolveDirs fills empty path settings from baseDir and the user's home directory.
func (c *Config) ResolveDirs(baseDir, homeDir string) {
	if c.DraftsDir == "" {
		c.DraftsDir = filepath.Join(baseDir, "drafts")
	}
	if c.SkillsDir == "" {
		c.SkillsDir = filepath.Join(homeDir, ".claude", "skills")
	}
	if c.ProjectsDir == "" {
		c.ProjectsDir = filepath.Join(homeDir, ".claude", "projects")
	}
	if c.HistoryFile == "" {
		c.HistoryFile = filepath.Join(homeDir, ".claude", "history.jsonl")
	}
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
