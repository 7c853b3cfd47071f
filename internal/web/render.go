package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string
	DryRun  bool
}

// ListPageData is the template data for the skill list page.
type ListPageData struct {
	PageData
	Skills   []skill.Summary
	Counts   map[skill.Status]int
	Pending  int
	LastRun  *manifest.RunInfo
	Statuses []skill.Status
	Status   string
	Domain   string
}

// DetailPageData is the template data for the skill detail page.
type DetailPageData struct {
	PageData
	Skill        *skill.Skill
	RenderedHTML template.HTML
	Raw          string
	HasDeployed  bool
	// Drifted is set when the draft no longer matches the deployed copy.
	Drifted    bool
	CanApprove bool
	CanDeploy  bool
	CanReject  bool
	Message    string
}

// DiffPageData is the template data for the diff page.
type DiffPageData struct {
	PageData
	Diff  manifest.DiffResult
	Lines []DiffLine
}

// DiffLine is one line of a unified diff with its display class.
type DiffLine struct {
	Class string
	Text  string
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	dryRun    bool
	logger    zerolog.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, logger zerolog.Logger) (*Renderer, error) {
	funcMap := template.FuncMap{
		"ago":        ago,
		"formatTime": formatTime,
		"score":      formatScore,
		"count":      func(n int) string { return humanize.Comma(int64(n)) },
	}

	layoutTmpl, err := template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages := map[string]string{
		"list":   "list.html",
		"detail": "detail.html",
		"diff":   "diff.html",
		"error":  "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t, err := layoutTmpl.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(templateFS, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		logger:    logger,
	}, nil
}

// WithDryRun marks every page as rendered from a dry-run environment.
func (r *Renderer) WithDryRun(dryRun bool) *Renderer {
	r.dryRun = dryRun
	return r
}

func (r *Renderer) page(title, nav string) PageData {
	return PageData{Title: title, Version: r.version, Nav: nav, DryRun: r.dryRun}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.logger.Error().Str("template", name).Msg("template not found")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error().Err(err).Str("template", name).Msg("template execution failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	sErr, ok := errors.As(err)
	if !ok {
		sErr = errors.NewInternal(err)
	}
	if sErr.Code == errors.ErrInternal {
		r.logger.Error().Err(err).Str("path", req.URL.Path).Msg("request failed")
	}

	status := sErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := sErr.Message

	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(sErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	r.renderPageStatus(w, status, "error", ErrorPageData{
		PageData:   r.page(fmt.Sprintf("Error %d", status), ""),
		StatusCode: status,
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderSkill converts a skill file to HTML, dropping the frontmatter.
func renderSkill(content []byte) template.HTML {
	body := content
	if _, b, err := skill.SplitFrontMatter(content); err == nil {
		body = b
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(body, &buf); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(string(content)) + "</pre>")
	}
	return template.HTML(buf.String())
}

// diffLines classifies unified diff lines for display.
func diffLines(unified string) []DiffLine {
	if unified == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(unified, "\n"), "\n")
	out := make([]DiffLine, 0, len(lines))
	for _, l := range lines {
		class := ""
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			class = "file"
		case strings.HasPrefix(l, "@@"):
			class = "hunk"
		case strings.HasPrefix(l, "+"):
			class = "add"
		case strings.HasPrefix(l, "-"):
			class = "del"
		}
		out = append(out, DiffLine{Class: class, Text: l})
	}
	return out
}

func ago(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "never"
		}
		return humanize.Time(t)
	case *time.Time:
		if t == nil || t.IsZero() {
			return "never"
		}
		return humanize.Time(*t)
	}
	return ""
}

// formatTime formats t as "2006-01-02 15:04" UTC.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *s)
}
