// Package domains holds the fixed domain master list that conversations are classified into.
//
// The classifier is asked to pick from this list; anything it returns that does not
// resolve to an entry falls back to the catch-all slug, never to an invented one.
package domains

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultCatchAll is the slug used for conversations that fit no configured domain.
const DefaultCatchAll = "misc"

// Domain is one entry of the domain master list.
type Domain struct {
	Name     string   `json:"name" validate:"required"`
	Slug     string   `json:"slug" validate:"required"`
	Keywords []string `json:"keywords,omitempty"`
}

// Default is the domain list used when config.json does not override it.
var Default = []Domain{
	{Name: "Go development", Slug: "go-dev", Keywords: []string{"go", "golang", "goroutine", "go.mod", "gofmt"}},
	{Name: "Rust development", Slug: "rust-dev", Keywords: []string{"rust", "cargo", "crate", "borrow", "wasm"}},
	{Name: "Frontend", Slug: "frontend", Keywords: []string{"react", "css", "typescript", "component", "vite"}},
	{Name: "Databases", Slug: "databases", Keywords: []string{"sql", "sqlite", "postgres", "migration", "query"}},
	{Name: "DevOps and CI", Slug: "devops", Keywords: []string{"docker", "ci", "deploy", "kubernetes", "github actions"}},
	{Name: "Git workflow", Slug: "git-workflow", Keywords: []string{"git", "rebase", "branch", "commit", "pull request"}},
	{Name: "Testing", Slug: "testing", Keywords: []string{"test", "coverage", "fixture", "mock", "benchmark"}},
	{Name: "Documentation", Slug: "docs", Keywords: []string{"readme", "docs", "markdown", "changelog"}},
	{Name: "AI integration", Slug: "ai-integration", Keywords: []string{"prompt", "llm", "gemini", "claude", "model"}},
	{Name: "Data processing", Slug: "data-processing", Keywords: []string{"csv", "json", "excel", "pdf", "parse"}},
	{Name: "Tooling and CLI", Slug: "tooling", Keywords: []string{"cli", "script", "automation", "skill", "makefile"}},
}

// Catalog resolves free-text domain labels against a domain list.
type Catalog struct {
	domains  []Domain
	catchAll string
	bySlug   map[string]int
}

// NewCatalog builds a Catalog. An empty list falls back to Default and an empty
// catch-all falls back to DefaultCatchAll. The catch-all is never part of domains.
func NewCatalog(list []Domain, catchAll string) *Catalog {
	if len(list) == 0 {
		list = Default
	}
	if catchAll == "" {
		catchAll = DefaultCatchAll
	}
	c := &Catalog{catchAll: catchAll, bySlug: make(map[string]int, len(list))}
	for _, d := range list {
		if d.Slug == "" || d.Slug == catchAll {
			continue
		}
		if _, dup := c.bySlug[d.Slug]; dup {
			continue
		}
		c.bySlug[d.Slug] = len(c.domains)
		c.domains = append(c.domains, d)
	}
	return c
}

// Domains returns the configured domains, excluding the catch-all.
func (c *Catalog) Domains() []Domain {
	out := make([]Domain, len(c.domains))
	copy(out, c.domains)
	return out
}

// CatchAll returns the catch-all slug.
func (c *Catalog) CatchAll() string {
	return c.catchAll
}

// IsKnown reports whether slug is a configured domain or the catch-all.
func (c *Catalog) IsKnown(slug string) bool {
	if slug == c.catchAll {
		return true
	}
	_, ok := c.bySlug[slug]
	return ok
}

// Lookup returns the domain for slug. The catch-all resolves to a synthetic entry.
func (c *Catalog) Lookup(slug string) (Domain, bool) {
	if slug == c.catchAll {
		return Domain{Name: "Miscellaneous", Slug: c.catchAll}, true
	}
	i, ok := c.bySlug[slug]
	if !ok {
		return Domain{}, false
	}
	return c.domains[i], true
}

// Resolve maps a classifier answer onto a known slug.
// Order: exact slug, exact name, substring of name or slug, most keyword hits, catch-all.
func (c *Catalog) Resolve(raw string) string {
	norm := strings.ToLower(strings.TrimSpace(raw))
	if norm == "" {
		return c.catchAll
	}
	if norm == c.catchAll {
		return c.catchAll
	}

	for _, d := range c.domains {
		if norm == strings.ToLower(d.Slug) || norm == strings.ToLower(d.Name) {
			return d.Slug
		}
	}

	for _, d := range c.domains {
		name := strings.ToLower(d.Name)
		slug := strings.ToLower(d.Slug)
		if strings.Contains(norm, name) || strings.Contains(name, norm) ||
			strings.Contains(norm, slug) || strings.Contains(slug, norm) {
			return d.Slug
		}
	}

	best, bestHits := "", 0
	for _, d := range c.domains {
		hits := 0
		for _, kw := range d.Keywords {
			if kw != "" && strings.Contains(norm, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = d.Slug, hits
		}
	}
	if best != "" {
		return best
	}

	return c.catchAll
}

// PromptList renders the domain list for embedding in a classification prompt.
func (c *Catalog) PromptList() string {
	lines := make([]string, 0, len(c.domains)+1)
	for _, d := range c.domains {
		if len(d.Keywords) > 0 {
			lines = append(lines, fmt.Sprintf("- %s: %s (%s)", d.Slug, d.Name, strings.Join(d.Keywords, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("- %s: %s", d.Slug, d.Name))
		}
	}
	lines = append(lines, fmt.Sprintf("- %s: anything that fits none of the above", c.catchAll))
	return strings.Join(lines, "\n")
}

// Slugs returns every configured slug plus the catch-all, sorted.
func (c *Catalog) Slugs() []string {
	out := make([]string, 0, len(c.domains)+1)
	for _, d := range c.domains {
		out = append(out, d.Slug)
	}
	out = append(out, c.catchAll)
	sort.Strings(out)
	return out
}
