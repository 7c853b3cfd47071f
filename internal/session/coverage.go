package session

import (
	"sort"
	"strings"

	"github.com/hpungsan/skillminer/internal/collab"
)

// homeFolders are top-level home entries that are never projects.
var homeFolders = map[string]bool{
	"appdata": true, "desktop": true, "documents": true, "downloads": true,
}

// UncoveredProject is a project the user worked in that no skill is named after.
type UncoveredProject struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	Conversations int    `json:"conversations"`
}

// UncoveredProjects names the projects under home that the conversations touched
// files in, minus those matched by a skill name. A project matches a skill when
// either name contains the other, ignoring case. Results are ordered by
// conversation count, most first.
func UncoveredProjects(convs []collab.Summary, skills []string, home string) []UncoveredProject {
	home = strings.TrimRight(strings.ReplaceAll(home, `\`, "/"), "/")

	counts := map[string]int{}
	paths := map[string]string{}
	for _, c := range convs {
		seen := map[string]bool{}
		for _, f := range c.FilesTouched {
			name, path, ok := homeProject(f, home)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			counts[name]++
			if _, ok := paths[name]; !ok {
				paths[name] = path
			}
		}
	}

	lowered := make([]string, 0, len(skills))
	for _, s := range skills {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowered = append(lowered, s)
		}
	}

	out := []UncoveredProject{}
	for name, n := range counts {
		if coveredBy(strings.ToLower(name), lowered) {
			continue
		}
		out = append(out, UncoveredProject{Name: name, Path: paths[name], Conversations: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Conversations != out[j].Conversations {
			return out[i].Conversations > out[j].Conversations
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// homeProject returns the first directory below home in file, and its path.
func homeProject(file, home string) (string, string, bool) {
	f := strings.ReplaceAll(file, `\`, "/")
	var rest, root string
	switch {
	case home != "" && strings.HasPrefix(strings.ToLower(f), strings.ToLower(home)+"/"):
		rest, root = f[len(home)+1:], f[:len(home)]
	case strings.HasPrefix(f, "~/"):
		rest, root = f[2:], "~"
	default:
		return "", "", false
	}
	i := strings.Index(rest, "/")
	if i <= 0 {
		// a file directly in home
		return "", "", false
	}
	name := rest[:i]
	if strings.HasPrefix(name, ".") || homeFolders[strings.ToLower(name)] {
		return "", "", false
	}
	return name, root + "/" + name, true
}

func coveredBy(project string, skills []string) bool {
	for _, s := range skills {
		if strings.Contains(project, s) || strings.Contains(s, project) {
			return true
		}
	}
	return false
}
