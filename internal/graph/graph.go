// Package graph builds the reference graph among skill files: markdown links,
// skill `name` mentions and project paths, with broken links and orphans.
package graph

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// RefType is the kind of a reference.
type RefType string

const (
	RefMarkdownLink RefType = "markdown_link"
	RefSkill        RefType = "skill_ref"
	RefProjectPath  RefType = "project_path" // external, never broken
)

// Ref is a reference found in one file, before resolution.
type Ref struct {
	Target string  `json:"target"`
	Type   RefType `json:"type"`
	Line   int     `json:"line"`
}

// Edge is a resolved reference between two files (or to an external path).
type Edge struct {
	From string  `json:"from"`
	To   string  `json:"to"`
	Type RefType `json:"type"`
	Line int     `json:"line"`
}

// Node is one skill file.
type Node struct {
	Path     string `json:"path"`
	Slug     string `json:"slug"`
	Outgoing []Edge `json:"outgoing"`
	Incoming []Edge `json:"incoming"`
}

// Graph is the full reference graph.
type Graph struct {
	Nodes   []Node   `json:"nodes"`
	Edges   int      `json:"edges"`
	Broken  []Edge   `json:"broken_links"`
	Orphans []string `json:"orphans"`
}

var (
	skillTickPattern = regexp.MustCompile("(?i)\\bskill[ \\t]*`([A-Za-z0-9_-]{1,64})`")
	skillBarePattern = regexp.MustCompile(`(?i)\bskill[ \t]+([A-Za-z0-9_]+(?:-[A-Za-z0-9_]+)+)\b`)
	homePathPattern  = regexp.MustCompile("~/[^\\s)\\]`\"]+")
	winPathPattern   = regexp.MustCompile("[A-Za-z]:[\\\\/]Users[\\\\/][^\\s)\\]`\"]+")
)

var md = goldmark.New()

// Extract returns every reference in content. Markdown links come from the parsed
// document, so links inside code are ignored; skill and path references are
// matched line by line.
func Extract(content []byte) []Ref {
	refs := markdownLinks(content)

	for i, line := range strings.Split(string(content), "\n") {
		n := i + 1
		for _, m := range skillTickPattern.FindAllStringSubmatch(line, -1) {
			refs = append(refs, Ref{Target: m[1], Type: RefSkill, Line: n})
		}
		for _, m := range skillBarePattern.FindAllStringSubmatch(line, -1) {
			refs = append(refs, Ref{Target: m[1], Type: RefSkill, Line: n})
		}
		for _, p := range homePathPattern.FindAllString(line, -1) {
			refs = append(refs, Ref{Target: p, Type: RefProjectPath, Line: n})
		}
		for _, p := range winPathPattern.FindAllString(line, -1) {
			refs = append(refs, Ref{Target: p, Type: RefProjectPath, Line: n})
		}
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Line < refs[j].Line })
	return refs
}

func markdownLinks(content []byte) []Ref {
	doc := md.Parser().Parse(text.NewReader(content))
	var refs []Ref
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		link, ok := n.(*ast.Link)
		if !ok {
			return ast.WalkContinue, nil
		}
		if target, ok := localTarget(string(link.Destination)); ok {
			refs = append(refs, Ref{Target: target, Type: RefMarkdownLink, Line: lineOf(content, offset(link))})
		}
		return ast.WalkSkipChildren, nil
	})
	return refs
}

// localTarget keeps links to local markdown files or extensionless paths.
func localTarget(dest string) (string, bool) {
	if dest == "" || strings.HasPrefix(dest, "#") || strings.Contains(dest, "://") || strings.HasPrefix(dest, "mailto:") {
		return "", false
	}
	if i := strings.IndexByte(dest, '#'); i >= 0 {
		dest = dest[:i]
	}
	name := dest
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if strings.HasSuffix(name, ".md") || !strings.Contains(name, ".") {
		return dest, true
	}
	return "", false
}

// offset returns the source position of an inline node: its first text segment,
// else the first line of the enclosing block.
func offset(n ast.Node) int {
	var pos = -1
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			pos = t.Segment.Start
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if pos >= 0 {
		return pos
	}
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == ast.TypeBlock && p.Lines().Len() > 0 {
			return p.Lines().At(0).Start
		}
	}
	return 0
}

func lineOf(content []byte, pos int) int {
	if pos > len(content) {
		pos = len(content)
	}
	return bytes.Count(content[:pos], []byte("\n")) + 1
}

// SlugOf names a skill file: the directory of a SKILL.md, else the file stem.
func SlugOf(path string) string {
	if filepath.Base(path) == "SKILL.md" {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(filepath.Base(path), ".md")
}

// Build resolves the references of every file in files (path to content).
// Markdown links resolve relative to the linking file; a link to a directory
// resolves to its SKILL.md. Skill references resolve by slug.
func Build(files map[string][]byte) *Graph {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, filepath.Clean(p))
	}
	sort.Strings(paths)

	known := map[string]bool{}
	bySlug := map[string]string{}
	for _, p := range paths {
		known[p] = true
		slug := SlugOf(p)
		if cur, ok := bySlug[slug]; !ok || (filepath.Base(p) == "SKILL.md" && filepath.Base(cur) != "SKILL.md") {
			bySlug[slug] = p
		}
	}

	g := &Graph{Nodes: []Node{}, Broken: []Edge{}, Orphans: []string{}}
	outgoing := map[string][]Edge{}
	incoming := map[string][]Edge{}

	for _, from := range paths {
		for _, ref := range Extract(files[from]) {
			e := Edge{From: from, Type: ref.Type, Line: ref.Line}
			switch ref.Type {
			case RefProjectPath:
				e.To = ref.Target
				outgoing[from] = append(outgoing[from], e)
				g.Edges++
				continue
			case RefMarkdownLink:
				e.To = filepath.Clean(filepath.Join(filepath.Dir(from), filepath.FromSlash(ref.Target)))
				if !known[e.To] && known[filepath.Join(e.To, "SKILL.md")] {
					e.To = filepath.Join(e.To, "SKILL.md")
				}
			case RefSkill:
				if p, ok := bySlug[ref.Target]; ok {
					e.To = p
				} else {
					e.To = ref.Target
				}
			}
			if e.To == from {
				continue
			}
			outgoing[from] = append(outgoing[from], e)
			g.Edges++
			if known[e.To] {
				incoming[e.To] = append(incoming[e.To], e)
			} else {
				g.Broken = append(g.Broken, e)
			}
		}
	}

	for _, p := range paths {
		n := Node{Path: p, Slug: SlugOf(p), Outgoing: outgoing[p], Incoming: incoming[p]}
		if n.Outgoing == nil {
			n.Outgoing = []Edge{}
		}
		if n.Incoming == nil {
			n.Incoming = []Edge{}
		}
		if len(n.Outgoing) == 0 && len(n.Incoming) == 0 {
			g.Orphans = append(g.Orphans, p)
		}
		g.Nodes = append(g.Nodes, n)
	}
	return g
}

// Collect reads every .md file under dirs. Missing directories are skipped and
// symlinks are not followed.
func Collect(dirs ...string) (map[string][]byte, error) {
	files := map[string][]byte{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files[filepath.Clean(path)] = data
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
