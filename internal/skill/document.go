package skill

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("skill: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block was unterminated or unparsable.
	ErrMalformedFrontMatter = errors.New("skill: malformed frontmatter")
)

const timeLayout = time.RFC3339

// Document is a skill content file: explicit metadata fields plus a markdown body.
//
// Render and Parse are inverses: Parse(Render(d)) == d for any document whose
// timestamps are UTC with second precision (NewDocument guarantees this).
type Document struct {
	Name        string
	Description string
	Domain      string
	Author      string
	Created     time.Time
	Updated     time.Time
	Body        string
}

type frontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Domain      string `yaml:"domain,omitempty"`
	Author      string `yaml:"author,omitempty"`
	Created     string `yaml:"created,omitempty"`
	Updated     string `yaml:"updated,omitempty"`
}

// NewDocument builds a document with normalized timestamps.
func NewDocument(name, description, domain string, created, updated time.Time, body string) Document {
	return Document{
		Name:        name,
		Description: description,
		Domain:      domain,
		Created:     Stamp(created),
		Updated:     Stamp(updated),
		Body:        body,
	}
}

// Stamp truncates t to the precision stored in frontmatter.
func Stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Second)
}

// Render writes the document with `---` YAML fences.
func (d Document) Render() ([]byte, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("skill: document missing name")
	}
	fm := frontMatter{
		Name:        d.Name,
		Description: d.Description,
		Domain:      d.Domain,
		Author:      d.Author,
		Created:     formatTime(d.Created),
		Updated:     formatTime(d.Updated),
	}
	data, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("skill: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(data)
	buf.WriteString("---\n\n")
	buf.WriteString(d.Body)
	return buf.Bytes(), nil
}

// Parse reads a document written by Render. Unknown frontmatter keys are ignored.
func Parse(content []byte) (Document, error) {
	meta, body, err := SplitFrontMatter(content)
	if err != nil {
		return Document{}, err
	}
	var fm frontMatter
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	created, err := parseTime(fm.Created)
	if err != nil {
		return Document{}, fmt.Errorf("%w: created: %v", ErrMalformedFrontMatter, err)
	}
	updated, err := parseTime(fm.Updated)
	if err != nil {
		return Document{}, fmt.Errorf("%w: updated: %v", ErrMalformedFrontMatter, err)
	}
	return Document{
		Name:        fm.Name,
		Description: fm.Description,
		Domain:      fm.Domain,
		Author:      fm.Author,
		Created:     created,
		Updated:     updated,
		Body:        string(body),
	}, nil
}

// SplitFrontMatter separates the raw YAML block from the body.
// One blank line after the closing fence belongs to the fence.
func SplitFrontMatter(content []byte) (meta, body []byte, err error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]

	var end, bodyStart int
	switch {
	case bytes.HasPrefix(rest, []byte("---\n")):
		end, bodyStart = 0, 4
	default:
		idx := bytes.Index(rest, []byte("\n---\n"))
		if idx < 0 {
			if bytes.HasSuffix(rest, []byte("\n---")) {
				return rest[:len(rest)-3], nil, nil
			}
			return nil, nil, ErrMalformedFrontMatter
		}
		end, bodyStart = idx+1, idx+5
	}

	meta = rest[:end]
	body = rest[bodyStart:]
	if len(body) > 0 && body[0] == '\n' {
		body = body[1:]
	}
	return meta, body, nil
}

// Fields returns the frontmatter as a flat string map (non-string values are rendered
// with fmt). Used by bundle validation, which must tolerate foreign keys.
func Fields(content []byte) (map[string]string, error) {
	meta, _, err := SplitFrontMatter(content)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(meta, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
