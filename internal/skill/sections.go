package skill

import (
	"regexp"
	"strings"
)

// Section is a markdown heading and the byte range of its content.
type Section struct {
	Level        int    // number of leading '#'
	Title        string // heading text, trimmed
	HeaderStart  int    // byte offset of the heading line
	ContentStart int    // byte offset after the heading line
	ContentEnd   int    // byte offset of the next heading or EOF
}

// headerPattern matches markdown headings (h1-h6) at the start of a line.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+([^\n]+?)[ \t]*$`)

// fencePattern matches fenced code block delimiters with 0-3 spaces of indentation.
var fencePattern = regexp.MustCompile("(?m)^[ ]{0,3}(`{3,}|~{3,})")

// numberedPattern matches generated pattern headings such as "1. Retry flaky tests".
var numberedPattern = regexp.MustCompile(`^\d+\.\s+`)

// fencedRanges returns [start, end) byte ranges of fenced code blocks. A closing fence
// must use the same character and be at least as long as the opening one.
func fencedRanges(text string) [][2]int {
	matches := fencePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) < 2 {
		return nil
	}

	var ranges [][2]int
	var openChar byte
	var openLen, openStart int
	inFence := false

	for _, match := range matches {
		fence := text[match[2]:match[3]]
		if !inFence {
			openChar, openLen, openStart = fence[0], len(fence), match[0]
			inFence = true
		} else if fence[0] == openChar && len(fence) >= openLen {
			ranges = append(ranges, [2]int{openStart, match[1]})
			inFence = false
		}
	}
	return ranges
}

func insideFence(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

// ParseSections finds every heading outside fenced code blocks.
func ParseSections(text string) []Section {
	all := headerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(all) == 0 {
		return nil
	}
	fences := fencedRanges(text)

	matches := make([][]int, 0, len(all))
	for _, m := range all {
		if !insideFence(m[0], fences) {
			matches = append(matches, m)
		}
	}

	sections := make([]Section, 0, len(matches))
	for i, m := range matches {
		contentStart := m[1]
		if contentStart < len(text) && text[contentStart] == '\n' {
			contentStart++
		}
		contentEnd := len(text)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		sections = append(sections, Section{
			Level:        m[3] - m[2],
			Title:        strings.TrimSpace(text[m[4]:m[5]]),
			HeaderStart:  m[0],
			ContentStart: contentStart,
			ContentEnd:   contentEnd,
		})
	}
	return sections
}

// HasLevel reports whether any section has the given heading level.
func HasLevel(sections []Section, level int) bool {
	for _, s := range sections {
		if s.Level == level {
			return true
		}
	}
	return false
}

// CountPatternSections counts "## N. title" headings, the shape generated bodies use
// for each contributing pattern.
func CountPatternSections(text string) int {
	n := 0
	for _, s := range ParseSections(text) {
		if s.Level == 2 && numberedPattern.MatchString(s.Title) {
			n++
		}
	}
	return n
}
