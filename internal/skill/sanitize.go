package skill

import (
	"regexp"
	"strings"
)

var (
	unixHomePattern    = regexp.MustCompile(`/(?:Users|home)/[^/\s"'` + "`" + `)\]]+`)
	windowsHomePattern = regexp.MustCompile(`(?i)[A-Z]:[\\/]Users[\\/][^\\/\s"'` + "`" + `)\]]+`)
)

// SanitizePublic strips installation-specific details from skill content so it can be
// shared publicly: absolute home directories become "~" (or %USERPROFILE% for Windows
// paths) and any author key in the frontmatter is dropped.
func SanitizePublic(content []byte) []byte {
	text := string(content)
	text = windowsHomePattern.ReplaceAllString(text, "%USERPROFILE%")
	text = unixHomePattern.ReplaceAllString(text, "~")
	return []byte(dropFrontMatterKey(text, "author"))
}

// LeakMarkers returns the distinct absolute home paths still present in content.
func LeakMarkers(content []byte) []string {
	text := string(content)
	seen := map[string]bool{}
	var out []string
	for _, re := range []*regexp.Regexp{windowsHomePattern, unixHomePattern} {
		for _, m := range re.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// PublicName returns the bundle name used for public exports.
func PublicName(name string) string {
	if strings.HasSuffix(name, "-public") {
		return name
	}
	return name + "-public"
}

func dropFrontMatterKey(text, key string) string {
	if !strings.HasPrefix(text, "---\n") {
		return text
	}
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	b.WriteString(lines[0])
	inFront := true
	for _, line := range lines[1:] {
		if inFront {
			trimmed := strings.TrimSpace(line)
			if trimmed == "---" {
				inFront = false
			} else if strings.HasPrefix(trimmed, key+":") {
				continue
			}
		}
		b.WriteString(line)
	}
	return b.String()
}
