package skill

import "testing"

func TestParseSections(t *testing.T) {
	text := "# Title\n\nintro\n\n## 1. First\n\nbody\n\n```md\n## not a heading\n```\n\n## Notes\ntext\n"
	sections := ParseSections(text)

	if len(sections) != 3 {
		t.Fatalf("len(sections) = %d, want 3: %+v", len(sections), sections)
	}
	if sections[0].Level != 1 || sections[0].Title != "Title" {
		t.Errorf("sections[0] = %+v", sections[0])
	}
	if sections[1].Title != "1. First" {
		t.Errorf("sections[1].Title = %q", sections[1].Title)
	}
	if got := text[sections[2].ContentStart:sections[2].ContentEnd]; got != "text\n" {
		t.Errorf("Notes content = %q", got)
	}
}

func TestParseSections_NoHeadings(t *testing.T) {
	if s := ParseSections("plain text\n"); s != nil {
		t.Errorf("ParseSections() = %v, want nil", s)
	}
}

func TestParseSections_UnclosedFenceKeepsHeadings(t *testing.T) {
	text := "## A\n```\n## B\n"
	if n := len(ParseSections(text)); n != 2 {
		t.Errorf("len(sections) = %d, want 2 (single fence does not open a block)", n)
	}
}

func TestCountPatternSections(t *testing.T) {
	text := "# go-dev\n\n## 1. Tables\n\n### Steps\n\n## 2. Fuzz\n\n## Notes\n"
	if n := CountPatternSections(text); n != 2 {
		t.Errorf("CountPatternSections() = %d, want 2", n)
	}
	if !HasLevel(ParseSections(text), 3) {
		t.Error("HasLevel(3) = false, want true")
	}
}
