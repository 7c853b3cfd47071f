package skill

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDocument_RoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 15, 999, time.FixedZone("JST", 9*3600))
	tests := []struct {
		name string
		doc  Document
	}{
		{
			name: "plain",
			doc:  NewDocument("go-dev", "Use when writing Go services", "go-dev", created, created.Add(time.Hour), "# Go\n\n## 1. Table tests\n\nbody\n"),
		},
		{
			name: "description needs quoting",
			doc:  NewDocument("misc-2", `Use when: "quoted" text, colons: and # hashes`, "misc", created, created, "body"),
		},
		{
			name: "body starts with blank line and contains fences",
			doc:  NewDocument("docs", "d", "", time.Time{}, time.Time{}, "\n\n---\nnot frontmatter\n---\n"),
		},
		{
			name: "empty body",
			doc:  NewDocument("empty", "", "", time.Time{}, time.Time{}, ""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.doc.Render()
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			got, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !sameDocument(got, tt.doc) {
				t.Errorf("Parse(Render(d)) = %+v, want %+v", got, tt.doc)
			}
			again, err := got.Render()
			if err != nil {
				t.Fatalf("Render() second pass error = %v", err)
			}
			if string(again) != string(data) {
				t.Errorf("Render not stable:\n%s\nvs\n%s", again, data)
			}
		})
	}
}

func TestDocument_RenderRequiresName(t *testing.T) {
	if _, err := (Document{Body: "x"}).Render(); err == nil {
		t.Fatal("Render() expected error for missing name")
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("# no frontmatter\n")); !errors.Is(err, ErrMissingFrontMatter) {
		t.Errorf("Parse() error = %v, want ErrMissingFrontMatter", err)
	}
	if _, err := Parse([]byte("---\nname: x\nbody without close\n")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Errorf("Parse() error = %v, want ErrMalformedFrontMatter", err)
	}
	if _, err := Parse([]byte("---\nname: [unclosed\n---\n")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Errorf("Parse() error = %v, want ErrMalformedFrontMatter", err)
	}
}

func TestParse_ForeignKeysAndCRLF(t *testing.T) {
	content := "---\r\nname: review\r\nallowed-tools: Bash\r\ndescription: Review PRs\r\n---\r\n\r\nBody\r\n"
	doc, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Name != "review" || doc.Description != "Review PRs" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Body != "Body\n" {
		t.Errorf("Body = %q, want %q", doc.Body, "Body\n")
	}
}

func TestFields(t *testing.T) {
	fields, err := Fields([]byte("---\nname: x\nversion: 2\nempty:\n---\nbody"))
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}
	if fields["name"] != "x" || fields["version"] != "2" {
		t.Errorf("Fields() = %v", fields)
	}
	if v, ok := fields["empty"]; !ok || v != "" {
		t.Errorf("Fields()[empty] = %q, %v", v, ok)
	}
}

func TestSanitizePublic(t *testing.T) {
	in := "---\nname: x\nauthor: alice\n---\n\nSee /Users/alice/proj and /home/bob/.config and C:\\Users\\carol\\repo.\nauthor: stays in body\n"
	out := string(SanitizePublic([]byte(in)))

	for _, leak := range []string{"/Users/alice", "/home/bob", `C:\Users\carol`, "author: alice"} {
		if strings.Contains(out, leak) {
			t.Errorf("sanitized output still contains %q:\n%s", leak, out)
		}
	}
	if !strings.Contains(out, "~/proj") || !strings.Contains(out, `%USERPROFILE%\repo`) {
		t.Errorf("unexpected replacement:\n%s", out)
	}
	if !strings.Contains(out, "author: stays in body") {
		t.Error("body author line should survive")
	}
	if len(LeakMarkers([]byte(out))) != 0 {
		t.Errorf("LeakMarkers(sanitized) = %v, want none", LeakMarkers([]byte(out)))
	}
	if n := len(LeakMarkers([]byte(in))); n != 3 {
		t.Errorf("LeakMarkers(raw) = %d markers, want 3", n)
	}
}

func TestPublicName(t *testing.T) {
	if got := PublicName("team"); got != "team-public" {
		t.Errorf("PublicName = %q", got)
	}
	if got := PublicName("team-public"); got != "team-public" {
		t.Errorf("PublicName should be idempotent, got %q", got)
	}
}

func sameDocument(a, b Document) bool {
	return a.Name == b.Name && a.Description == b.Description && a.Domain == b.Domain &&
		a.Author == b.Author && a.Body == b.Body &&
		a.Created.Equal(b.Created) && a.Updated.Equal(b.Updated)
}
