package bundle

import (
	"fmt"
	"os"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/skill"
)

// Mismatch is a file whose content no longer matches its recorded checksum.
type Mismatch struct {
	File     string `json:"file"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerifyReport lists every integrity problem in a bundle.
type VerifyReport struct {
	Name       string     `json:"name"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Missing    []string   `json:"missing,omitempty"`
	Unsafe     []string   `json:"unsafe,omitempty"`
	OK         bool       `json:"ok"`
}

// Problems flattens the report into one line per bad file.
func (r *VerifyReport) Problems() []string {
	var out []string
	for _, m := range r.Mismatches {
		out = append(out, fmt.Sprintf("%s: checksum %s, expected %s", m.File, m.Actual, m.Expected))
	}
	for _, f := range r.Missing {
		out = append(out, f+": missing")
	}
	for _, f := range r.Unsafe {
		out = append(out, f)
	}
	return out
}

// Verify recomputes the checksum of every skill and context file. It never stops
// at the first problem. The error is non-nil only when bundle.json cannot be read.
func Verify(dir string) (*VerifyReport, error) {
	b, err := Read(dir)
	if err != nil {
		return nil, err
	}
	r, _ := check(dir, b)
	return r, nil
}

// LoadSkills verifies b and returns every skill's content keyed by slug. Any
// integrity problem fails the whole load with CHECKSUM_MISMATCH.
func LoadSkills(dir string, b *Bundle) (map[string][]byte, error) {
	r, contents := check(dir, b)
	if !r.OK {
		return nil, errors.NewChecksumMismatch(r.Problems())
	}
	return contents, nil
}

func check(dir string, b *Bundle) (*VerifyReport, map[string][]byte) {
	r := &VerifyReport{Name: b.Name}
	contents := map[string][]byte{}

	verify := func(rel, want string) ([]byte, bool) {
		r.Checked++
		path, err := resolve(dir, rel)
		if err != nil {
			r.Unsafe = append(r.Unsafe, err.Error())
			return nil, false
		}
		data, err := os.ReadFile(path)
		if err != nil {
			r.Missing = append(r.Missing, rel)
			return nil, false
		}
		if got := skill.Checksum(data); got != want {
			r.Mismatches = append(r.Mismatches, Mismatch{File: rel, Expected: want, Actual: got})
			return nil, false
		}
		return data, true
	}

	for _, e := range b.Skills {
		if data, ok := verify(e.File, e.Checksum); ok {
			contents[e.Slug] = data
		}
	}
	for _, c := range b.Context {
		verify(c.File, c.Checksum)
	}
	r.OK = len(r.Mismatches) == 0 && len(r.Missing) == 0 && len(r.Unsafe) == 0
	return r, contents
}
