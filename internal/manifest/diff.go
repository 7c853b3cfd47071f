package manifest

import (
	"bytes"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffStatus classifies a draft against its deployed copy.
type DiffStatus string

const (
	DiffNew       DiffStatus = "new"       // no deployed copy
	DiffIdentical DiffStatus = "identical" // byte-identical
	DiffChanged   DiffStatus = "changed"
)

// DiffResult is the textual comparison of a draft and its deployed copy.
type DiffResult struct {
	Slug    string     `json:"slug"`
	Status  DiffStatus `json:"status"`
	Added   int        `json:"added"`
	Removed int        `json:"removed"`
	Unified string     `json:"unified,omitempty"`
}

// Diff compares draft content against the deployed copy. deployed == nil means
// nothing is deployed. Diff never mutates anything.
func Diff(slug string, draft, deployed []byte) DiffResult {
	res := DiffResult{Slug: slug}
	if deployed == nil {
		res.Status = DiffNew
		res.Added = lineCount(draft)
		return res
	}
	if string(draft) == string(deployed) {
		res.Status = DiffIdentical
		return res
	}

	a := difflib.SplitLines(string(deployed))
	b := difflib.SplitLines(string(draft))
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'r':
			res.Removed += op.I2 - op.I1
			res.Added += op.J2 - op.J1
		case 'd':
			res.Removed += op.I2 - op.I1
		case 'i':
			res.Added += op.J2 - op.J1
		}
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "deployed/" + slug,
		ToFile:   "draft/" + slug,
		Context:  3,
	})
	if err == nil {
		res.Unified = unified
	}
	res.Status = DiffChanged
	return res
}

func lineCount(b []byte) int {
	n := bytes.Count(b, []byte("\n"))
	if len(b) > 0 && b[len(b)-1] != '\n' {
		n++
	}
	return n
}
