package history

import (
	"errors"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/model"
)

// BlameLine pairs one current line of a path with the revision that
// introduced or last touched it.
type BlameLine struct {
	Line     string          `json:"line"`
	Revision *model.Revision `json:"revision"`
}

// Blame attributes every line of path as of the head revision. It replays
// the revisions that touched the path oldest-first, carrying line ownership
// forward across unchanged regions.
func (b *Backend) Blame(path string) ([]BlameLine, error) {
	revs, err := b.History(path, 0)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, errclass.ErrNotFound.WithMessagef("no history for %s", path)
	}

	// History is newest-first; replay oldest-first.
	for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
		revs[i], revs[j] = revs[j], revs[i]
	}

	var lines []string
	var owners []*model.Revision

	for _, rev := range revs {
		data, err := b.ReadAt(path, rev.ID)
		if err != nil {
			if errors.Is(err, errclass.ErrNotFound) {
				// The revision removed the path; ownership starts over if
				// a later revision re-adds it.
				lines, owners = nil, nil
				continue
			}
			return nil, err
		}

		newLines := splitLines(string(data))
		newOwners := make([]*model.Revision, len(newLines))

		matcher := difflib.NewMatcher(lines, newLines)
		for _, op := range matcher.GetOpCodes() {
			switch op.Tag {
			case 'e':
				copy(newOwners[op.J1:op.J2], owners[op.I1:op.I2])
			case 'r', 'i':
				for j := op.J1; j < op.J2; j++ {
					newOwners[j] = rev
				}
			}
		}

		lines, owners = newLines, newOwners
	}

	out := make([]BlameLine, len(lines))
	for i := range lines {
		out[i] = BlameLine{Line: strings.TrimSuffix(lines[i], "\n"), Revision: owners[i]}
	}
	return out, nil
}

// splitLines keeps newlines attached (matcher input) but drops the
// phantom empty line a trailing newline would otherwise produce.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
