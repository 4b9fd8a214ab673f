package history

import (
	"errors"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/model"
)

// Diff returns a unified line-level diff of path between two revisions.
// A revision in which the path does not exist contributes empty content,
// so adding or removing the file diffs cleanly.
func (b *Backend) Diff(path string, from, to model.RevisionID) (string, error) {
	fromData, err := b.readAtOrEmpty(path, from)
	if err != nil {
		return "", err
	}
	toData, err := b.readAtOrEmpty(path, to)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(fromData)),
		B:        difflib.SplitLines(string(toData)),
		FromFile: fmt.Sprintf("%s@%s", path, from.ShortID()),
		ToFile:   fmt.Sprintf("%s@%s", path, to.ShortID()),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("compute diff: %w", err)
	}
	return text, nil
}

func (b *Backend) readAtOrEmpty(path string, id model.RevisionID) ([]byte, error) {
	data, err := b.ReadAt(path, id)
	if err != nil {
		// Path absent from this revision is expected; a missing revision
		// or corrupt history is not.
		if errors.Is(err, errclass.ErrNotFound) && b.revisionExists(id) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *Backend) revisionExists(id model.RevisionID) bool {
	_, err := b.Revision(id)
	return err == nil
}
