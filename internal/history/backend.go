// Package history implements the versioned backend: every mutation to the
// vault becomes an immutable, attributed revision. Revisions form a linear
// chain (no branching) of content-addressed snapshots, which serves as the
// audit trail and the recovery source of truth for the lock store.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdm-project/pdm/internal/integrity"
	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/fsutil"
	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/model"
)

// InitAuthor attributes the revision created by vault initialization.
const InitAuthor = "system"

// Backend records and serves revisions for one vault.
type Backend struct {
	root   string
	logger *logging.Logger
}

// New creates a backend for the vault rooted at root.
func New(root string) *Backend {
	return &Backend{
		root:   root,
		logger: logging.WithFields(map[string]any{"component": "history"}),
	}
}

// Init records the first revision (the empty lock store) if no history
// exists yet. Calling it on an initialized vault returns the current head.
func (b *Backend) Init() (*model.Revision, error) {
	head, err := b.Head()
	if err != nil {
		return nil, err
	}
	if head != "" {
		return b.Revision(head)
	}
	return b.Commit([]string{repo.LocksFileName}, InitAuthor, "initialize vault")
}

// Head returns the current head revision id, or "" when no revision exists.
func (b *Backend) Head() (model.RevisionID, error) {
	data, err := os.ReadFile(repo.HeadPath(b.root))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	return model.RevisionID(strings.TrimSpace(string(data))), nil
}

// Commit snapshots the given vault-relative paths (slash-separated) and
// records one new revision whose parent is the previous head. A path whose
// working copy no longer exists is recorded as removed. The head ref only
// advances after the descriptor is durably written; on any error the
// recorded history is exactly as it was before the call.
func (b *Backend) Commit(paths []string, author, message string) (*model.Revision, error) {
	headID, err := b.Head()
	if err != nil {
		return nil, err
	}

	var parentID *model.RevisionID
	manifest := map[string]string{}
	if headID != "" {
		parent, err := b.Revision(headID)
		if err != nil {
			return nil, err
		}
		parentID = &headID
		for k, v := range parent.Manifest {
			manifest[k] = v
		}
	}

	changed := append([]string(nil), paths...)
	sort.Strings(changed)

	for _, path := range changed {
		data, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(path)))
		if err != nil {
			if os.IsNotExist(err) {
				delete(manifest, path)
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		hash, err := b.writeBlob(data)
		if err != nil {
			return nil, err
		}
		manifest[path] = hash
	}

	rev := &model.Revision{
		ParentID:  parentID,
		Author:    author,
		CreatedAt: nowUTC(),
		Message:   message,
		Changed:   changed,
		Manifest:  manifest,
	}
	id, err := integrity.ComputeRevisionID(rev)
	if err != nil {
		return nil, err
	}
	rev.ID = id

	descData, err := json.MarshalIndent(rev, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal revision: %w", err)
	}
	descPath := filepath.Join(repo.RevisionsDir(b.root), string(id)+".json")
	if err := fsutil.AtomicWrite(descPath, descData, 0644); err != nil {
		return nil, fmt.Errorf("write revision: %w", err)
	}

	if err := fsutil.AtomicWrite(repo.HeadPath(b.root), []byte(string(id)+"\n"), 0644); err != nil {
		// The orphaned descriptor is harmless: head still names the old
		// chain, so the recorded history is unchanged.
		return nil, fmt.Errorf("advance HEAD: %w", err)
	}

	b.logger.Debug("revision recorded", map[string]any{
		"revision": id.ShortID(), "author": author, "changed": changed})
	return rev, nil
}

// Revision loads and verifies one revision descriptor. A missing descriptor
// is ErrNotFound; an unparseable one, or one whose content hash does not
// match its id, is ErrHistoryCorrupt and is never silently repaired.
func (b *Backend) Revision(id model.RevisionID) (*model.Revision, error) {
	path := filepath.Join(repo.RevisionsDir(b.root), string(id)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errclass.ErrNotFound.WithMessagef("revision not found: %s", id)
		}
		return nil, fmt.Errorf("read revision %s: %w", id, err)
	}

	var rev model.Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, errclass.ErrHistoryCorrupt.WithMessagef("parse revision %s: %v", id, err)
	}

	want, err := integrity.ComputeRevisionID(&rev)
	if err != nil {
		return nil, err
	}
	if want != id {
		return nil, errclass.ErrHistoryCorrupt.WithMessagef(
			"revision %s content hash mismatch (got %s)", id.ShortID(), want.ShortID())
	}
	return &rev, nil
}

// History returns the revisions that touched path, most recent first.
// limit <= 0 means unlimited. An empty path matches every revision.
func (b *Backend) History(path string, limit int) ([]*model.Revision, error) {
	headID, err := b.Head()
	if err != nil {
		return nil, err
	}

	var out []*model.Revision
	currentID := headID
	for currentID != "" && (limit <= 0 || len(out) < limit) {
		rev, err := b.Revision(currentID)
		if err != nil {
			return nil, err
		}
		if path == "" || rev.Touched(path) {
			out = append(out, rev)
		}
		if rev.ParentID == nil {
			break
		}
		currentID = *rev.ParentID
	}
	return out, nil
}

// ReadAt returns the content of path exactly as it existed at the given
// revision. A path absent from the revision's manifest is a normal outcome
// (ErrNotFound); a manifest entry whose blob is missing is corruption.
func (b *Backend) ReadAt(path string, id model.RevisionID) ([]byte, error) {
	rev, err := b.Revision(id)
	if err != nil {
		return nil, err
	}
	hash, ok := rev.Manifest[path]
	if !ok {
		return nil, errclass.ErrNotFound.WithMessagef(
			"%s does not exist in revision %s", path, id.ShortID())
	}

	data, err := os.ReadFile(filepath.Join(repo.ObjectsDir(b.root), hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errclass.ErrHistoryCorrupt.WithMessagef(
				"blob %s referenced by revision %s is missing", hash[:8], id.ShortID())
		}
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}

	if integrity.BlobHash(data) != hash {
		return nil, errclass.ErrHistoryCorrupt.WithMessagef("blob %s content mismatch", hash[:8])
	}
	return data, nil
}

// writeBlob stores data content-addressed and returns its hash. Existing
// blobs are left alone: identical content hashes identically.
func (b *Backend) writeBlob(data []byte) (string, error) {
	hash := integrity.BlobHash(data)
	path := filepath.Join(repo.ObjectsDir(b.root), hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := fsutil.AtomicWrite(path, data, 0444); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return hash, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
