// Package lockstore maintains the persistent mapping of managed file ->
// active lock. Every access goes through the OS-level file lock so that the
// load-check-save sequence is atomic across processes: two concurrent
// checkouts can never both observe "available".
package lockstore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pdm-project/pdm/internal/flock"
	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/fsutil"
	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/model"
)

// Store mediates all access to the lock document.
type Store struct {
	docPath  string
	lockPath string
	logger   *logging.Logger
}

// New creates a store for the vault rooted at root.
func New(root string) *Store {
	return &Store{
		docPath:  repo.LocksPath(root),
		lockPath: repo.LocksLockPath(root),
		logger:   logging.WithFields(map[string]any{"component": "lockstore"}),
	}
}

// Tx is the lock-document state visible inside one exclusive critical
// section. All mutations write the full document back before returning, so
// either the old or the new document is observable, never a torn mix.
type Tx struct {
	s     *Store
	locks model.LockStoreDoc
}

// WithLock runs fn while holding the exclusive OS lock on the store. The
// whole fn body is one critical section; callers extend it to cover the
// history commit that follows a mutation.
func (s *Store) WithLock(fn func(*Tx) error) error {
	h, err := flock.Acquire(s.lockPath, flock.ModeReadWrite)
	if err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	defer h.Release()

	locks, err := s.loadLocked()
	if err != nil {
		return err
	}
	return fn(&Tx{s: s, locks: locks})
}

// Load returns the current full document.
func (s *Store) Load() (model.LockStoreDoc, error) {
	var out model.LockStoreDoc
	err := s.WithLock(func(tx *Tx) error {
		out = tx.Snapshot()
		return nil
	})
	return out, err
}

// List is Load under its user-facing name.
func (s *Store) List() (model.LockStoreDoc, error) {
	return s.Load()
}

// Acquire claims resource for owner in one continuous lock window.
func (s *Store) Acquire(resource, owner, reason string) (*model.LockRecord, error) {
	var rec *model.LockRecord
	err := s.WithLock(func(tx *Tx) error {
		var err error
		rec, err = tx.Acquire(resource, owner, reason)
		return err
	})
	return rec, err
}

// Release removes the lock on resource, enforcing ownership unless
// privileged. It returns the removed record so callers can audit overrides.
func (s *Store) Release(resource, requester string, privileged bool) (*model.LockRecord, error) {
	var rec *model.LockRecord
	err := s.WithLock(func(tx *Tx) error {
		var err error
		rec, err = tx.Release(resource, requester, privileged)
		return err
	})
	return rec, err
}

// Get returns the active record for resource, or nil.
func (tx *Tx) Get(resource string) *model.LockRecord {
	return tx.locks[resource]
}

// Snapshot returns a deep copy of the document.
func (tx *Tx) Snapshot() model.LockStoreDoc {
	return tx.locks.Clone()
}

// Count returns the number of held locks.
func (tx *Tx) Count() int {
	return len(tx.locks)
}

// Acquire inserts a new record, failing with the current owner's identity if
// one already exists. Re-acquiring a lock the same owner already holds is a
// conflict too: the caller must release first.
func (tx *Tx) Acquire(resource, owner, reason string) (*model.LockRecord, error) {
	if existing, ok := tx.locks[resource]; ok {
		return nil, errclass.ErrLockConflict.
			WithMessagef("%s is already checked out by %s", resource, existing.Owner).
			WithDetail("owner", existing.Owner)
	}

	rec := &model.LockRecord{
		Resource:   resource,
		Owner:      owner,
		AcquiredAt: time.Now().UTC(),
		Reason:     reason,
	}
	tx.locks[resource] = rec
	if err := tx.save(); err != nil {
		delete(tx.locks, resource)
		return nil, err
	}
	return rec, nil
}

// Release removes the record for resource. A privileged release of a lock
// owned by someone else is permitted; the returned record lets the caller
// record the override distinctly.
func (tx *Tx) Release(resource, requester string, privileged bool) (*model.LockRecord, error) {
	rec, ok := tx.locks[resource]
	if !ok {
		return nil, errclass.ErrNotFound.WithMessagef("no lock held on %s", resource)
	}
	if rec.Owner != requester && !privileged {
		return nil, errclass.ErrNotAuthorized.
			WithMessagef("lock on %s is held by %s, not %s", resource, rec.Owner, requester).
			WithDetail("owner", rec.Owner)
	}

	delete(tx.locks, resource)
	if err := tx.save(); err != nil {
		tx.locks[resource] = rec
		return nil, err
	}
	return rec, nil
}

// Restore overwrites the document with a previously taken snapshot. Used to
// roll a mutation back when the history commit that follows it fails.
func (tx *Tx) Restore(doc model.LockStoreDoc) error {
	tx.locks = doc.Clone()
	return tx.save()
}

func (tx *Tx) save() error {
	data, err := json.MarshalIndent(tx.locks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock store: %w", err)
	}
	if err := fsutil.AtomicWrite(tx.s.docPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("save lock store: %w", err)
	}
	return nil
}

// loadLocked parses the backing document. Missing or empty parses to an
// empty mapping. A corrupt document is logged and treated as empty: the
// versioned history, not this file, is the source of truth for recovery.
func (s *Store) loadLocked() (model.LockStoreDoc, error) {
	data, err := os.ReadFile(s.docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.LockStoreDoc{}, nil
		}
		return nil, fmt.Errorf("read lock store: %w", err)
	}
	if len(data) == 0 {
		return model.LockStoreDoc{}, nil
	}

	var locks model.LockStoreDoc
	if err := json.Unmarshal(data, &locks); err != nil {
		s.logger.Warn("lock store document corrupt, treating as empty",
			map[string]any{"path": s.docPath, "parse_error": err.Error()})
		return model.LockStoreDoc{}, nil
	}
	if locks == nil {
		locks = model.LockStoreDoc{}
	}
	return locks, nil
}
