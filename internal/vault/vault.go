// Package vault orchestrates the user-facing operations: checkout, checkin,
// upload, update, delete. Each mutation couples a lock-store transition with
// a history commit inside one exclusive critical section, so the recorded
// history and the lock document can never disagree about what happened.
package vault

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pdm-project/pdm/internal/audit"
	"github.com/pdm-project/pdm/internal/history"
	"github.com/pdm-project/pdm/internal/lockstore"
	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/fsutil"
	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/metrics"
	"github.com/pdm-project/pdm/pkg/model"
	"github.com/pdm-project/pdm/pkg/pathutil"
)

// DefaultMaxUploadBytes bounds managed file payloads when no limit is
// configured.
const DefaultMaxUploadBytes = 64 << 20

// Notifier receives one event per successful state transition. Publish must
// not block; delivery guarantees are the implementation's concern.
type Notifier interface {
	Publish(model.Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(model.Event) {}

type multiNotifier []Notifier

func (m multiNotifier) Publish(event model.Event) {
	for _, n := range m {
		n.Publish(event)
	}
}

// MultiNotifier fans one event stream out to several notifiers.
func MultiNotifier(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

// Options configures optional vault collaborators.
type Options struct {
	Notifier       Notifier
	Metrics        *metrics.Registry
	MaxUploadBytes int64
}

// Vault ties the lock store, the history backend and the audit log together
// over one vault root.
type Vault struct {
	root     string
	info     *repo.Vault
	store    *lockstore.Store
	hist     *history.Backend
	auditLog *audit.FileAppender
	notifier Notifier
	metrics  *metrics.Registry
	maxBytes int64
	logger   *logging.Logger
}

// Open opens an existing vault at root.
func Open(root string, opts Options) (*Vault, error) {
	info, err := repo.Open(root)
	if err != nil {
		return nil, err
	}
	return newVault(info, opts), nil
}

// Init initializes (or reopens) the vault at root and records the initial
// revision of the empty lock store.
func Init(root string, opts Options) (*Vault, error) {
	info, err := repo.Init(root)
	if err != nil {
		return nil, err
	}
	v := newVault(info, opts)
	if _, err := v.hist.Init(); err != nil {
		return nil, err
	}
	return v, nil
}

func newVault(info *repo.Vault, opts Options) *Vault {
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Vault{
		root:     info.Root,
		info:     info,
		store:    lockstore.New(info.Root),
		hist:     history.New(info.Root),
		auditLog: audit.NewFileAppender(repo.AuditPath(info.Root)),
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		maxBytes: opts.MaxUploadBytes,
		logger:   logging.WithFields(map[string]any{"component": "vault"}),
	}
}

// Root returns the vault root directory.
func (v *Vault) Root() string { return v.root }

// ID returns the vault id assigned at initialization.
func (v *Vault) ID() string { return v.info.VaultID }

// Checkout claims the exclusive lock on a managed file for user. The file
// must already exist; the lock transition and its history commit happen in
// one critical section.
func (v *Vault) Checkout(resource, user, reason string) (rec *model.LockRecord, err error) {
	defer v.instrument("checkout", time.Now(), &err)
	if err = pathutil.ValidateResourceName(resource); err != nil {
		return nil, err
	}
	resource = pathutil.NormalizeResourceName(resource)
	if _, statErr := os.Stat(repo.FilePath(v.root, resource)); statErr != nil {
		return nil, errclass.ErrNotFound.WithMessagef("no managed file named %s", resource)
	}

	err = v.store.WithLock(func(tx *lockstore.Tx) error {
		before := tx.Snapshot()
		r, err := tx.Acquire(resource, user, reason)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("checkout %s by %s", resource, user)
		rev, err := v.hist.Commit([]string{repo.LocksFileName}, user, msg)
		if err != nil {
			if rbErr := tx.Restore(before); rbErr != nil {
				v.logger.ErrorErr("rollback after failed commit", rbErr)
			}
			return err
		}
		rec = r
		v.audit(model.EventTypeCheckout, resource, user, rev.ID,
			map[string]any{"reason": reason})
		v.setActiveLocks(tx.Count())
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.notifier.Publish(model.Event{
		Type: model.EventLocked, Resource: resource, Actor: user,
		Timestamp: time.Now().UTC(),
	})
	return rec, nil
}

// Checkin releases the lock on a managed file. A privileged checkin may
// release a lock held by someone else; the commit message and audit record
// then name both the overriding actor and the displaced owner.
func (v *Vault) Checkin(resource, user string, privileged bool) (err error) {
	defer v.instrument("checkin", time.Now(), &err)
	if err = pathutil.ValidateResourceName(resource); err != nil {
		return err
	}
	resource = pathutil.NormalizeResourceName(resource)

	var override bool
	err = v.store.WithLock(func(tx *lockstore.Tx) error {
		before := tx.Snapshot()
		removed, err := tx.Release(resource, user, privileged)
		if err != nil {
			return err
		}
		override = removed.Owner != user

		msg := fmt.Sprintf("checkin %s by %s", resource, user)
		event := model.EventTypeCheckin
		details := map[string]any{}
		if override {
			msg = fmt.Sprintf("admin override: %s released lock on %s held by %s",
				user, resource, removed.Owner)
			event = model.EventTypeCheckinOverride
			details["displaced_owner"] = removed.Owner
		}
		rev, err := v.hist.Commit([]string{repo.LocksFileName}, user, msg)
		if err != nil {
			if rbErr := tx.Restore(before); rbErr != nil {
				v.logger.ErrorErr("rollback after failed commit", rbErr)
			}
			return err
		}
		v.audit(event, resource, user, rev.ID, details)
		v.setActiveLocks(tx.Count())
		return nil
	})
	if err != nil {
		return err
	}

	v.notifier.Publish(model.Event{
		Type: model.EventUnlocked, Resource: resource, Actor: user,
		Timestamp: time.Now().UTC(), Override: override,
	})
	return nil
}

// Upload adds a new managed file. Uploading over an existing name is
// rejected; changing content goes through Checkout and Update.
func (v *Vault) Upload(resource, user string, content []byte) (rev *model.Revision, err error) {
	defer v.instrument("upload", time.Now(), &err)
	if err = pathutil.ValidateResourceName(resource); err != nil {
		return nil, err
	}
	resource = pathutil.NormalizeResourceName(resource)
	if int64(len(content)) > v.maxBytes {
		return nil, errclass.ErrContentTooLarge.WithMessagef(
			"%s is %d bytes, limit is %d", resource, len(content), v.maxBytes)
	}

	path := repo.FilePath(v.root, resource)
	err = v.store.WithLock(func(tx *lockstore.Tx) error {
		if _, statErr := os.Stat(path); statErr == nil {
			return errclass.ErrResourceExists.WithMessagef("%s already exists", resource)
		}
		if err := fsutil.AtomicWrite(path, content, 0644); err != nil {
			return fmt.Errorf("write %s: %w", resource, err)
		}

		r, err := v.hist.Commit([]string{repo.ResourcePath(resource)}, user,
			fmt.Sprintf("upload %s by %s", resource, user))
		if err != nil {
			if rbErr := os.Remove(path); rbErr != nil {
				v.logger.ErrorErr("rollback after failed commit", rbErr)
			}
			return err
		}
		rev = r
		v.audit(model.EventTypeUpload, resource, user, r.ID,
			map[string]any{"size_bytes": len(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.notifier.Publish(model.Event{
		Type: model.EventUploaded, Resource: resource, Actor: user,
		Timestamp: time.Now().UTC(),
	})
	return rev, nil
}

// Update replaces the content of a managed file. The caller must hold the
// file's lock: no lock at all is ErrLockNotHeld, someone else's lock is
// ErrNotAuthorized.
func (v *Vault) Update(resource, user string, content []byte) (rev *model.Revision, err error) {
	defer v.instrument("update", time.Now(), &err)
	if err = pathutil.ValidateResourceName(resource); err != nil {
		return nil, err
	}
	resource = pathutil.NormalizeResourceName(resource)
	if int64(len(content)) > v.maxBytes {
		return nil, errclass.ErrContentTooLarge.WithMessagef(
			"%s is %d bytes, limit is %d", resource, len(content), v.maxBytes)
	}

	path := repo.FilePath(v.root, resource)
	err = v.store.WithLock(func(tx *lockstore.Tx) error {
		rec := tx.Get(resource)
		if rec == nil {
			return errclass.ErrLockNotHeld.WithMessagef(
				"%s is not checked out; checkout before updating", resource)
		}
		if rec.Owner != user {
			return errclass.ErrNotAuthorized.
				WithMessagef("%s is checked out by %s, not %s", resource, rec.Owner, user).
				WithDetail("owner", rec.Owner)
		}

		previous, readErr := os.ReadFile(path)
		if readErr != nil {
			return errclass.ErrNotFound.WithMessagef("no managed file named %s", resource)
		}
		if err := fsutil.AtomicWrite(path, content, 0644); err != nil {
			return fmt.Errorf("write %s: %w", resource, err)
		}

		r, err := v.hist.Commit([]string{repo.ResourcePath(resource)}, user,
			fmt.Sprintf("update %s by %s", resource, user))
		if err != nil {
			if rbErr := fsutil.AtomicWrite(path, previous, 0644); rbErr != nil {
				v.logger.ErrorErr("rollback after failed commit", rbErr)
			}
			return err
		}
		rev = r
		v.audit(model.EventTypeUpdate, resource, user, r.ID,
			map[string]any{"size_bytes": len(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.notifier.Publish(model.Event{
		Type: model.EventUpdated, Resource: resource, Actor: user,
		Timestamp: time.Now().UTC(),
	})
	return rev, nil
}

// Delete removes a managed file. It is a privileged, destructive action:
// callers without the privileged flag are rejected outright. Any lock on
// the file is force-released first and committed as its own revision
// labeling the override, then the removal is committed as a second
// revision. The working copy is gone afterwards but every prior revision
// of the content remains readable.
func (v *Vault) Delete(resource, user string, privileged bool) (err error) {
	defer v.instrument("delete", time.Now(), &err)
	if err = pathutil.ValidateResourceName(resource); err != nil {
		return err
	}
	resource = pathutil.NormalizeResourceName(resource)
	if !privileged {
		return errclass.ErrNotAuthorized.
			WithMessagef("deleting %s requires privilege", resource)
	}

	path := repo.FilePath(v.root, resource)
	var override bool
	err = v.store.WithLock(func(tx *lockstore.Tx) error {
		previous, readErr := os.ReadFile(path)
		if readErr != nil {
			return errclass.ErrNotFound.WithMessagef("no managed file named %s", resource)
		}

		before := tx.Snapshot()
		details := map[string]any{}
		if rec := tx.Get(resource); rec != nil {
			override = rec.Owner != user
			msg := fmt.Sprintf("%s released own lock on %s before delete", user, resource)
			if override {
				details["displaced_owner"] = rec.Owner
				msg = fmt.Sprintf("admin override: %s force-released lock on %s held by %s before delete",
					user, resource, rec.Owner)
			}
			if _, err := tx.Release(resource, user, true); err != nil {
				return err
			}
			relRev, err := v.hist.Commit([]string{repo.LocksFileName}, user, msg)
			if err != nil {
				if rbErr := tx.Restore(before); rbErr != nil {
					v.logger.ErrorErr("rollback after failed commit", rbErr)
				}
				return err
			}
			if override {
				v.audit(model.EventTypeCheckinOverride, resource, user, relRev.ID,
					map[string]any{"displaced_owner": rec.Owner})
			}
		}

		// The force-release, once committed, stands even if the removal
		// fails; restoring the lock would contradict the recorded history.
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", resource, err)
		}

		rev, err := v.hist.Commit([]string{repo.ResourcePath(resource)}, user,
			fmt.Sprintf("delete %s by %s", resource, user))
		if err != nil {
			if rbErr := fsutil.AtomicWrite(path, previous, 0644); rbErr != nil {
				v.logger.ErrorErr("rollback after failed commit", rbErr)
			}
			return err
		}
		v.audit(model.EventTypeDelete, resource, user, rev.ID, details)
		v.setActiveLocks(tx.Count())
		return nil
	})
	if err != nil {
		return err
	}

	v.notifier.Publish(model.Event{
		Type: model.EventDeleted, Resource: resource, Actor: user,
		Timestamp: time.Now().UTC(), Override: override,
	})
	return nil
}

// ListFiles returns every managed file joined with its lock state, sorted
// by name.
func (v *Vault) ListFiles() ([]model.FileInfo, error) {
	entries, err := os.ReadDir(repo.FilesDir(v.root))
	if err != nil {
		return nil, fmt.Errorf("read files dir: %w", err)
	}
	locks, err := v.store.List()
	if err != nil {
		return nil, err
	}
	v.setActiveLocks(len(locks))

	var out []model.FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info := model.FileInfo{
			Name:      entry.Name(),
			SizeBytes: fi.Size(),
			Status:    model.StatusAvailable,
		}
		if rec, ok := locks[entry.Name()]; ok {
			at := rec.AcquiredAt
			info.Status = model.StatusCheckedOut
			info.LockedBy = rec.Owner
			info.LockReason = rec.Reason
			info.LockedAt = &at
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Locks returns the current lock document.
func (v *Vault) Locks() (model.LockStoreDoc, error) {
	return v.store.List()
}

// History returns the revisions that touched a managed file, newest first.
func (v *Vault) History(resource string, limit int) ([]*model.Revision, error) {
	if err := pathutil.ValidateResourceName(resource); err != nil {
		return nil, err
	}
	resource = pathutil.NormalizeResourceName(resource)
	revs, err := v.hist.History(repo.ResourcePath(resource), limit)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, errclass.ErrNotFound.WithMessagef("no history for %s", resource)
	}
	return revs, nil
}

// VaultHistory returns the full revision chain, every operation included.
func (v *Vault) VaultHistory(limit int) ([]*model.Revision, error) {
	return v.hist.History("", limit)
}

// Diff returns the unified diff of a managed file between two revisions.
func (v *Vault) Diff(resource string, from, to model.RevisionID) (string, error) {
	if err := pathutil.ValidateResourceName(resource); err != nil {
		return "", err
	}
	resource = pathutil.NormalizeResourceName(resource)
	return v.hist.Diff(repo.ResourcePath(resource), from, to)
}

// Blame attributes each current line of a managed file to the revision that
// last touched it.
func (v *Vault) Blame(resource string) ([]history.BlameLine, error) {
	if err := pathutil.ValidateResourceName(resource); err != nil {
		return nil, err
	}
	resource = pathutil.NormalizeResourceName(resource)
	return v.hist.Blame(repo.ResourcePath(resource))
}

// ReadAt returns a managed file's content as of the given revision.
func (v *Vault) ReadAt(resource string, id model.RevisionID) ([]byte, error) {
	if err := pathutil.ValidateResourceName(resource); err != nil {
		return nil, err
	}
	resource = pathutil.NormalizeResourceName(resource)
	return v.hist.ReadAt(repo.ResourcePath(resource), id)
}

// Head returns the current head revision id.
func (v *Vault) Head() (model.RevisionID, error) {
	return v.hist.Head()
}

// Revision loads one revision descriptor by id.
func (v *Vault) Revision(id model.RevisionID) (*model.Revision, error) {
	return v.hist.Revision(id)
}

// AuditRecords returns the audit log, oldest first.
func (v *Vault) AuditRecords() ([]*model.AuditRecord, error) {
	return v.auditLog.Records()
}

// VerifyAudit checks the audit log hash chain.
func (v *Vault) VerifyAudit() error {
	return v.auditLog.Verify()
}

// audit appends to the log. The mutation is already durable at this point,
// so a failed append is logged rather than rolled back.
func (v *Vault) audit(event model.AuditEventType, resource, actor string, rev model.RevisionID, details map[string]any) {
	if len(details) == 0 {
		details = nil
	}
	if err := v.auditLog.Append(event, resource, actor, rev, details); err != nil {
		v.logger.ErrorErr("append audit record", err, map[string]any{
			"event_type": string(event), "resource": resource})
	}
}

func (v *Vault) instrument(operation string, start time.Time, err *error) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordOperation(operation, *err, time.Since(start).Seconds())
	if *err != nil && errors.Is(*err, errclass.ErrLockConflict) {
		v.metrics.RecordLockConflict()
	}
}

func (v *Vault) setActiveLocks(n int) {
	if v.metrics != nil {
		v.metrics.SetActiveLocks(n)
	}
}
