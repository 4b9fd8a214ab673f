package vault_test

import (
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/internal/vault"
	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/metrics"
	"github.com/pdm-project/pdm/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []model.Event
}

func (n *captureNotifier) Publish(e model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *captureNotifier) last(t *testing.T) model.Event {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.events)
	return n.events[len(n.events)-1]
}

func setupVault(t *testing.T) (*vault.Vault, *captureNotifier) {
	notifier := &captureNotifier{}
	v, err := vault.Init(t.TempDir(), vault.Options{
		Notifier: notifier,
		Metrics:  metrics.NewRegistry(),
	})
	require.NoError(t, err)
	return v, notifier
}

func mustUpload(t *testing.T, v *vault.Vault, name, content, user string) {
	t.Helper()
	_, err := v.Upload(name, user, []byte(content))
	require.NoError(t, err)
}

func TestCheckout_ConflictNamesOwner(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "G0 X0\n", "alice")

	rec, err := v.Checkout("PN1001.mcam", "alice", "editing fixture")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)

	_, err = v.Checkout("PN1001.mcam", "bob", "need it too")
	require.ErrorIs(t, err, errclass.ErrLockConflict)
	assert.Equal(t, "alice", errclass.Owner(err))
}

func TestCheckin_WrongUserRejected(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "content\n", "alice")

	_, err := v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	err = v.Checkin("PN1001.mcam", "bob", false)
	require.ErrorIs(t, err, errclass.ErrNotAuthorized)
	assert.Equal(t, "alice", errclass.Owner(err))

	locks, err := v.Locks()
	require.NoError(t, err)
	assert.Contains(t, locks, "PN1001.mcam", "lock survives the rejected checkin")
}

func TestCheckin_OwnerReleases(t *testing.T) {
	v, notifier := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "content\n", "alice")

	_, err := v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)
	require.NoError(t, v.Checkin("PN1001.mcam", "alice", false))

	locks, err := v.Locks()
	require.NoError(t, err)
	assert.Empty(t, locks)

	e := notifier.last(t)
	assert.Equal(t, model.EventUnlocked, e.Type)
	assert.False(t, e.Override)
}

func TestCheckin_PrivilegedOverrideIsAudited(t *testing.T) {
	v, notifier := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "content\n", "alice")

	_, err := v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	require.NoError(t, v.Checkin("PN1001.mcam", "admin", true))

	locks, err := v.Locks()
	require.NoError(t, err)
	assert.Empty(t, locks)

	// The commit message names both the overriding actor and the owner.
	revs, err := v.VaultHistory(1)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Contains(t, revs[0].Message, "admin override")
	assert.Contains(t, revs[0].Message, "alice")
	assert.Equal(t, "admin", revs[0].Author)

	records, err := v.AuditRecords()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, model.EventTypeCheckinOverride, last.EventType)
	assert.Equal(t, "admin", last.Actor)
	assert.Equal(t, "alice", last.Details["displaced_owner"])

	e := notifier.last(t)
	assert.Equal(t, model.EventUnlocked, e.Type)
	assert.True(t, e.Override)
}

func TestUpload_NewFileAppearsInHistory(t *testing.T) {
	v, notifier := setupVault(t)

	rev, err := v.Upload("PN2002.mcam", "carol", []byte("G0 X0 Y0\n"))
	require.NoError(t, err)
	assert.Equal(t, "carol", rev.Author)

	revs, err := v.History("PN2002.mcam", 0)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, rev.ID, revs[0].ID)

	data, err := v.ReadAt("PN2002.mcam", rev.ID)
	require.NoError(t, err)
	assert.Equal(t, "G0 X0 Y0\n", string(data))

	assert.Equal(t, model.EventUploaded, notifier.last(t).Type)
}

func TestUpload_ExistingNameRejected(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "v1\n", "alice")

	_, err := v.Upload("PN1001.mcam", "bob", []byte("v2\n"))
	require.ErrorIs(t, err, errclass.ErrResourceExists)

	data, err := os.ReadFile(repo.FilePath(v.Root(), "PN1001.mcam"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))
}

func TestUpload_TraversalRejectedBeforeLocking(t *testing.T) {
	v, _ := setupVault(t)

	_, err := v.Upload("../escape.mcam", "mallory", []byte("x"))
	require.ErrorIs(t, err, errclass.ErrPathEscape)

	_, err = v.Upload("sub/dir.mcam", "mallory", []byte("x"))
	require.ErrorIs(t, err, errclass.ErrPathEscape)
}

func TestUpload_EquivalentSpellingsShareOneKey(t *testing.T) {
	v, _ := setupVault(t)
	decomposed := "re\u0301sume.mcam" // e + combining acute
	composed := "r\u00e9sume.mcam"
	mustUpload(t, v, decomposed, "v1\n", "alice")

	// Both spellings address the same managed file and the same lock key.
	_, err := v.Checkout(composed, "alice", "editing")
	require.NoError(t, err)

	locks, err := v.Locks()
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Contains(t, locks, composed)

	_, err = v.Checkout(decomposed, "bob", "want it too")
	require.ErrorIs(t, err, errclass.ErrLockConflict)

	data, err := os.ReadFile(repo.FilePath(v.Root(), composed))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))
}

func TestUpload_SizeLimit(t *testing.T) {
	notifier := &captureNotifier{}
	v, err := vault.Init(t.TempDir(), vault.Options{Notifier: notifier, MaxUploadBytes: 8})
	require.NoError(t, err)

	_, err = v.Upload("big.mcam", "alice", []byte("123456789"))
	require.ErrorIs(t, err, errclass.ErrContentTooLarge)
}

func TestUpdate_RequiresHeldLock(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "v1\n", "alice")

	_, err := v.Update("PN1001.mcam", "alice", []byte("v2\n"))
	require.ErrorIs(t, err, errclass.ErrLockNotHeld)

	_, err = v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	_, err = v.Update("PN1001.mcam", "bob", []byte("v2\n"))
	require.ErrorIs(t, err, errclass.ErrNotAuthorized)
	assert.Equal(t, "alice", errclass.Owner(err))

	rev, err := v.Update("PN1001.mcam", "alice", []byte("v2\n"))
	require.NoError(t, err)

	data, err := v.ReadAt("PN1001.mcam", rev.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(data))
}

func TestDiff_AcrossUploadAndUpdate(t *testing.T) {
	v, _ := setupVault(t)

	rev1, err := v.Upload("PN1001.mcam", "alice", []byte("G0 X0\nG1 X5\n"))
	require.NoError(t, err)

	_, err = v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)
	rev2, err := v.Update("PN1001.mcam", "alice", []byte("G0 X0\nG1 X9\n"))
	require.NoError(t, err)

	text, err := v.Diff("PN1001.mcam", rev1.ID, rev2.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "-G1 X5")
	assert.Contains(t, text, "+G1 X9")

	blame, err := v.Blame("PN1001.mcam")
	require.NoError(t, err)
	require.Len(t, blame, 2)
	assert.Equal(t, rev1.ID, blame[0].Revision.ID)
	assert.Equal(t, rev2.ID, blame[1].Revision.ID)
}

func TestDelete_RequiresPrivilege(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "content\n", "alice")

	// Even an unlocked file may only be deleted with the privileged flag.
	err := v.Delete("PN1001.mcam", "bob", false)
	require.ErrorIs(t, err, errclass.ErrNotAuthorized)

	// Holding the lock yourself does not substitute for privilege.
	_, err = v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)
	err = v.Delete("PN1001.mcam", "alice", false)
	require.ErrorIs(t, err, errclass.ErrNotAuthorized)

	_, statErr := os.Stat(repo.FilePath(v.Root(), "PN1001.mcam"))
	assert.NoError(t, statErr, "rejected deletes must not touch the file")
}

func TestDelete_RemovesFileAndLock(t *testing.T) {
	v, notifier := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "content\n", "alice")

	rev1, err := v.History("PN1001.mcam", 1)
	require.NoError(t, err)

	_, err = v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	require.NoError(t, v.Delete("PN1001.mcam", "alice", true))

	_, err = os.Stat(repo.FilePath(v.Root(), "PN1001.mcam"))
	assert.True(t, os.IsNotExist(err))

	locks, err := v.Locks()
	require.NoError(t, err)
	assert.Empty(t, locks)

	// Prior content stays readable through history.
	data, err := v.ReadAt("PN1001.mcam", rev1[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "content\n", string(data))

	assert.Equal(t, model.EventDeleted, notifier.last(t).Type)
}

func TestDelete_LockedFileProducesTwoRevisions(t *testing.T) {
	v, notifier := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "content\n", "alice")

	_, err := v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	chainBefore, err := v.VaultHistory(0)
	require.NoError(t, err)

	require.NoError(t, v.Delete("PN1001.mcam", "admin", true))

	chain, err := v.VaultHistory(0)
	require.NoError(t, err)
	require.Len(t, chain, len(chainBefore)+2,
		"force-release and removal are separate revisions")

	// Newest first: the removal, then the override-labeled release.
	assert.Contains(t, chain[0].Message, "delete PN1001.mcam")
	assert.Equal(t, []string{"files/PN1001.mcam"}, chain[0].Changed)
	assert.Contains(t, chain[1].Message, "admin override")
	assert.Contains(t, chain[1].Message, "alice")
	assert.Equal(t, []string{"locks.json"}, chain[1].Changed)

	assert.True(t, notifier.last(t).Override)
}

func TestListFiles_JoinsLockState(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "a.mcam", "a\n", "alice")
	mustUpload(t, v, "b.mcam", "b\n", "bob")

	_, err := v.Checkout("b.mcam", "bob", "milling")
	require.NoError(t, err)

	files, err := v.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "a.mcam", files[0].Name)
	assert.Equal(t, model.StatusAvailable, files[0].Status)
	assert.Empty(t, files[0].LockedBy)

	assert.Equal(t, "b.mcam", files[1].Name)
	assert.Equal(t, model.StatusCheckedOut, files[1].Status)
	assert.Equal(t, "bob", files[1].LockedBy)
	assert.Equal(t, "milling", files[1].LockReason)
	require.NotNil(t, files[1].LockedAt)
}

func TestCorruptLockDocument_FailsOpenButHistorySurvives(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "content\n", "alice")
	_, err := v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(repo.LocksPath(v.Root()), []byte("{truncated"), 0644))

	// The store loads empty; the vault remains operational.
	locks, err := v.Locks()
	require.NoError(t, err)
	assert.Empty(t, locks)

	// History still records the checkout that preceded the corruption.
	revs, err := v.VaultHistory(0)
	require.NoError(t, err)
	var found bool
	for _, r := range revs {
		if strings.Contains(r.Message, "checkout PN1001.mcam") {
			found = true
		}
	}
	assert.True(t, found, "history is the recovery source after lock store corruption")
}

func TestHistory_UnknownResource(t *testing.T) {
	v, _ := setupVault(t)

	_, err := v.History("never.mcam", 0)
	require.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestAuditChain_VerifiesAfterMixedOperations(t *testing.T) {
	v, _ := setupVault(t)
	mustUpload(t, v, "PN1001.mcam", "v1\n", "alice")
	_, err := v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)
	_, err = v.Update("PN1001.mcam", "alice", []byte("v2\n"))
	require.NoError(t, err)
	require.NoError(t, v.Checkin("PN1001.mcam", "alice", false))

	require.NoError(t, v.VerifyAudit())

	records, err := v.AuditRecords()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, model.EventTypeUpload, records[0].EventType)
	assert.Equal(t, model.EventTypeCheckout, records[1].EventType)
	assert.Equal(t, model.EventTypeUpdate, records[2].EventType)
	assert.Equal(t, model.EventTypeCheckin, records[3].EventType)
}
