package lockstore_test

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/pdm-project/pdm/internal/lockstore"
	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*lockstore.Store, string) {
	dir := t.TempDir()
	_, err := repo.Init(dir)
	require.NoError(t, err)
	return lockstore.New(dir), dir
}

func TestAcquire_EmptyStore(t *testing.T) {
	s, _ := setupStore(t)

	rec, err := s.Acquire("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, "PN1001.mcam", rec.Resource)
	assert.Equal(t, "editing", rec.Reason)
	assert.False(t, rec.AcquiredAt.IsZero())

	locks, err := s.List()
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "alice", locks["PN1001.mcam"].Owner)
}

func TestAcquire_Conflict(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Acquire("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	_, err = s.Acquire("PN1001.mcam", "bob", "need it")
	require.ErrorIs(t, err, errclass.ErrLockConflict)
	assert.Equal(t, "alice", errclass.Owner(err))

	// Store unchanged.
	locks, err := s.List()
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "alice", locks["PN1001.mcam"].Owner)
}

func TestAcquire_SameOwnerIsConflict(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Acquire("PN1001.mcam", "alice", "first")
	require.NoError(t, err)

	_, err = s.Acquire("PN1001.mcam", "alice", "again")
	require.ErrorIs(t, err, errclass.ErrLockConflict)
}

func TestRelease_WrongUser(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Acquire("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	_, err = s.Release("PN1001.mcam", "bob", false)
	require.ErrorIs(t, err, errclass.ErrNotAuthorized)
	assert.Equal(t, "alice", errclass.Owner(err))

	locks, _ := s.List()
	assert.Len(t, locks, 1)
}

func TestRelease_Owner(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Acquire("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	rec, err := s.Release("PN1001.mcam", "alice", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)

	locks, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestRelease_Privileged(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Acquire("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	rec, err := s.Release("PN1001.mcam", "admin", true)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner, "returned record names the original owner")

	locks, _ := s.List()
	assert.Empty(t, locks)
}

func TestRelease_NotLocked(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Release("PN1001.mcam", "alice", false)
	require.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestLoad_CorruptDocumentFailsOpen(t *testing.T) {
	s, dir := setupStore(t)

	require.NoError(t, os.WriteFile(repo.LocksPath(dir), []byte("{truncated"), 0644))

	locks, err := s.Load()
	require.NoError(t, err, "corrupt document must not be fatal")
	assert.Empty(t, locks)

	// The store is usable again after the next write.
	_, err = s.Acquire("PN1001.mcam", "alice", "recovering")
	require.NoError(t, err)
	locks, _ = s.List()
	assert.Len(t, locks, 1)
}

func TestRoundTrip_ManyEntries(t *testing.T) {
	s, _ := setupStore(t)

	names := []string{"a.mcam", "b.mcam", "c.mcam", "d.mcam"}
	for _, n := range names {
		_, err := s.Acquire(n, "alice", "batch")
		require.NoError(t, err)
	}

	locks, err := s.Load()
	require.NoError(t, err)
	require.Len(t, locks, len(names))
	for _, n := range names {
		assert.Equal(t, "alice", locks[n].Owner)
	}
}

func TestAcquire_ConcurrentSameResource(t *testing.T) {
	s, _ := setupStore(t)

	const contenders = 8
	errs := make([]error, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Acquire("PN1001.mcam", "user", "race")
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errclass.ErrLockConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one checkout must win")
	assert.Equal(t, contenders-1, conflicts)
}

func TestAcquire_ConcurrentDifferentResources(t *testing.T) {
	s, _ := setupStore(t)

	names := []string{"a.mcam", "b.mcam", "c.mcam", "d.mcam", "e.mcam"}
	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			_, err := s.Acquire(n, "user-"+n, "parallel")
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	locks, err := s.List()
	require.NoError(t, err)
	assert.Len(t, locks, len(names))
}
