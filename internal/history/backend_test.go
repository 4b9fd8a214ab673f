package history_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdm-project/pdm/internal/history"
	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBackend(t *testing.T) (*history.Backend, string) {
	dir := t.TempDir()
	_, err := repo.Init(dir)
	require.NoError(t, err)
	b := history.New(dir)
	_, err = b.Init()
	require.NoError(t, err)
	return b, dir
}

func writeManaged(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := repo.FilePath(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return repo.ResourcePath(name)
}

func TestInit_RecordsFirstRevision(t *testing.T) {
	b, _ := setupBackend(t)

	head, err := b.Head()
	require.NoError(t, err)
	require.NotEmpty(t, head)

	rev, err := b.Revision(head)
	require.NoError(t, err)
	assert.Equal(t, history.InitAuthor, rev.Author)
	assert.Nil(t, rev.ParentID)
	assert.Contains(t, rev.Manifest, repo.LocksFileName)
}

func TestInit_Idempotent(t *testing.T) {
	b, _ := setupBackend(t)

	before, err := b.Head()
	require.NoError(t, err)

	rev, err := b.Init()
	require.NoError(t, err)
	assert.Equal(t, before, rev.ID)

	after, err := b.Head()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCommit_AdvancesLinearChain(t *testing.T) {
	b, dir := setupBackend(t)

	first, err := b.Head()
	require.NoError(t, err)

	p := writeManaged(t, dir, "PN2002.mcam", "G0 X0 Y0\n")
	rev, err := b.Commit([]string{p}, "carol", "upload PN2002.mcam")
	require.NoError(t, err)

	require.NotNil(t, rev.ParentID)
	assert.Equal(t, first, *rev.ParentID)
	assert.Equal(t, "carol", rev.Author)
	assert.Contains(t, rev.Manifest, p)
	assert.Contains(t, rev.Manifest, repo.LocksFileName, "manifest carries forward")

	head, err := b.Head()
	require.NoError(t, err)
	assert.Equal(t, rev.ID, head)
}

func TestHistory_NewestFirstExactCount(t *testing.T) {
	b, dir := setupBackend(t)

	p := writeManaged(t, dir, "PN2002.mcam", "v1\n")
	var ids []model.RevisionID
	for _, content := range []string{"v1\n", "v2\n", "v3\n"} {
		writeManaged(t, dir, "PN2002.mcam", content)
		rev, err := b.Commit([]string{p}, "carol", "edit "+content)
		require.NoError(t, err)
		ids = append(ids, rev.ID)
	}

	revs, err := b.History(p, 0)
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, ids[2], revs[0].ID)
	assert.Equal(t, ids[1], revs[1].ID)
	assert.Equal(t, ids[0], revs[2].ID)

	limited, err := b.History(p, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[2], limited[0].ID)
}

func TestHistory_RepeatedReadsStable(t *testing.T) {
	b, dir := setupBackend(t)

	p := writeManaged(t, dir, "PN2002.mcam", "stable\n")
	rev, err := b.Commit([]string{p}, "carol", "upload")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := b.Revision(rev.ID)
		require.NoError(t, err)
		assert.Equal(t, rev.Manifest, again.Manifest)
		assert.Equal(t, rev.Message, again.Message)
	}
}

func TestReadAt_HistoricalContent(t *testing.T) {
	b, dir := setupBackend(t)

	p := writeManaged(t, dir, "PN2002.mcam", "old content\n")
	rev1, err := b.Commit([]string{p}, "carol", "v1")
	require.NoError(t, err)

	writeManaged(t, dir, "PN2002.mcam", "new content\n")
	rev2, err := b.Commit([]string{p}, "carol", "v2")
	require.NoError(t, err)

	old, err := b.ReadAt(p, rev1.ID)
	require.NoError(t, err)
	assert.Equal(t, "old content\n", string(old))

	cur, err := b.ReadAt(p, rev2.ID)
	require.NoError(t, err)
	assert.Equal(t, "new content\n", string(cur))

	// The working copy is untouched by historical reads.
	disk, _ := os.ReadFile(repo.FilePath(dir, "PN2002.mcam"))
	assert.Equal(t, "new content\n", string(disk))
}

func TestReadAt_PathAbsentIsNotFound(t *testing.T) {
	b, _ := setupBackend(t)

	head, err := b.Head()
	require.NoError(t, err)

	_, err = b.ReadAt("files/never-added.mcam", head)
	require.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestCommit_RemovalDropsManifestEntry(t *testing.T) {
	b, dir := setupBackend(t)

	p := writeManaged(t, dir, "PN2002.mcam", "content\n")
	_, err := b.Commit([]string{p}, "carol", "upload")
	require.NoError(t, err)

	require.NoError(t, os.Remove(repo.FilePath(dir, "PN2002.mcam")))
	rev, err := b.Commit([]string{p}, "admin", "delete PN2002.mcam")
	require.NoError(t, err)

	assert.NotContains(t, rev.Manifest, p)
	_, err = b.ReadAt(p, rev.ID)
	require.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestRevision_CorruptDescriptorIsFatal(t *testing.T) {
	b, dir := setupBackend(t)

	head, err := b.Head()
	require.NoError(t, err)

	descPath := filepath.Join(repo.RevisionsDir(dir), string(head)+".json")
	require.NoError(t, os.WriteFile(descPath, []byte("{not json"), 0644))

	_, err = b.Revision(head)
	require.ErrorIs(t, err, errclass.ErrHistoryCorrupt)
}

func TestRevision_TamperedDescriptorIsFatal(t *testing.T) {
	b, dir := setupBackend(t)

	p := writeManaged(t, dir, "PN2002.mcam", "content\n")
	rev, err := b.Commit([]string{p}, "carol", "upload")
	require.NoError(t, err)

	// Rewrite the descriptor with a different author; the content-derived
	// id no longer matches.
	descPath := filepath.Join(repo.RevisionsDir(dir), string(rev.ID)+".json")
	data, err := os.ReadFile(descPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"carol"`, `"mallory"`, 1)
	require.NoError(t, os.WriteFile(descPath, []byte(tampered), 0644))

	_, err = b.Revision(rev.ID)
	require.ErrorIs(t, err, errclass.ErrHistoryCorrupt)
}

func TestRevision_MissingIsNotFound(t *testing.T) {
	b, _ := setupBackend(t)

	_, err := b.Revision("deadbeef")
	require.ErrorIs(t, err, errclass.ErrNotFound)
}
