package verify_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/internal/vault"
	"github.com/pdm-project/pdm/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVerifier(t *testing.T) (*verify.Verifier, *vault.Vault) {
	root := t.TempDir()
	v, err := vault.Init(root, vault.Options{})
	require.NoError(t, err)
	return verify.NewVerifier(root), v
}

func TestVerifyAll_CleanVault(t *testing.T) {
	ver, v := setupVerifier(t)

	_, err := v.Upload("PN1001.mcam", "alice", []byte("content\n"))
	require.NoError(t, err)
	_, err = v.Checkout("PN1001.mcam", "alice", "editing")
	require.NoError(t, err)

	summary, err := ver.VerifyAll(true, nil)
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, 3, summary.Revisions, "init, upload, checkout")
	assert.Zero(t, summary.Tampered)
	assert.True(t, summary.AuditChainOK)
}

func TestVerifyAll_DetectsBlobTampering(t *testing.T) {
	ver, v := setupVerifier(t)

	rev, err := v.Upload("PN1001.mcam", "alice", []byte("original\n"))
	require.NoError(t, err)

	hash := rev.Manifest[repo.ResourcePath("PN1001.mcam")]
	blobPath := filepath.Join(repo.ObjectsDir(v.Root()), hash)
	require.NoError(t, os.Chmod(blobPath, 0644))
	require.NoError(t, os.WriteFile(blobPath, []byte("tampered\n"), 0644))

	summary, err := ver.VerifyAll(true, nil)
	require.NoError(t, err)
	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.Tampered)
}

func TestVerifyAll_DetectsDescriptorTampering(t *testing.T) {
	ver, v := setupVerifier(t)

	rev, err := v.Upload("PN1001.mcam", "alice", []byte("content\n"))
	require.NoError(t, err)

	descPath := filepath.Join(repo.RevisionsDir(v.Root()), string(rev.ID)+".json")
	data, err := os.ReadFile(descPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(descPath, append(data, ' '), 0644))

	summary, err := ver.VerifyAll(false, nil)
	require.NoError(t, err)
	assert.False(t, summary.OK())
}
