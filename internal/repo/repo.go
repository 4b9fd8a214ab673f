// Package repo handles PDM vault layout: initialization and discovery.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/pdm-project/pdm/pkg/fsutil"
)

const (
	FormatVersion     = 1
	PDMDirName        = ".pdm"
	FormatVersionFile = "format_version"
	VaultIDFile       = "vault_id"

	FilesDirName  = "files"
	LocksFileName = "locks.json"
)

// Vault represents an initialized PDM vault.
type Vault struct {
	Root          string
	FormatVersion int
	VaultID       string
}

// Init creates a new PDM vault at the specified path, or opens the existing
// one. Calling it twice on the same path is not an error.
func Init(path string) (*Vault, error) {
	pdmDir := filepath.Join(path, PDMDirName)
	if _, err := os.Stat(filepath.Join(pdmDir, FormatVersionFile)); err == nil {
		return Open(path)
	}

	dirs := []string{
		pdmDir,
		filepath.Join(pdmDir, "objects"),
		filepath.Join(pdmDir, "revisions"),
		filepath.Join(pdmDir, "refs"),
		filepath.Join(pdmDir, "audit"),
		filepath.Join(path, FilesDirName),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(filepath.Join(pdmDir, FormatVersionFile), []byte("1\n"), 0644); err != nil {
		return nil, fmt.Errorf("write format_version: %w", err)
	}

	vaultID := uuid.NewString()
	if err := os.WriteFile(filepath.Join(pdmDir, VaultIDFile), []byte(vaultID+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write vault_id: %w", err)
	}

	// Empty lock store document; the history backend records the first
	// revision of it during its own init.
	locksPath := LocksPath(path)
	if _, err := os.Stat(locksPath); os.IsNotExist(err) {
		if err := os.WriteFile(locksPath, []byte("{}\n"), 0644); err != nil {
			return nil, fmt.Errorf("write empty lock store: %w", err)
		}
	}

	// Fsync parent to ensure durability
	if err := fsutil.FsyncDir(path); err != nil {
		return nil, fmt.Errorf("fsync vault root: %w", err)
	}

	return &Vault{
		Root:          path,
		FormatVersion: FormatVersion,
		VaultID:       vaultID,
	}, nil
}

// Open opens an existing vault at path.
func Open(path string) (*Vault, error) {
	pdmDir := filepath.Join(path, PDMDirName)
	version, err := readFormatVersion(pdmDir)
	if err != nil {
		return nil, err
	}
	if version > FormatVersion {
		return nil, errclass.ErrFormatUnsupported.WithMessagef(
			"format version %d > supported %d", version, FormatVersion)
	}
	vaultID, _ := readVaultID(pdmDir)
	return &Vault{
		Root:          path,
		FormatVersion: version,
		VaultID:       vaultID,
	}, nil
}

// Discover walks up from cwd to find the vault root (directory containing .pdm/).
func Discover(cwd string) (*Vault, error) {
	path := cwd
	for {
		pdmDir := filepath.Join(path, PDMDirName)
		if info, err := os.Stat(pdmDir); err == nil && info.IsDir() {
			return Open(path)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return nil, fmt.Errorf("no PDM vault found (no .pdm/ in parent directories)")
		}
		path = parent
	}
}

// LocksPath returns the LockStore backing document path.
func LocksPath(root string) string {
	return filepath.Join(root, LocksFileName)
}

// LocksLockPath returns the flock sidecar guarding the LockStore document.
// A sidecar is used so that the atomic rename replacing locks.json never
// invalidates a held descriptor.
func LocksLockPath(root string) string {
	return filepath.Join(root, PDMDirName, "locks.lock")
}

// FilesDir returns the managed-file payload directory.
func FilesDir(root string) string {
	return filepath.Join(root, FilesDirName)
}

// FilePath returns the working-copy path for a managed file.
func FilePath(root, name string) string {
	return filepath.Join(root, FilesDirName, name)
}

// ResourcePath returns the vault-relative tracked path for a managed file,
// the form used in revision manifests.
func ResourcePath(name string) string {
	return FilesDirName + "/" + name
}

// ObjectsDir returns the content-addressed blob directory.
func ObjectsDir(root string) string {
	return filepath.Join(root, PDMDirName, "objects")
}

// RevisionsDir returns the revision descriptor directory.
func RevisionsDir(root string) string {
	return filepath.Join(root, PDMDirName, "revisions")
}

// HeadPath returns the path of the HEAD ref file.
func HeadPath(root string) string {
	return filepath.Join(root, PDMDirName, "refs", "HEAD")
}

// AuditPath returns the audit log path.
func AuditPath(root string) string {
	return filepath.Join(root, PDMDirName, "audit", "audit.jsonl")
}

func readFormatVersion(pdmDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(pdmDir, FormatVersionFile))
	if err != nil {
		return 0, fmt.Errorf("read format_version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(string(data), "%d", &version); err != nil {
		return 0, fmt.Errorf("parse format_version: %w", err)
	}
	return version, nil
}

func readVaultID(pdmDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(pdmDir, VaultIDFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
