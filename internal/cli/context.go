package cli

import (
	"fmt"
	"os"

	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/internal/vault"
	"github.com/pdm-project/pdm/pkg/color"
	"github.com/pdm-project/pdm/pkg/config"
	"github.com/pdm-project/pdm/pkg/progress"
)

// requireVault discovers the vault from CWD and opens it, or exits.
func requireVault() *vault.Vault {
	cwd, err := os.Getwd()
	if err != nil {
		fmtErr("cannot get current directory: %v", err)
		os.Exit(1)
	}
	info, err := repo.Discover(cwd)
	if err != nil {
		fmtErr("not a PDM vault: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Load(info.Root)
	if err != nil {
		fmtErr("load config: %v", err)
		os.Exit(1)
	}
	v, err := vault.Open(info.Root, vault.Options{
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
	})
	if err != nil {
		fmtErr("open vault: %v", err)
		os.Exit(1)
	}
	return v
}

// currentUser resolves the acting identity: --user flag, then PDM_USER,
// then the login name the OS reports.
func currentUser() string {
	if userFlag != "" {
		return userFlag
	}
	if u := os.Getenv("PDM_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// progressTerminal builds the progress bar for long-running commands.
// JSON mode keeps stderr clean for machine consumers.
func progressTerminal(op string) *progress.Terminal {
	return progress.NewTerminal(op, 0, !jsonOutput)
}

func fmtErr(format string, args ...any) {
	prefix := "pdm: "
	if color.Enabled() {
		prefix = color.Error("pdm:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
