package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/internal/vault"
	"github.com/pdm-project/pdm/pkg/color"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a new PDM vault",
	Long: `Initialize a new PDM vault in the given directory (default: current
directory).

This creates:
  - locks.json (empty lock store)
  - files/ for managed resources
  - .pdm/ with format_version, vault_id, revision storage and audit log

The first revision, recording the empty lock store, is committed as part
of initialization.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := os.Getwd()
		if len(args) == 1 {
			path = args[0]
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}

		v, err := vault.Init(path, vault.Options{})
		if err != nil {
			fmtErr("failed to initialize vault: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"vault_root": v.Root(),
				"vault_id":   v.ID(),
			})
		} else {
			fmt.Printf("Initialized PDM vault in %s\n", color.Success(v.Root()))
			fmt.Printf("  Vault ID: %s\n", color.Highlight(v.ID()))
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
