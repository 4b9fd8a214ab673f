// Package cli implements the pdm command tree for local, single-user
// operation of a vault. The server exposes the same operations to
// collaborating users.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	userFlag   string
	privileged bool

	rootCmd = &cobra.Command{
		Use:   "pdm",
		Short: "PDM - Parts Data Management",
		Long: `PDM manages shared CAD/CAM files with exclusive checkout locks and a
versioned history. Every checkout, checkin, upload, update and delete is
recorded as an immutable revision, so the state of the vault at any point
in time can be reconstructed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "acting username (default: $PDM_USER or $USER)")
	rootCmd.PersistentFlags().BoolVar(&privileged, "privileged", false, "allow overriding other users' locks (admin)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
