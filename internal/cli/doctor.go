package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/internal/doctor"
	"github.com/pdm-project/pdm/pkg/color"
)

var doctorStrict bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check vault health",
	Long: `Run read-only health checks over the vault: format version, lock
store document, revision chain, audit chain, and leftover temp files.
With --strict every revision and blob is hash-verified as well.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		result, err := doctor.NewDoctor(v.Root()).Check(doctorStrict)
		if err != nil {
			fmtErr("doctor: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(result)
			if !result.Healthy {
				os.Exit(1)
			}
			return
		}

		for _, f := range result.Findings {
			label := color.Dim(f.Severity)
			switch f.Severity {
			case "warning":
				label = color.Warning(f.Severity)
			case "error", "critical":
				label = color.Error(f.Severity)
			}
			fmt.Printf("%-10s %-10s %s\n", label, f.Category, f.Description)
		}
		if result.Healthy {
			fmt.Println(color.Success("Vault is healthy."))
			return
		}
		fmtErr("vault has problems (%d findings)", len(result.Findings))
		os.Exit(1)
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "also hash-verify every revision and blob")
	rootCmd.AddCommand(doctorCmd)
}
