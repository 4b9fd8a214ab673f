package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/pkg/color"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List currently held locks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		locks, err := v.Locks()
		if err != nil {
			fmtErr("locks: %v", err)
			return
		}

		if jsonOutput {
			outputJSON(locks)
			return
		}
		if len(locks) == 0 {
			fmt.Println("No locks held.")
			return
		}

		names := make([]string, 0, len(locks))
		for name := range locks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rec := locks[name]
			fmt.Printf("%-40s %s  since %s", name,
				color.Owner(rec.Owner), rec.AcquiredAt.Format(time.RFC3339))
			if rec.Reason != "" {
				fmt.Printf("  (%s)", color.Dim(rec.Reason))
			}
			fmt.Println()
		}
	},
}

func init() {
	rootCmd.AddCommand(locksCmd)
}
