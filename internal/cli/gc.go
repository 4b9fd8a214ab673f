package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/internal/gc"
	"github.com/pdm-project/pdm/pkg/color"
)

var gcRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim unreferenced blob storage",
	Long: `Plan and run garbage collection of unreferenced blobs. Without --run
only a plan is written; "pdm gc --run" plans and deletes in one step.
Blobs referenced by any recorded revision are never touched.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()
		c := gc.NewCollector(v.Root())

		plan, err := c.Plan()
		if err != nil {
			fmtErr("gc plan: %v", err)
			os.Exit(1)
		}

		if !gcRun {
			if jsonOutput {
				outputJSON(plan)
				return
			}
			fmt.Printf("Plan %s: %d blobs, ~%d bytes reclaimable.\n",
				plan.PlanID, len(plan.ToDelete), plan.EstimatedBytes)
			fmt.Println(color.Dim("Re-run with --run to delete."))
			return
		}

		result, err := c.Run(plan.PlanID)
		if err != nil {
			fmtErr("gc run: %v", err)
			os.Exit(1)
		}
		if jsonOutput {
			outputJSON(result)
			return
		}
		fmt.Println(color.Successf("Deleted %d blobs, reclaimed %d bytes.",
			result.DeletedCount, result.ReclaimedBytes))
	},
}

func init() {
	gcCmd.Flags().BoolVar(&gcRun, "run", false, "execute the plan instead of only writing it")
	rootCmd.AddCommand(gcCmd)
}
