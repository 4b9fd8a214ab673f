package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/pkg/color"
	"github.com/pdm-project/pdm/pkg/errclass"
)

var checkoutReason string

var checkoutCmd = &cobra.Command{
	Use:   "checkout <file>",
	Short: "Claim the exclusive lock on a managed file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()
		user := currentUser()

		rec, err := v.Checkout(args[0], user, checkoutReason)
		if err != nil {
			if errors.Is(err, errclass.ErrLockConflict) {
				fmtErr("%s is checked out by %s", args[0], color.Owner(errclass.Owner(err)))
			} else {
				fmtErr("checkout: %v", err)
			}
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(rec)
		} else {
			fmt.Printf("Checked out %s\n", color.Success(args[0]))
			fmt.Printf("  Owner: %s\n", rec.Owner)
			fmt.Printf("  Since: %s\n", rec.AcquiredAt.Format(time.RFC3339))
		}
	},
}

var checkinCmd = &cobra.Command{
	Use:   "checkin <file>",
	Short: "Release the lock on a managed file",
	Long: `Release the lock on a managed file. Only the lock owner may check a
file in; with --privileged the lock is released regardless of owner and
the override is recorded in the history and the audit log.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()
		user := currentUser()

		if err := v.Checkin(args[0], user, privileged); err != nil {
			if errors.Is(err, errclass.ErrNotAuthorized) {
				fmtErr("lock on %s is held by %s (use --privileged to override)",
					args[0], color.Owner(errclass.Owner(err)))
			} else {
				fmtErr("checkin: %v", err)
			}
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]string{"status": "released", "file": args[0]})
		} else {
			fmt.Printf("Checked in %s\n", color.Success(args[0]))
		}
	},
}

func init() {
	checkoutCmd.Flags().StringVar(&checkoutReason, "reason", "", "why the file is being checked out")
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(checkinCmd)
}
