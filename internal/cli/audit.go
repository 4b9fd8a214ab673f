package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/pkg/color"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit log",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		records, err := v.AuditRecords()
		if err != nil {
			fmtErr("audit: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(records)
			return
		}
		for _, rec := range records {
			fmt.Printf("%s  %-18s %-12s %s\n",
				rec.Timestamp.Format(time.RFC3339),
				rec.EventType, rec.Actor, rec.Resource)
		}
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		if err := v.VerifyAudit(); err != nil {
			fmtErr("audit verify: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]string{"status": "ok"})
		} else {
			fmt.Println(color.Success("Audit chain verified."))
		}
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
