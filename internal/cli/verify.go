package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/internal/verify"
	"github.com/pdm-project/pdm/pkg/color"
)

var verifySkipBlobs bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify revision and audit chain integrity",
	Long: `Verify every recorded revision: descriptor hashes, blob content
hashes, and the audit log hash chain. Corruption is reported, never
repaired.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		term := progressTerminal("verify")
		summary, err := verify.NewVerifier(v.Root()).VerifyAll(!verifySkipBlobs, term.Callback())
		if err != nil {
			fmtErr("verify: %v", err)
			os.Exit(1)
		}
		term.Done("")

		if jsonOutput {
			outputJSON(summary)
			if !summary.OK() {
				os.Exit(1)
			}
			return
		}

		for _, r := range summary.Results {
			if r.TamperDetected {
				fmt.Printf("%s %s: %s\n",
					color.Error("TAMPERED"), color.RevisionID(r.RevisionID.ShortID()), r.Error)
			}
		}
		if !summary.AuditChainOK {
			fmt.Printf("%s audit chain: %s\n", color.Error("TAMPERED"), summary.AuditChainErr)
		}
		if summary.OK() {
			fmt.Println(color.Successf("Verified %d revisions, no problems found.", summary.Revisions))
			return
		}
		fmtErr("verification failed: %d of %d revisions tampered", summary.Tampered, summary.Revisions)
		os.Exit(1)
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifySkipBlobs, "skip-blobs", false,
		"verify descriptors only, skip blob content hashing")
	rootCmd.AddCommand(verifyCmd)
}
