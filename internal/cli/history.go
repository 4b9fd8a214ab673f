package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/pkg/color"
	"github.com/pdm-project/pdm/pkg/model"
)

var (
	historyLimit int
	historyAll   bool
	catRevision  string
)

var historyCmd = &cobra.Command{
	Use:   "history [file]",
	Short: "Show the revision history of a file, or of the whole vault",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		var revs []*model.Revision
		var err error
		if len(args) == 1 && !historyAll {
			revs, err = v.History(args[0], historyLimit)
		} else {
			revs, err = v.VaultHistory(historyLimit)
		}
		if err != nil {
			fmtErr("history: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(revs)
			return
		}
		for _, rev := range revs {
			fmt.Printf("%s  %s  %-12s %s\n",
				color.RevisionID(rev.ID.ShortID()),
				rev.CreatedAt.Format(time.RFC3339),
				rev.Author,
				rev.Message)
		}
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <file> <from-rev> <to-rev>",
	Short: "Show the unified diff of a file between two revisions",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		text, err := v.Diff(args[0], model.RevisionID(args[1]), model.RevisionID(args[2]))
		if err != nil {
			fmtErr("diff: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]string{"diff": text})
			return
		}
		if text == "" {
			fmt.Println("No differences.")
			return
		}
		fmt.Print(text)
	},
}

var blameCmd = &cobra.Command{
	Use:   "blame <file>",
	Short: "Show which revision last touched each line of a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		lines, err := v.Blame(args[0])
		if err != nil {
			fmtErr("blame: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(lines)
			return
		}
		for i, line := range lines {
			fmt.Printf("%s %-12s %4d  %s\n",
				color.RevisionID(line.Revision.ID.ShortID()),
				line.Revision.Author, i+1, line.Line)
		}
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <file>",
	Short: "Print a file's content, optionally at a past revision",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		rev := model.RevisionID(catRevision)
		if rev == "" {
			head, err := v.Head()
			if err != nil {
				fmtErr("cat: %v", err)
				os.Exit(1)
			}
			rev = head
		}

		data, err := v.ReadAt(args[0], rev)
		if err != nil {
			fmtErr("cat: %v", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum revisions to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "show the whole vault history, lock transitions included")
	catCmd.Flags().StringVar(&catRevision, "rev", "", "revision id (default: head)")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(blameCmd)
	rootCmd.AddCommand(catCmd)
}
