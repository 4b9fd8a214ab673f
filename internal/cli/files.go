package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/pkg/color"
	"github.com/pdm-project/pdm/pkg/model"
)

var uploadName string

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Add a new managed file to the vault",
	Long: `Add a new managed file to the vault. The resource name defaults to the
basename of the given path. Uploading over an existing name is rejected;
use checkout and update to change content.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()
		user := currentUser()

		content, err := os.ReadFile(args[0])
		if err != nil {
			fmtErr("read %s: %v", args[0], err)
			os.Exit(1)
		}
		name := uploadName
		if name == "" {
			name = filepath.Base(args[0])
		}

		rev, err := v.Upload(name, user, content)
		if err != nil {
			fmtErr("upload: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(rev)
		} else {
			fmt.Printf("Uploaded %s\n", color.Success(name))
			fmt.Printf("  Revision: %s\n", color.RevisionID(rev.ID.ShortID()))
		}
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <file> <path>",
	Short: "Replace the content of a checked-out managed file",
	Long: `Replace the content of a managed file with the content of <path>. The
acting user must hold the file's lock (see checkout).`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()
		user := currentUser()

		content, err := os.ReadFile(args[1])
		if err != nil {
			fmtErr("read %s: %v", args[1], err)
			os.Exit(1)
		}

		rev, err := v.Update(args[0], user, content)
		if err != nil {
			fmtErr("update: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(rev)
		} else {
			fmt.Printf("Updated %s\n", color.Success(args[0]))
			fmt.Printf("  Revision: %s\n", color.RevisionID(rev.ID.ShortID()))
		}
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <file>",
	Short: "Delete a managed file",
	Long: `Delete a managed file. Deletion always requires --privileged. Any
lock on the file is force-released and committed as its own revision
before the removal is committed. The file's revision history remains
readable after deletion.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()
		user := currentUser()

		if err := v.Delete(args[0], user, privileged); err != nil {
			fmtErr("rm: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]string{"status": "deleted", "file": args[0]})
		} else {
			fmt.Printf("Deleted %s\n", color.Success(args[0]))
		}
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List managed files and their lock status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := requireVault()

		files, err := v.ListFiles()
		if err != nil {
			fmtErr("ls: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(files)
			return
		}
		if len(files) == 0 {
			fmt.Println("No managed files.")
			return
		}
		for _, f := range files {
			status := color.Success(string(f.Status))
			if f.Status == model.StatusCheckedOut {
				status = fmt.Sprintf("%s by %s",
					color.Warning(string(f.Status)), color.Owner(f.LockedBy))
			}
			fmt.Printf("%-40s %8d  %s\n", f.Name, f.SizeBytes, status)
		}
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "resource name (default: basename of path)")
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
}
