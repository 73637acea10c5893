package commands

import (
	"fmt"

	"gridvault/pkg/checkout"

	"github.com/spf13/cobra"
)

var mergeMsg string

var mergeCmd = &cobra.Command{
	Use:   "merge <branch|revision>",
	Short: "Merge another history into the current HEAD",
	Long: `Merge another branch or commit into the current HEAD.

Clean merges and fast-forwards complete immediately. When the merge has
conflicts they are printed and the merge is abandoned: conflict resolution
is only available programmatically (open a write checkout, call Merge, then
CompleteMerge with a resolution per conflict). Re-running this command
restarts the merge from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		w, err := GV.Repo.Checkouts.OpenWrite(ctx, checkout.WriteOptions{})
		if err != nil {
			return err
		}
		defer w.Close()

		msg := mergeMsg
		if msg == "" {
			msg = fmt.Sprintf("merge %s", args[0])
		}
		name, email := GV.Author()

		out, err := w.Merge(ctx, args[0], name, email, msg)
		if err != nil {
			return err
		}

		switch {
		case out.AlreadyUpToDate:
			fmt.Println("already up to date")
		case out.FastForward:
			fmt.Println("fast-forward")
		case out.Conflicts.HasConflicts():
			fmt.Printf("merge produced %d conflict(s):\n", len(out.Conflicts))
			for _, c := range out.Conflicts {
				if c.Key == "" {
					fmt.Printf("  schema conflict in column %q\n", c.Column)
				} else {
					fmt.Printf("  sample conflict in %s/%s (ours=%s theirs=%s)\n",
						c.Column, c.Key, c.Ours, c.Theirs)
				}
			}
			return fmt.Errorf("merge abandoned: resolve conflicts programmatically (see 'gv merge --help')")
		default:
			fmt.Printf("merged as %s\n", out.Commit.Tagged())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringVarP(&mergeMsg, "message", "m", "", "merge commit message")
}
