package commands

import (
	"fmt"

	"gridvault/pkg/types"

	"github.com/spf13/cobra"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout <branch|revision>",
	Short: "Switch HEAD to a branch or pin it to a commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dirty, err := GV.Repo.Stage.Dirty()
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("staging area has uncommitted changes; commit or run 'gv clean' first")
		}

		// 优先按分支名附着
		if _, err := GV.Repo.Refs.GetBranch(ctx, args[0]); err == nil {
			if err := GV.Repo.Refs.SetHeadBranch(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("switched to branch %q\n", args[0])
			return nil
		}

		commit, err := GV.Repo.Checkouts.Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		if err := GV.Repo.Refs.SetHeadDetached(ctx, commit); err != nil {
			return err
		}
		fmt.Printf("HEAD detached at %s\n", types.Tagged(types.TagCommit, commit))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkoutCmd)
}
