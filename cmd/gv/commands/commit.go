package commands

import (
	"errors"
	"fmt"

	"gridvault/pkg/checkout"

	"github.com/spf13/cobra"
)

var commitMsg string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record the staging area as a new commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if commitMsg == "" {
			return fmt.Errorf("commit message cannot be empty (use -m)")
		}
		ctx := cmd.Context()

		w, err := GV.Repo.Checkouts.OpenWrite(ctx, checkout.WriteOptions{})
		if err != nil {
			return err
		}
		defer w.Close()

		name, email := GV.Author()
		c, err := w.Commit(ctx, name, email, commitMsg)
		if errors.Is(err, checkout.ErrNothingToCommit) {
			fmt.Println("nothing to commit, staging area clean")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("[%s] %s\n", c.Tagged(), commitMsg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)
	commitCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "commit message")
}
