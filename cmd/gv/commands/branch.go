package commands

import (
	"fmt"
	"sort"

	"gridvault/pkg/types"

	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "List branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		branches, err := GV.Repo.Refs.ListBranches(ctx)
		if err != nil {
			return err
		}
		head, _ := GV.Repo.Refs.Head(ctx)

		names := make([]string, 0, len(branches))
		for name := range branches {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			marker := " "
			if name == head.Branch {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, name, types.Tagged(types.TagCommit, branches[name]))
		}
		return nil
	},
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name> [revision]",
	Short: "Create a branch at a revision (default HEAD)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rev := ""
		if len(args) == 2 {
			rev = args[1]
		}
		target, err := GV.Repo.Checkouts.Resolve(ctx, rev)
		if err != nil {
			return err
		}
		if err := GV.Repo.Refs.CreateBranch(ctx, args[0], target); err != nil {
			return err
		}
		fmt.Printf("created branch %q at %s\n", args[0], types.Tagged(types.TagCommit, target))
		return nil
	},
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := GV.Repo.Refs.DeleteBranch(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted branch %q\n", args[0])
		return nil
	},
}

func init() {
	branchCmd.AddCommand(branchCreateCmd, branchDeleteCmd)
	rootCmd.AddCommand(branchCmd)
}
