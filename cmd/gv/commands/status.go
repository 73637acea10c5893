package commands

import (
	"errors"
	"fmt"

	"gridvault/pkg/refs"
	"gridvault/pkg/types"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the staging area relative to its base commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		head, err := GV.Repo.Refs.Head(ctx)
		if err != nil && !errors.Is(err, refs.ErrNoHead) {
			return err
		}
		if head.Branch != "" {
			fmt.Printf("on branch %s\n", head.Branch)
		} else if !head.Commit.IsZero() {
			fmt.Printf("HEAD detached at %s\n", types.Tagged(types.TagCommit, head.Commit))
		}

		result := GV.Repo.Stage.Status()
		if result.Empty() {
			fmt.Println("staging area clean")
			return nil
		}

		for _, name := range result.Columns() {
			if sch, ok := result.AddedColumns[name]; ok {
				fmt.Printf("  new column:     %s (%s)\n", name, sch.Kind)
			}
			if _, ok := result.RemovedColumns[name]; ok {
				fmt.Printf("  dropped column: %s\n", name)
			}
			if _, ok := result.SchemaChanged[name]; ok {
				fmt.Printf("  schema changed: %s\n", name)
			}
			if kc, ok := result.Samples[name]; ok && !kc.Empty() {
				fmt.Printf("  %s: +%d samples, -%d samples, ~%d samples\n",
					name, len(kc.Added), len(kc.Removed), len(kc.Changed))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
