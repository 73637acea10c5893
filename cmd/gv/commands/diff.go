package commands

import (
	"fmt"

	"gridvault/pkg/diff"

	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <revision-a> <revision-b>",
	Short: "Show structural differences between two commits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := GV.Repo.Checkouts.Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		b, err := GV.Repo.Checkouts.Resolve(ctx, args[1])
		if err != nil {
			return err
		}

		mfA, err := GV.Repo.Graph.Manifest(ctx, a)
		if err != nil {
			return err
		}
		mfB, err := GV.Repo.Graph.Manifest(ctx, b)
		if err != nil {
			return err
		}

		result := diff.Diff(mfA, mfB)
		if result.Empty() {
			fmt.Println("no differences")
			return nil
		}

		for _, name := range result.Columns() {
			fmt.Printf("column %s:\n", name)
			if sch, ok := result.AddedColumns[name]; ok {
				fmt.Printf("  added (kind=%s backend=%s)\n", sch.Kind, sch.Backend)
			}
			if _, ok := result.RemovedColumns[name]; ok {
				fmt.Println("  removed")
			}
			if pair, ok := result.SchemaChanged[name]; ok {
				fmt.Printf("  schema changed: shape %v -> %v\n", pair.Old.Shape, pair.New.Shape)
			}
			if kc, ok := result.Samples[name]; ok {
				for key := range kc.Added {
					fmt.Printf("  + %s\n", key)
				}
				for key := range kc.Removed {
					fmt.Printf("  - %s\n", key)
				}
				for key := range kc.Changed {
					fmt.Printf("  ~ %s\n", key)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
