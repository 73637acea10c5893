package commands

import (
	"fmt"

	"gridvault/pkg/checkout"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Discard all uncommitted changes in the staging area",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := GV.Repo.Checkouts.OpenWrite(cmd.Context(), checkout.WriteOptions{})
		if err != nil {
			return err
		}
		defer w.Close()

		if err := w.Stage().Clean(); err != nil {
			return err
		}
		fmt.Println("staging area reset to its base commit")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
