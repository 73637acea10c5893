package commands

import (
	"fmt"
	"os"

	"gridvault/pkg/app"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a repository in the current directory",
	Long:  `Create an empty repository: the .gv directory with object store, data backends and metadata database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		a, err := app.Init(cmd.Context(), wd)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("initialized empty repository in %s\n", a.Repo.Root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
