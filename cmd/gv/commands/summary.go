package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show an overview of the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := GV.Repo.Summarize(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(s.Render())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
