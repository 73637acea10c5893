package commands

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove sample data no longer referenced by any branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := GV.Repo.GC(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d records, %d live, deleted %d (%s freed) in %s\n",
			report.Scanned, report.Live, report.Deleted,
			units.BytesSize(float64(report.BytesFreed)), report.Elapsed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}
