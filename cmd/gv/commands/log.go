package commands

import (
	"fmt"
	"time"

	"gridvault/pkg/types"

	"github.com/spf13/cobra"
)

var (
	logLimit  int
	logAuthor string
)

var logCmd = &cobra.Command{
	Use:   "log [revision]",
	Short: "Show commit history (first-parent chain)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// 按作者搜索走关系型提交索引, 不需要遍历对象图
		if logAuthor != "" {
			models, err := GV.Repo.Meta.FindCommitsByAuthor(ctx, logAuthor, logLimit)
			if err != nil {
				return err
			}
			for _, mdl := range models {
				fmt.Printf("commit %s\n", types.Tagged(types.TagCommit, types.Digest(mdl.Hash)))
				fmt.Printf("Author: %s <%s>\n", mdl.Author, mdl.Email)
				fmt.Printf("Date:   %s\n", time.Unix(mdl.Timestamp, 0).Format(time.RFC1123))
				fmt.Printf("\n    %s\n\n", mdl.Message)
			}
			return nil
		}

		rev := ""
		if len(args) == 1 {
			rev = args[0]
		}
		from, err := GV.Repo.Checkouts.Resolve(ctx, rev)
		if err != nil {
			return err
		}

		commits, err := GV.Repo.Graph.Log(ctx, from, logLimit)
		if err != nil {
			return err
		}

		for _, c := range commits {
			fmt.Printf("commit %s", c.Tagged())
			if c.IsMerge() {
				fmt.Print("  (merge)")
			}
			fmt.Println()
			fmt.Printf("Author: %s <%s>\n", c.Author, c.Email)
			fmt.Printf("Date:   %s\n", time.Unix(c.Timestamp, 0).Format(time.RFC1123))
			fmt.Printf("\n    %s\n\n", c.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().IntVarP(&logLimit, "max-count", "n", 0, "limit number of commits (0 = all)")
	logCmd.Flags().StringVar(&logAuthor, "author", "", "search commits by author instead of walking history")
}
