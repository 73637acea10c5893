package commands

import (
	"fmt"

	"gridvault/pkg/checkout"
	"gridvault/pkg/schema"
	"gridvault/pkg/types"

	"github.com/spf13/cobra"
)

var columnCmd = &cobra.Command{
	Use:   "column",
	Short: "Manage columns",
}

var (
	colKind    string
	colDType   string
	colShape   []int64
	colPolicy  string
	colBackend string
)

var columnCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Define a new column in the staging area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sch := schema.Schema{
			Name:   args[0],
			Layout: schema.DefaultLayout,
			Kind:   schema.Kind(colKind),
		}
		if sch.Kind == schema.KindArray {
			sch.Policy = schema.Policy(colPolicy)
			sch.DType = schema.DType(colDType)
			sch.Shape = colShape
		}

		// 后端没指定时按启发式选择
		if colBackend != "" {
			sch.Backend = types.BackendCode(colBackend)
			if !schema.KnownBackend(sch.Backend) {
				return fmt.Errorf("unknown backend code %q", colBackend)
			}
		} else {
			proto := schema.Sample{Kind: sch.Kind, DType: sch.DType, Shape: sch.Shape}
			sch.Backend = schema.BackendFromHeuristics(proto, sch.Policy == schema.PolicyVariable)
		}
		sch.BackendOpts = schema.DefaultBackendOpts(sch.Backend)

		w, err := GV.Repo.Checkouts.OpenWrite(ctx, checkout.WriteOptions{})
		if err != nil {
			return err
		}
		defer w.Close()

		if err := w.Stage().DefineColumn(sch); err != nil {
			return err
		}
		fmt.Printf("defined column %q (kind=%s backend=%s)\n", sch.Name, sch.Kind, sch.Backend)
		return nil
	},
}

var columnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List columns in the staging area",
	RunE: func(cmd *cobra.Command, args []string) error {
		working := GV.Repo.Stage.Working()
		if len(working.Columns) == 0 {
			fmt.Println("no columns defined")
			return nil
		}
		for _, name := range working.ColumnNames() {
			col := working.Columns[name]
			s := col.Schema
			if s.Kind == schema.KindStr {
				fmt.Printf("%-24s str       backend=%s samples=%d\n", name, s.Backend, len(col.Samples))
			} else {
				fmt.Printf("%-24s %s/%s %v backend=%s samples=%d\n",
					name, s.DType, s.Policy, s.Shape, s.Backend, len(col.Samples))
			}
		}
		return nil
	},
}

func init() {
	columnCreateCmd.Flags().StringVar(&colKind, "kind", "array", "value kind (array|str)")
	columnCreateCmd.Flags().StringVar(&colDType, "dtype", "", "element dtype (uint8|int32|int64|float32|float64)")
	columnCreateCmd.Flags().Int64SliceVar(&colShape, "shape", nil, "sample shape, e.g. --shape 224,224,3")
	columnCreateCmd.Flags().StringVar(&colPolicy, "policy", "fixed", "shape policy (fixed|variable)")
	columnCreateCmd.Flags().StringVar(&colBackend, "backend", "", "storage backend format code (default: heuristic)")

	columnCmd.AddCommand(columnCreateCmd, columnListCmd)
	rootCmd.AddCommand(columnCmd)
}
