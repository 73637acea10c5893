package commands

import (
	"fmt"
	"os"

	"gridvault/pkg/app"
	"gridvault/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// GV 是全局应用实例，供子命令使用
	GV *app.App
)

var rootCmd = &cobra.Command{
	Use:   "gv",
	Short: "GridVault: version control for array and text sample collections",
	// PersistentPreRunE 在所有子命令执行前运行，统一组装依赖
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init 命令自己负责创建环境
		if cmd.Name() == "init" {
			return nil
		}

		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		GV, err = app.Open(cmd.Context(), wd)
		if err != nil {
			return fmt.Errorf("failed to open repository: %w\n(did you run 'gv init'?)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if GV != nil {
			return GV.Close()
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., .gv, $HOME/.gv)")

	rootCmd.PersistentFlags().String("complib", "", "compression for the blob backend (zstd|lz4)")
	if err := viper.BindPFlag("storage.complib", rootCmd.PersistentFlags().Lookup("complib")); err != nil {
		fmt.Fprintln(os.Stderr, "failed to bind flag:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
}
