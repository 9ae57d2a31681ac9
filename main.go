package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

const defaultConfigPath = "config/config.yaml"

var rootCmd = &cobra.Command{
	Use:     "gms-notebook-server",
	Short:   "Index local folders into GMS Notebook search",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDaemon(cmd.Context(), configPath(cmd))
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one indexing pass for every indexed source and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runOnce(cmd.Context(), configPath(cmd), cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show last and next indexing time for every source",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStatus(configPath(cmd), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "config file")
	rootCmd.AddCommand(onceCmd, statusCmd)
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
