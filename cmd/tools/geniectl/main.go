package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/genie-room/backend/internal/config"
	"github.com/zhouzirui/genie-room/backend/internal/logger"
	"github.com/zhouzirui/genie-room/backend/internal/service/genie"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geniectl",
	Short: "Talk to a Databricks Genie space from the terminal",
	Long: `geniectl reads the same environment (and .env file) as the API server
and talks to the configured Genie space directly.

Examples:
  geniectl space
  geniectl ask "What were total shipments last month?"
  geniectl ask "Top carriers by volume" "And last year?" --json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		level, _ := cmd.Flags().GetString("log-level")
		_, err := logger.Init(level, "console")
		return err
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(spaceCmd)

	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
}

// newClient builds a Genie client from the environment.
func newClient() (*genie.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	tokens, err := genie.NewTokenSource(cfg.Genie.Host, cfg.Genie.Token, cfg.Genie.ClientID, cfg.Genie.ClientSecret)
	if err != nil {
		return nil, nil, err
	}
	client, err := genie.NewClient(genie.Config{
		Host:            cfg.Genie.Host,
		SpaceID:         cfg.Genie.SpaceID,
		WarehouseID:     cfg.Genie.WarehouseID,
		Timeout:         cfg.Genie.HTTPTimeout,
		ResultCacheSize: cfg.Genie.ResultCache,
	}, tokens)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}
