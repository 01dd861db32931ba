package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lorre/internal/config"
	"lorre/internal/orchestrator"
	"lorre/internal/rpc"
	"lorre/internal/store"
)

func main() {
	rootCmd := &cobra.Command{Use: "lorre"}
	rootCmd.AddCommand(runCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the indexing loop until cancelled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("lorre: load config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"network": cfg.Network,
		"node":    cfg.Node.BaseURL(),
	}).Info("starting lorre")

	db, err := store.Open(cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("lorre: open store: %w", err)
	}
	defer db.Close()

	client := rpc.New(cfg.Node, cfg.FetchConcurrency, cfg.RequestTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loop := orchestrator.New(*cfg, client, db)
	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("lorre: run loop: %w", err)
	}

	logrus.Info("lorre exited cleanly")
	return nil
}
