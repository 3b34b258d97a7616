package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/service"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pricewatch",
		Short: "Price alert evaluation engine",
		Long:  "pricewatch periodically evaluates user price alerts against live quotes and emits each qualifying trigger exactly once across replicas.",
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the evaluation loop as a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return service.New(cfg).Run(ctx)
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Execute a single evaluation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return service.New(cfg).RunOnce(ctx)
		},
	}

	rootCmd.AddCommand(runCmd, onceCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
