// Command registry runs the Registry service (C2): node discovery for Data
// and Name services.
//
// CLI bootstrap grounded on orbas1-Synnergy/synnergy-network/cmd/cli
// (cobra.Command, signal-driven shutdown in devnetStart); the config file
// flag and YAML loading on devnet.go's yaml.Unmarshal-into-config pattern.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/nimbusfs/internal/cmdutil"
	"github.com/zynqcloud/nimbusfs/internal/config"
	"github.com/zynqcloud/nimbusfs/internal/registry"
)

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "registry",
		Short: "Registry service — tracks live Data and Name services",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the Registry server until a shutdown signal arrives",
		RunE:  runServe,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadRegistry(configPath)
	if err != nil {
		return fmt.Errorf("registry: load config: %w", err)
	}

	timeout := time.Duration(cfg.Heartbeat.TimeoutMS) * time.Millisecond
	srv := registry.NewServer(timeout, cfg.Server.Token, logger)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("registry: listen: %w", err)
	}

	logger.Info("registry: starting", "port", cfg.Server.Port, "timeout_ms", cfg.Heartbeat.TimeoutMS)

	serve := func(ctx context.Context, ln net.Listener) error {
		go registry.RunSweeper(ctx, srv.DataStore, srv.NameStore, logger)
		return srv.Serve(ctx, ln)
	}
	return cmdutil.RunUntilSignal(serve, ln, logger, "registry")
}
