// Command nameservice runs the Name service (C6): admission control,
// metadata commit, and location lookup over the wire protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/nimbusfs/internal/admission"
	"github.com/zynqcloud/nimbusfs/internal/cmdutil"
	"github.com/zynqcloud/nimbusfs/internal/config"
	"github.com/zynqcloud/nimbusfs/internal/discovery"
	"github.com/zynqcloud/nimbusfs/internal/metadata"
	"github.com/zynqcloud/nimbusfs/internal/metadata/cache"
	"github.com/zynqcloud/nimbusfs/internal/metadata/filebackend"
	"github.com/zynqcloud/nimbusfs/internal/metadata/sqlbackend"
	"github.com/zynqcloud/nimbusfs/internal/nameserver"
	"github.com/zynqcloud/nimbusfs/internal/netutil"
)

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "nameservice",
		Short: "Name service — admission control, metadata commit, location lookup",
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
		Short: "run the Name service until a shutdown signal arrives",
		RunE:  runServe,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadName(configPath)
	if err != nil {
		return fmt.Errorf("nameservice: load config: %w", err)
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return fmt.Errorf("nameservice: build metadata backend: %w", err)
	}
	if err := backend.Recover(context.Background()); err != nil {
		return fmt.Errorf("nameservice: recover metadata: %w", err)
	}

	selfAddress := netutil.AdvertisedAddress(cfg.Server.Port, cfg.Server.AdvertisedHost)

	controller := admission.New(backend, selfAddress, logger)
	defer controller.Close()

	srv := nameserver.NewServer(controller, cfg.Server.Token, logger)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("nameservice: listen: %w", err)
	}

	disc := discovery.New(cfg.Registry.Addresses, cfg.Server.Token, logger)

	logger.Info("nameservice: starting", "port", cfg.Server.Port, "metadata_mode", cfg.Metadata.Mode, "self", selfAddress)

	serve := func(ctx context.Context, ln net.Listener) error {
		go disc.RunNamePush(ctx, selfAddress)
		go disc.RunPull(ctx, controller.SetDataNodes)
		go srv.RunMetricsLog(ctx)
		return srv.Serve(ctx, ln)
	}
	return cmdutil.RunUntilSignal(serve, ln, logger, "nameservice")
}

// buildBackend selects the metadata backend per cfg.Metadata.Mode (spec.md
// §6: "metadata.mode∈{file,mysql}"), fronting it with a write-through LRU
// unless caching is explicitly disabled.
func buildBackend(cfg config.Name) (metadata.Backend, error) {
	var backend metadata.Backend
	switch cfg.Metadata.Mode {
	case "", "file":
		fb, err := filebackend.New(cfg.Metadata.Path)
		if err != nil {
			return nil, err
		}
		backend = fb
	case "mysql":
		sb, err := sqlbackend.Open(sqlbackend.Config{
			Host:     cfg.Metadata.MySQL.Host,
			Port:     cfg.Metadata.MySQL.Port,
			Database: cfg.Metadata.MySQL.Database,
			User:     cfg.Metadata.MySQL.User,
			Password: cfg.Metadata.MySQL.Password,
		})
		if err != nil {
			return nil, err
		}
		backend = sb
	default:
		return nil, fmt.Errorf("unknown metadata.mode %q", cfg.Metadata.Mode)
	}

	size := cfg.Metadata.Cache.MaxSize
	if !cfg.Metadata.Cache.Enabled {
		size = 0
	}
	return cache.New(backend, size)
}
