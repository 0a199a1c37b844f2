// Command dataservice runs the Data service (C3): hash-addressed blob
// storage with atomic ingest and whole-blob download (there is no
// byte-range read).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/nimbusfs/internal/blobstore"
	"github.com/zynqcloud/nimbusfs/internal/cmdutil"
	"github.com/zynqcloud/nimbusfs/internal/config"
	"github.com/zynqcloud/nimbusfs/internal/discovery"
	"github.com/zynqcloud/nimbusfs/internal/netutil"
)

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "dataservice",
		Short: "Data service — hash-addressed blob storage",
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
		Short: "run the Data service until a shutdown signal arrives",
		RunE:  runServe,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadData(configPath)
	if err != nil {
		return fmt.Errorf("dataservice: load config: %w", err)
	}

	store, err := blobstore.NewStore(cfg.Storage.Paths)
	if err != nil {
		return fmt.Errorf("dataservice: init store: %w", err)
	}

	srv := blobstore.NewServer(store, cfg.Server.Token, logger)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("dataservice: listen: %w", err)
	}

	selfAddress := netutil.AdvertisedAddress(cfg.Server.Port, cfg.Server.AdvertisedHost)
	disc := discovery.New(cfg.Registry.Addresses, cfg.Server.Token, logger)

	logger.Info("dataservice: starting", "port", cfg.Server.Port, "roots", store.Roots(), "self", selfAddress)

	serve := func(ctx context.Context, ln net.Listener) error {
		go store.RunGC(ctx, logger)
		go disc.RunDataPush(ctx, selfAddress, func() int64 {
			avail, _ := store.DiskStats()
			return int64(avail)
		})
		return srv.Serve(ctx, ln)
	}
	return cmdutil.RunUntilSignal(serve, ln, logger, "dataservice")
}
