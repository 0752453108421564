package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astrosync/astrosync/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		quicAddr   string
		wsAddr     string
		dbPath     string
		tickRate   int
		flushSec   int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "astrosyncd",
		Short: "Authoritative replication server",
		Long: "astrosyncd runs the authoritative world: a fixed-rate simulation " +
			"loop with per-session visibility filtering over QUIC and WebSocket, " +
			"persisted to a SQLite property graph.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("quic-addr") {
				cfg.QUICAddr = quicAddr
			}
			if cmd.Flags().Changed("ws-addr") {
				cfg.WebSocketAddr = wsAddr
			}
			if cmd.Flags().Changed("db") {
				cfg.DatabasePath = dbPath
			}
			if cmd.Flags().Changed("tick-rate") {
				cfg.TickRate = tickRate
			}
			if cmd.Flags().Changed("flush-interval") {
				cfg.FlushInterval = server.Duration(time.Duration(flushSec) * time.Second)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&quicAddr, "quic-addr", "", "QUIC listen address")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "WebSocket listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	cmd.Flags().IntVar(&tickRate, "tick-rate", 0, "simulation ticks per second")
	cmd.Flags().IntVar(&flushSec, "flush-interval", 0, "persistence flush interval in seconds")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}

func run(cfg server.Config) error {
	srv := server.NewServer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	<-stopCh

	cancel()
	return srv.Stop()
}
