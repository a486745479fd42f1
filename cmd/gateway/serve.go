package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Zert3x/spacebar-gateway/internal/config"
	"github.com/Zert3x/spacebar-gateway/pkg/gateway"
	"github.com/Zert3x/spacebar-gateway/pkg/membership"
	"github.com/Zert3x/spacebar-gateway/pkg/middleware"
	"github.com/Zert3x/spacebar-gateway/pkg/registry"
)

func serveCmd() *cobra.Command {
	var (
		address string
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		Long: `Run the gateway server until interrupted.

Configuration comes from the environment (GATEWAY_* variables);
flags override it. On SIGINT or SIGTERM every connected client is
asked to reconnect before the listener stops.

Examples:
  gateway serve
  gateway serve --address=:8080 --db=/var/lib/gateway/gateway.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(address, dbPath)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Address to listen on (default from env)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default from env)")

	return cmd
}

func runServe(address, dbPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if address != "" {
		cfg.Address = address
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	store, err := membership.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open membership store: %w", err)
	}
	defer store.Close()

	reg := registry.New(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshot, err := store.RoleMembers(ctx)
	if err != nil {
		return fmt.Errorf("load role members: %w", err)
	}
	reg.SeedRoles(snapshot)
	logger.Info("role index seeded", "roles", len(snapshot))

	srvCfg := serverConfig(cfg)
	srvCfg.Middlewares = []func(http.Handler) http.Handler{
		middleware.Metrics(),
		middleware.Tracing(),
	}
	srvCfg.BusMetrics = registry.NewBusMetrics(prometheus.DefaultRegisterer)
	metrics := gateway.NewMetrics(prometheus.DefaultRegisterer)
	srv := gateway.NewServer(srvCfg, reg, store, metrics, logger)

	logger.Info("starting gateway",
		"address", srvCfg.Address,
		"db", cfg.DBPath,
		"heartbeat_interval", srvCfg.Session.HeartbeatInterval.String())

	return srv.Run(ctx)
}

// serverConfig folds the environment on top of the serving defaults.
func serverConfig(cfg *config.Config) *gateway.ServerConfig {
	srvCfg := gateway.DefaultServerConfig()
	srvCfg.Address = cfg.Address
	if cfg.HeartbeatInterval > 0 {
		srvCfg.Session.HeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.HandshakeTimeout > 0 {
		srvCfg.Session.HandshakeTimeout = cfg.HandshakeTimeout
	}
	if cfg.ResumeWindow > 0 {
		srvCfg.Session.ResumeWindow = cfg.ResumeWindow
	}
	if cfg.InboxCapacity > 0 {
		srvCfg.Session.InboxCapacity = cfg.InboxCapacity
	}
	if cfg.ShutdownTimeout > 0 {
		srvCfg.ShutdownTimeout = cfg.ShutdownTimeout
	}
	return srvCfg
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler), nil
}
