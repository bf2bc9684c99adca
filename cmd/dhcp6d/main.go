package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codelaboratoryltd/dhcp6d/pkg/config"
	"github.com/codelaboratoryltd/dhcp6d/pkg/hooks"
	"github.com/codelaboratoryltd/dhcp6d/pkg/iface"
	"github.com/codelaboratoryltd/dhcp6d/pkg/lease"
	"github.com/codelaboratoryltd/dhcp6d/pkg/metrics"
	"github.com/codelaboratoryltd/dhcp6d/pkg/server"
	"github.com/codelaboratoryltd/dhcp6d/pkg/serverid"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dhcp6d",
	Short: "Authoritative DHCPv6 server",
	Long: `dhcp6d - authoritative DHCPv6 address assignment

Assigns IPv6 addresses from administrator-configured subnets and manages
the resulting lease bindings across the client request lifecycle.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the DHCPv6 server",
	RunE:  runServer,
}

var (
	configFile   string
	serverIDFile string
	leaseBackend string
	leaseDBPath  string
	metricsAddr  string
	logLevel     string
)

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/dhcp6d/config.json",
		"Path to the server configuration (JSON)")
	runCmd.Flags().StringVar(&serverIDFile, "server-id-file", "/var/lib/dhcp6d/server-id",
		"Path of the persisted server DUID")
	runCmd.Flags().StringVar(&leaseBackend, "lease-backend", "memory",
		"Lease store backend (memory or sqlite)")
	runCmd.Flags().StringVar(&leaseDBPath, "lease-db", "/var/lib/dhcp6d/leases.db",
		"Lease database path for the sqlite backend")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9547",
		"Prometheus metrics listen address (empty to disable)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	subnets, err := cfg.BuildSubnets()
	if err != nil {
		return err
	}

	registry := config.NewRegistry()
	registry.ReplaceAll(subnets)

	store, err := buildLeaseStore()
	if err != nil {
		return err
	}
	defer store.Close()

	duid, err := serverid.LoadOrGenerate(serverIDFile, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	m.ConfiguredSubnets.Set(float64(registry.Len()))

	srv, err := server.New(server.Config{
		ServerDUID: duid,
		Subnets:    registry,
		Leases:     store,
		Hooks:      hooks.NewRegistry(),
		Metrics:    m,
	}, logger)
	if err != nil {
		return err
	}

	conn, err := iface.Listen(cfg.Interfaces.Names, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		httpSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			logger.Info("Metrics server started", zap.String("addr", metricsAddr))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return srv.Run(ctx, conn)
}

func buildLeaseStore() (lease.Store, error) {
	switch leaseBackend {
	case "memory":
		return lease.NewMemoryStore(), nil
	case "sqlite":
		return lease.NewSQLiteStore(leaseDBPath)
	default:
		return nil, fmt.Errorf("unknown lease backend %q", leaseBackend)
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
