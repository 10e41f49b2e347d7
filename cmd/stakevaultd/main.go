package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stakevault/cmd/internal/passphrase"
	"stakevault/config"
	"stakevault/core/events"
	"stakevault/core/genesis"
	"stakevault/core/state"
	"stakevault/crypto"
	"stakevault/native/bank"
	"stakevault/native/staking"
	"stakevault/observability/logging"
	"stakevault/observability/metrics"
	telemetry "stakevault/observability/otel"
	"stakevault/rpc"
	"stakevault/storage"
	"stakevault/storage/eventlog"
)

const (
	serviceName     = "stakevaultd"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis file (overrides config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *genesisFlag != "" {
		cfg.GenesisFile = *genesisFlag
	}

	logger, logCloser := logging.Setup(serviceName, cfg.Env, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Level:      logging.ParseLevel(cfg.Logging.Level),
	})

	err = run(cfg, logger)
	if err != nil {
		logger.Error("stakevaultd exited with error", slog.Any("error", err))
	}
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	adminAddr, err := loadAdmin(cfg.KeystorePath, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	mgr := state.NewManager(db)

	eventStore, err := eventlog.Open(filepath.Join(cfg.DataDir, "events.db"), logger)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer eventStore.Close()

	unit, err := cfg.ParsedDurationUnit()
	if err != nil {
		return err
	}
	engine := staking.NewEngine(mgr)
	engine.SetDurationUnit(unit)
	engine.SetMetrics(metrics.Staking())
	engine.SetEmitter(events.MultiEmitter{eventStore})

	admin, err := initStaking(cfg.GenesisFile, mgr, engine, adminAddr)
	if err != nil {
		return err
	}
	if err := engine.PublishTotals(); err != nil {
		return fmt.Errorf("publish staking totals: %w", err)
	}
	logger.Info("staking module ready",
		"admin", crypto.FromRaw(admin).String(),
		"vault", crypto.FromRaw(engine.VaultAddress()).String(),
		"duration_unit", unit.String(),
	)

	if cfg.HMACSecret() == "" {
		logger.Warn("no auth secret configured; mutating RPC methods will reject every call")
	}
	server := rpc.NewServer(engine, bank.NewLedger(mgr), eventStore, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.HMACSecret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.ClockSkew(),
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)
	server.SetMetrics(metrics.Staking())

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func loadAdmin(path string, logger *slog.Logger) ([20]byte, error) {
	pass, err := passphrase.NewSource(passphrase.DefaultEnvVar, "admin keystore").Get()
	if err != nil {
		return [20]byte{}, err
	}
	key, created, err := crypto.LoadOrCreateKeystore(path, pass)
	if err != nil {
		return [20]byte{}, fmt.Errorf("load admin keystore: %w", err)
	}
	addr := key.PubKey().Address()
	if created {
		logger.Info("generated admin keystore", "path", path, "account", addr.String())
	}
	return addr.Raw(), nil
}

// initStaking applies the genesis file when one is configured. Without one
// the module is initialised with the keystore account as administrator and
// the default reward rates.
func initStaking(genesisPath string, mgr *state.Manager, engine *staking.Engine, keystoreAdmin [20]byte) ([20]byte, error) {
	if genesisPath == "" {
		if err := engine.Init(keystoreAdmin, staking.DefaultRewardRates); err != nil {
			return keystoreAdmin, fmt.Errorf("init staking: %w", err)
		}
		return keystoreAdmin, nil
	}
	spec, err := genesis.LoadGenesisSpec(genesisPath)
	if err != nil {
		return [20]byte{}, err
	}
	return genesis.Apply(spec, mgr, engine, keystoreAdmin)
}
