package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/pamirel/thermogate/internal/adminrpc"
	"github.com/pamirel/thermogate/internal/config"
	"github.com/pamirel/thermogate/internal/credentials"
	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/gateway/session"
	"github.com/pamirel/thermogate/internal/gateway/store/backend"
	"github.com/pamirel/thermogate/internal/keyvault"
	"github.com/pamirel/thermogate/internal/metrics"
	"github.com/pamirel/thermogate/internal/wsapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "thermogate-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("thermogate-server", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML config file (default: $THERMOGATE_CONFIG)")
	seedDev := flags.Bool("seed-dev", false, "in dev, provision sqlite storage for every device in the vault")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Env)

	masterKey, err := keyvault.ParseMasterKey(cfg.MasterKey)
	if err != nil {
		return err
	}
	cipher, err := keyvault.NewCipher(masterKey)
	keyvault.Zero(masterKey)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The vault is loaded once, before the listener starts.
	vault := keyvault.Load(ctx, cfg.VaultPath, cipher, logger)

	ts, closeStore, err := backend.Open(ctx, cfg, backend.Options{
		Provision: vault.DeviceIDs(),
		SeedDev:   *seedDev,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	registry := service.NewDeviceRegistry(vault, ts)
	if missing, err := registry.Unprovisioned(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not check device storage")
	} else if len(missing) > 0 {
		logger.Warn().Strs("esp_ids", missing).Msg("devices without telemetry storage; their data will be refused")
	}

	m := metrics.New()
	ingest := service.NewIngestService(service.NewAuthenticator(vault), ts, logger)
	operators := service.NewOperatorService(
		credentials.NewFileStore(cfg.UsersPath), ts,
		service.OperatorConfig{HistoryLimit: cfg.HistoryLimit}, logger,
	)
	router := session.NewRouter(session.Dependencies{
		Logger: logger,
		Policy: session.OriginPolicy{
			OperatorOrigins: cfg.OperatorOrigins,
			DeviceOrigin:    cfg.DeviceOrigin,
		},
		Ingest:          ingest,
		Operators:       operators,
		Metrics:         m,
		LoginsPerMinute: cfg.LoginRatePerMin,
	})

	srv := wsapi.NewServer(wsapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Router:  router,
		Metrics: m,
	})

	pruner := service.NewTelemetryPruner(ts, service.PrunerConfig{
		RetentionDays: cfg.RetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	var admin *adminrpc.Server
	if cfg.AdminAddr != "" {
		lis, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("admin listen: %w", err)
		}
		admin = adminrpc.New(vault, logger)
		go func() {
			if err := admin.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("admin server error")
			}
		}()
		defer admin.Stop()
	}

	// SIGHUP re-reads the vault after out-of-band provisioning.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := vault.Reload(ctx); err != nil {
					logger.Error().Err(err).Msg("vault reload failed")
				}
				if admin != nil {
					admin.Refresh()
				}
			}
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.Store).Msg("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Str("service", "thermogate").Logger()
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "thermogate").Logger()
}
