package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/jetfinder/internal/ble"
	"github.com/DoyleJ11/jetfinder/internal/config"
	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/internal/finder"
	"github.com/DoyleJ11/jetfinder/internal/gameapi"
	"github.com/DoyleJ11/jetfinder/internal/httpapi"
	"github.com/DoyleJ11/jetfinder/internal/logging"
	"github.com/DoyleJ11/jetfinder/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()
	logger.Info("storage ready", zap.Bool("postgres", cfg.DatabaseURL != ""))

	client, err := gameapi.New(cfg.BackendURL, cfg.RequestTimeout, store, logger)
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	f := finder.New(ctx, ble.NewAdapter(logger), client, store, finder.Options{
		RetryDelay:   cfg.RetryDelay,
		TickInterval: cfg.TickInterval,
		Rules:        engine.Rules{UnionCollected: cfg.UnionCollected},
	}, logger)
	defer f.Close()

	if _, err := f.LoadGameConfig(ctx); err != nil {
		// The UI offers a retry through POST /config/load.
		logger.Warn("loading game config", zap.Error(err))
	}
	if cfg.ScanOnStart {
		f.StartScanning(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(f, cfg.AllowedOrigins, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return f.Run(gctx) })

	g.Go(func() error {
		logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, dsn string) (*storage.Store, error) {
	if dsn == "" {
		return storage.NewMemory(), nil
	}
	store, err := storage.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return store, nil
}
