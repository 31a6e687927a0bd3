// Command rungod serves a RungoDB document store over TCP and HTTP.
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
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/celerix-dev/rungodb/internal/api"
	"github.com/celerix-dev/rungodb/internal/config"
	"github.com/celerix-dev/rungodb/internal/engine"
	"github.com/celerix-dev/rungodb/internal/server"
	"github.com/celerix-dev/rungodb/internal/vault"
	"github.com/celerix-dev/rungodb/pkg/docstore"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "rungod: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	migrateTo := flag.String("migrate-to", "", "Copy all data from the configured backend to this backend (json, sqlite, dynamodb) and exit")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	ll.Set(level)

	if *configPath != "" {
		err := config.Watch(ctx, *configPath, func(next config.Config) {
			if l, err := config.ParseLevel(next.LogLevel); err == nil && l != ll.Level() {
				slog.Info("Log level changed", "level", l)
				ll.Set(l)
			}
		})
		if err != nil {
			slog.Warn("Config hot reload disabled", "err", err)
		}
	}

	persister, err := engine.NewPersister(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	if *migrateTo != "" {
		return migrate(ctx, cfg, persister, *migrateTo)
	}

	match := docstore.WithMatchMode(cfg.MatchMode())
	var e *engine.Engine
	if persister == nil {
		e = engine.New(docstore.New(match), nil)
	} else if e, err = engine.Open(ctx, persister, match); err != nil {
		return err
	}
	slog.Info("Engine started", "backend", cfg.Backend, "containers", len(e.Store().Containers()), "match", cfg.MatchMode())

	router := server.NewRouter(e)
	if cfg.DisableTLS {
		slog.Info("TLS encryption disabled")
	} else {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("failed to generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
	}

	gin.SetMode(gin.ReleaseMode)
	var limiter *api.Limiter
	if cfg.RateLimit > 0 {
		limiter = api.NewLimiter(cfg.RateLimit, cfg.RateBurst)
		defer limiter.Close()
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewEngine(e, limiter),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		slog.Info("HTTP API listening", "addr", httpServer.Addr)
		serverErr <- httpServer.ListenAndServe()
	}()
	go func() {
		serverErr <- router.Listen(cfg.Port)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, finalizing writes")
	}

	router.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
	if err := e.Flush(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("final flush: %w", err))
	}
	if err := e.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	slog.Info("Persistence complete")
	return runErr
}

func migrate(ctx context.Context, cfg config.Config, src engine.Persister, backend string) error {
	if src == nil {
		return errors.New("the memory backend has nothing to migrate")
	}
	defer src.Close()

	dstCfg := cfg
	dstCfg.Backend = backend
	if backend != config.BackendJSON {
		dstCfg.EncryptionKey = ""
	}
	if err := dstCfg.Validate(); err != nil {
		return err
	}
	dst, err := engine.NewPersister(ctx, dstCfg)
	if err != nil {
		return err
	}
	if dst == nil {
		return errors.New("cannot migrate to the memory backend")
	}
	defer dst.Close()

	containers, entities, err := engine.Migrate(ctx, src, dst)
	if err != nil {
		return err
	}
	slog.Info("Migration complete", "from", cfg.Backend, "to", backend, "containers", containers, "entities", entities)
	return nil
}
