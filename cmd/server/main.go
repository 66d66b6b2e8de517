// Command server runs the realtime chat coordination service: a WebSocket
// edge over the message pipeline, presence tracking, and read-receipt
// aggregation, backed by SQLite for durable state and (optionally) Redis
// for shared ephemeral state across instances.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-realtime/internal/config"
	httpapi "github.com/tbourn/go-chat-realtime/internal/http"
	"github.com/tbourn/go-chat-realtime/internal/observability"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/store"
	"github.com/tbourn/go-chat-realtime/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	ver := sysutil.FirstNonEmpty(os.Getenv("VERSION"), version)
	log.Info().Str("version", ver).Str("port", cfg.Port).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing.
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Durable state.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Ephemeral state: Redis when reachable, in-memory otherwise.
	st := store.Connect(ctx, cfg.Redis)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	app := httpapi.RegisterRoutes(r, db, st, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
	}

	// Shutdown order matters: stop accepting upgrades, drop live
	// connections, then close the coordinator so the final receipt flush
	// sees no new writes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	app.Hub.CloseAll()
	if err := app.Coordinator.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("coordinator close")
	}
	if rs, ok := st.(interface{ Close() error }); ok {
		_ = rs.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("stopped")
}
