// trailverse-authd serves the Trailverse authentication API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trailversedev/trailverse/internal/audit"
	"github.com/trailversedev/trailverse/internal/auth"
	"github.com/trailversedev/trailverse/internal/httpapi"
	"github.com/trailversedev/trailverse/internal/migrate"
	"github.com/trailversedev/trailverse/internal/store/postgres"
)

const shutdownGrace = 15 * time.Second

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	engine, err := auth.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithUserStore(postgres.NewUserRepo(db)).
		WithLogger(log).
		WithAuditSink(audit.NewZapSink(log.Named("audit"))).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	handler := httpapi.NewHandler(engine, log, httpapi.Options{
		SecureCookies: cfg.SecureCookies,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
