package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicore/session-coordinator/config"
	"github.com/clinicore/session-coordinator/internal/records"
	"github.com/clinicore/session-coordinator/internal/relay"
	"github.com/clinicore/session-coordinator/internal/room"
	"github.com/clinicore/session-coordinator/internal/tokens"
	httpx "github.com/clinicore/session-coordinator/internal/transport/http"
	"github.com/clinicore/session-coordinator/internal/transport/ws"
	"github.com/clinicore/session-coordinator/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting session-coordinator",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	ctx := context.Background()

	// --- clinical records store ---
	var store records.Store = records.Noop{}
	if cfg.Postgres.DSN != "" {
		pool, err := records.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		store = records.NewPgStore(pool)
	} else {
		slog.Warn("postgres.dsn empty, transcripts will not be persisted")
	}
	store = records.WithRetry(store)

	// --- admission tokens ---
	tokenTTL := cfg.Room.AdmissionTokenTTLOr(tokens.DefaultTTL)
	var issuer tokens.Issuer = tokens.NewMemory(tokenTTL)
	if cfg.Redis.Addr != "" {
		rdb, err := tokens.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer func() { _ = rdb.Close() }()
		issuer = tokens.NewRedis(rdb, tokenTTL)
	}

	// --- media relay ---
	var relayClient relay.Client = relay.Noop{}
	if cfg.Relay.BaseURL != "" {
		relayClient = relay.NewHTTPClient(cfg.Relay.BaseURL)
	} else {
		slog.Warn("relay.baseUrl empty, recording handles are synthetic")
	}

	// --- room registry ---
	registry := room.NewRegistry(room.Options{
		GracePeriod:         cfg.Room.GracePeriodOr(30 * time.Second),
		LogWindow:           cfg.Room.LogWindow,
		BusWindow:           cfg.Room.BusWindow,
		AdmissionSeed:       cfg.Room.AdmissionSeedOr(90 * time.Second),
		CollaboratorTimeout: cfg.Room.CollaboratorTimeoutOr(5 * time.Second),
	}, store, relayClient, issuer)

	// --- HTTP + WS ---
	wsServer := ws.NewServer(registry)
	handler := httpx.NewHandler(registry)
	router := httpx.NewRouter(handler, registry, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	registry.Shutdown(ctxShutdown)
	slog.Info("stopped")
}
