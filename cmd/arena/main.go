package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pr3m/xrparena/internal/config"
	"github.com/pr3m/xrparena/internal/llm"
	"github.com/pr3m/xrparena/internal/market"
	"github.com/pr3m/xrparena/internal/orchestrator"
	"github.com/pr3m/xrparena/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./arena.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("environment", cfg.App.Environment).
		Str("pair", cfg.Arena.Pair).
		Msg("Starting XRP Arena")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres
	db, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Optional redis mirror for external snapshot readers
	var mirror *market.Mirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, snapshot mirror disabled")
		} else {
			mirror = market.NewMirror(rdb, 2*time.Minute, log.Logger)
			defer rdb.Close()
		}
	}

	// Market data
	kraken := market.NewKrakenClient(market.KrakenConfig{
		BaseURL:           cfg.Market.BaseURL,
		RequestsPerSecond: cfg.Market.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Market.TimeoutMs) * time.Millisecond,
	}, log.Logger)
	cache := market.NewCache(kraken, market.CacheConfig{
		Pair:          cfg.Arena.Pair,
		ReferencePair: cfg.Arena.ReferencePair,
		MinRefresh:    time.Duration(cfg.Market.RefreshSeconds) * time.Second,
		Mirror:        mirror,
	}, log.Logger)

	// Language model gateway
	var invoker llm.Invoker
	if cfg.LLM.Endpoint != "" {
		invoker = llm.NewClient(llm.ClientConfig{
			Endpoint: cfg.LLM.Endpoint,
			APIKey:   cfg.LLM.APIKey,
			Timeout:  time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
		})
	} else {
		log.Warn().Msg("No LLM endpoint configured, agents run on signals only")
	}

	orch := orchestrator.GetOrCreate("main", orchestrator.Deps{
		Cache:   cache,
		Store:   db,
		Invoker: invoker,
		Logger:  log.Logger,
	})

	// Optional NATS fan-out for external consumers
	var natsSink *orchestrator.NATSSink
	if cfg.NATS.Enabled {
		natsSink, err = orchestrator.NewNATSSink(orchestrator.NATSSinkConfig{
			URL:    cfg.NATS.URL,
			Prefix: cfg.NATS.SubjectPrefix + ".",
		})
		if err != nil {
			log.Warn().Err(err).Msg("NATS unreachable, external event sink disabled")
		} else {
			defer natsSink.Close()
			unsubscribe := orch.Subscribe(natsSink)
			defer unsubscribe()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS event sink attached")
		}
	}

	hub := NewHub(orch)
	go hub.Run()

	server := newServer(orch, cache, invoker, hub, cfg)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      server.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if orch.Status() != orchestrator.StatusIdle {
		if summary, err := orch.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop session cleanly")
		} else {
			log.Info().Str("winner", summary.Winner).Msg("Session closed on shutdown")
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("Shutdown complete")
}
