package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"trafficgate/internal/api"
	"trafficgate/internal/config"
	"trafficgate/internal/decisioncache"
	"trafficgate/internal/engine"
	"trafficgate/internal/fingerprint"
	"trafficgate/internal/geo"
	"trafficgate/internal/kv"
	"trafficgate/internal/listener"
	"trafficgate/internal/ratelimit"
	"trafficgate/internal/reputation"
	"trafficgate/internal/storage"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	// Shared kv: Redis when configured, in-process otherwise.
	var kvStore kv.Store
	if cfg.Redis.Enabled {
		r := kv.NewRedis(cfg.Redis.Addr)
		if err := r.Ping(rootCtx); err != nil {
			log.Error().Err(err).Msg("redis unreachable at startup; limiter and caches will fail open")
		}
		defer r.Close()
		kvStore = r
	} else {
		kvStore = kv.NewMemory()
	}

	// Geography provider: MaxMind when a database is configured,
	// bundled static dataset otherwise, unknown-everything as the last
	// resort.
	var provider geo.Provider
	switch {
	case cfg.Geo.MaxMindPath != "":
		mm, err := geo.OpenMaxMind(cfg.Geo.MaxMindPath)
		if err != nil {
			log.Error().Err(err).Msg("maxmind unavailable; geography resolves unknown")
		} else {
			defer mm.Close()
			provider = mm
		}
	case cfg.Geo.DatasetPath != "":
		sp, err := geo.LoadStatic(cfg.Geo.DatasetPath)
		if err != nil {
			log.Error().Err(err).Msg("geo dataset unavailable; geography resolves unknown")
		} else {
			provider = sp
		}
	}
	resolver := geo.NewResolver(provider, kvStore, cfg.GeoCacheTTL())

	// Reputation: compiled-in defaults, optionally replaced from disk.
	detector := reputation.NewDetector()
	if cfg.Reputation.DatasetPath != "" {
		_ = detector.LoadFile(cfg.Reputation.DatasetPath) // fail-open, already logged
	}

	fingerprints := fingerprint.NewPostgresStore(store.PgxPool())
	limiter := ratelimit.New(kvStore, cfg.RateLimit.Requests, cfg.RateWindow())
	decisions := decisioncache.New(kvStore, cfg.DecisionTTL())

	// Engine + initial snapshot
	eng := engine.New(resolver, detector, fingerprints, limiter, decisions)
	if err := eng.BuildSnapshot(rootCtx, store); err != nil {
		log.Fatal().Err(err).Msg("initial snapshot build")
	}

	// HTTP
	h := api.NewHandler(eng, fingerprints)
	r := api.Router(h)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Snapshot refresher (LISTEN/NOTIFY)
	go listener.ListenAndRefresh(rootCtx, store, eng, cfg.Listener.Channel, cfg.Backoff())

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
