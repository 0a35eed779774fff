package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Adacracker/MintTrail/internal/api"
	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/bundle"
	"github.com/Adacracker/MintTrail/internal/config"
	"github.com/Adacracker/MintTrail/internal/observability"
	"github.com/Adacracker/MintTrail/internal/ratelimit"
	"github.com/Adacracker/MintTrail/internal/trace"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file (empty for defaults)")
	stubMode := flag.Bool("stub", false, "Use the in-memory stub instead of Blockfrost")
	flag.Parse()

	// 2. Load configuration.
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("stub_mode", *stubMode).
		Str("addr", cfg.Server.Addr).
		Str("blockfrost", cfg.Blockfrost.BaseURL).
		Int("rate_limit", cfg.RateLimit.MaxRequests).
		Dur("rate_window", cfg.RateLimit.Window).
		Msg("Configuration loaded")

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	// 4. Create the Blockfrost client.
	var client blockfrost.Client
	if *stubMode {
		client = blockfrost.NewStubClient()
		log.Info().Msg("Blockfrost: STUB mode")
	} else {
		if cfg.Blockfrost.ProjectID == "" {
			log.Fatal().Str("env", config.ProjectIDEnv).Msg("Blockfrost project id is not configured")
		}
		var opts []blockfrost.Option
		if metrics != nil {
			opts = append(opts, blockfrost.WithObserver(metrics))
		}
		live := blockfrost.NewLiveClient(cfg.Blockfrost, opts...)
		defer live.Close()
		client = live

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Blockfrost.BaseURL).
				Msg("Blockfrost health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Blockfrost.BaseURL).Msg("Blockfrost: LIVE - connected")
		}
		healthCancel()
	}

	// 5. Create services.
	tracer := trace.NewService(client, cfg.Trace.Config, cfg.Trace.KnownTokens)
	bundles := bundle.NewService(client, cfg.Bundle.Analyzer, cfg.Bundle.Scorer)
	limiter := ratelimit.New(cfg.RateLimit)
	if metrics != nil {
		metrics.TrackLimiter(limiter)
	}

	health := observability.NewHealthMonitor(cfg.Metrics.HealthInterval, cfg.Metrics.HealthTimeout)
	health.Register("blockfrost", observability.UpstreamCheck(client))
	health.Register("ratelimit", observability.LimiterCheck(limiter, cfg.Metrics.MaxTrackedCallers))

	server := api.NewServer(api.Deps{
		Tracer:   tracer,
		Bundles:  bundles,
		Limiter:  limiter,
		Metrics:  metrics,
		Health:   health,
		Upstream: client,
	}, api.Options{
		TrustProxy:     cfg.Server.TrustProxy,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// 6. Wire signals.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 7. Start background loops.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		limiter.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		health.Start(ctx)
	}()

	// 8. Serve HTTP.
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.Server.Addr).Msg("MintTrail HTTP server started (api + ws + health + stats + metrics)")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl := limiter.Stats()
				ev := log.Info().
					Int("callers", rl.TrackedKeys).
					Int64("admitted", rl.Admitted).
					Int64("rejected", rl.Rejected).
					Uint64("unique_callers", rl.UniqueCallers)
				if live, ok := client.(*blockfrost.LiveClient); ok {
					bs := live.Stats()
					ev = ev.Int64("upstream_requests", bs.RequestCount).
						Int64("upstream_errors", bs.ErrorCount).
						Int64("upstream_retries", bs.RetryCount).
						Bool("circuit_open", bs.CircuitOpen)
				}
				ev.Msg("[STATS]")
			}
		}
	}()

	// 9. Block until shutdown.
	<-ctx.Done()

	// 10. Graceful shutdown.
	log.Info().Msg("Shutting down MintTrail...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	shutdownCancel()
	wg.Wait()

	rl := limiter.Stats()
	log.Info().
		Int64("admitted", rl.Admitted).
		Int64("rejected", rl.Rejected).
		Uint64("unique_callers", rl.UniqueCallers).
		Msg("MintTrail stopped")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "minttrail").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "minttrail").
			Str("instance", general.InstanceID).Logger()
	}
}
