// Package main provides the entry point for the pagemill render service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagemill/internal/config"
	"github.com/Rorqualx/pagemill/internal/executor"
	"github.com/Rorqualx/pagemill/internal/handlers"
	"github.com/Rorqualx/pagemill/internal/metrics"
	"github.com/Rorqualx/pagemill/internal/middleware"
	"github.com/Rorqualx/pagemill/internal/pool"
	"github.com/Rorqualx/pagemill/internal/queue"
	"github.com/Rorqualx/pagemill/internal/rules"
	"github.com/Rorqualx/pagemill/internal/scheduler"
	"github.com/Rorqualx/pagemill/internal/session"
	"github.com/Rorqualx/pagemill/pkg/version"
)

func main() {
	cfg := config.Load()

	// Logging goes up first so validation warnings are visible.
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	printBanner()

	rulesMgr, err := rules.NewManager(cfg.RulesPath, cfg.RulesHotReload)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("Failed to load extraction rules")
	}

	log.Info().Int("capacity", cfg.PoolCapacity).Int("prewarm", cfg.PoolPrewarm).Msg("Initializing session pool...")
	sessionPool, err := pool.New(cfg, session.NewRodFactory(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session pool")
	}

	taskQueue := queue.New(cfg.QueueMaxDepth)
	sched := scheduler.New(cfg, taskQueue, sessionPool, executor.New(rulesMgr))
	sched.Start()

	handler := handlers.New(sched, sessionPool, taskQueue, rulesMgr, cfg)
	router := handlers.NewRouter(handler)

	// Middleware order: recovery outermost, then logging, rate limiting,
	// CORS, security headers.
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
	}

	var rateLimiter *middleware.RateLimiterMiddleware
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)
		chain = append(chain, rateLimiter.Handler())
	}

	chain = append(chain,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
		middleware.SecurityHeaders,
	)
	finalHandler := middleware.Chain(chain...)(router)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      finalHandler,
		ReadTimeout:  cfg.MaxTaskTimeout + 10*time.Second,
		WriteTimeout: cfg.MaxTaskTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.MetricsPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("pool_capacity", cfg.PoolCapacity).
			Int("queue_max_depth", cfg.QueueMaxDepth).
			Bool("metrics_enabled", cfg.MetricsEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("pagemill is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop admitting requests, then drain the scheduler before tearing down
	// the pool it leases from.
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	if rateLimiter != nil {
		rateLimiter.Close()
	}

	sched.Stop()

	if err := sessionPool.Close(); err != nil {
		log.Error().Err(err).Msg("Session pool close error")
	}
	if err := rulesMgr.Close(); err != nil {
		log.Error().Err(err).Msg("Rules manager close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 _ __   __ _  __ _  ___ _ __ ___ (_) | |
| '_ \ / _' |/ _' |/ _ \ '_ ' _ \| | | |
| |_) | (_| | (_| |  __/ | | | | | | | |
| .__/ \__,_|\__, |\___|_| |_| |_|_|_|_|
|_|          |___/
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting pagemill")
}
