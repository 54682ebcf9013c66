package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamereview/api/internal/cache"
	"github.com/gamereview/api/internal/engine"
	"github.com/gamereview/api/internal/httpapi"
	"github.com/gamereview/api/internal/job"
	"github.com/gamereview/api/internal/lichess"
	"github.com/gamereview/api/internal/logx"
	"github.com/gamereview/api/internal/review"
)

func main() {
	defaultStockfish := "/usr/local/bin/stockfish"
	if envPath := os.Getenv("STOCKFISH_PATH"); envPath != "" {
		defaultStockfish = envPath
	}

	var (
		// Server
		addr = flag.String("addr", ":8007", "listen address")

		// Stockfish
		stockfishPath = flag.String("stockfish", defaultStockfish, "path to Stockfish executable")

		// Engine settings
		engineWorkers  = flag.Int("engine-workers", 8, "number of engine processes")
		engineDepth    = flag.Int("engine-depth", 18, "search depth per position")
		engineMultiPV  = flag.Int("engine-multipv", 3, "candidate moves per position")
		engineHash     = flag.Int("engine-hash", 128, "engine hash MB per worker")
		engineThreads  = flag.Int("engine-threads", 1, "engine threads per worker")
		requestTimeout = flag.Duration("request-timeout", 15*time.Second, "per-position search budget")

		// Analysis settings
		maxGames        = flag.Int("max-games", 5, "recent games analyzed per user")
		gameConcurrency = flag.Int("game-concurrency", 3, "games analyzed at once per job")

		// Cache settings
		cacheDir   = flag.String("cache-dir", "./data/cache", "durable cache directory (empty = disabled)")
		cacheTTL   = flag.Duration("cache-ttl", 24*time.Hour, "durable cache entry lifetime")
		memEntries = flag.Int("mem-entries", 100000, "in-memory cache entry limit")

		// Upstream settings
		lichessURL = flag.String("lichess-url", "https://lichess.org/api", "game provider base URL")
	)
	flag.Parse()

	logger := logx.NewLogger()

	// Durable tier is optional; a failure here just means the layer runs
	// on the in-memory tier alone.
	var durable cache.Durable
	if *cacheDir != "" {
		disk, err := cache.NewDisk(*cacheDir, *cacheTTL)
		if err != nil {
			logger.Warn().Err(err).Str("dir", *cacheDir).Msg("durable cache disabled")
		} else {
			durable = disk
			logger.Info().Str("dir", *cacheDir).Dur("ttl", *cacheTTL).Msg("durable cache opened")
		}
	}
	layer := cache.New(cache.NewMemory(*memEntries), durable, logger.With().Str("component", "cache").Logger())

	pool, err := engine.NewPool(engine.Config{
		EnginePath:     *stockfishPath,
		Logger:         logger.With().Str("component", "engine-pool").Logger(),
		Workers:        *engineWorkers,
		Depth:          *engineDepth,
		MultiPV:        *engineMultiPV,
		HashMB:         *engineHash,
		Threads:        *engineThreads,
		RequestTimeout: *requestTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine pool")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := pool.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("engine pool stopped")
		}
	}()

	source := lichess.NewClient(lichess.Config{
		BaseURL:  *lichessURL,
		APIToken: os.Getenv("LICHESS_TOKEN"),
		Logger:   logger.With().Str("component", "lichess").Logger(),
	})

	evaluator := review.NewCachedEvaluator(layer, pool)
	agg := review.NewAggregator(evaluator, review.AggregatorConfig{
		GameConcurrency: *gameConcurrency,
		Logger:          logger.With().Str("component", "aggregator").Logger(),
	})
	svc := review.NewService(source, agg, layer, review.ServiceConfig{
		MaxGames: *maxGames,
		Logger:   logger.With().Str("component", "review").Logger(),
	})

	jobs := job.NewManager(svc, logger.With().Str("component", "jobs").Logger())
	defer jobs.Close()

	srv := &http.Server{
		Addr:        *addr,
		Handler:     httpapi.NewRouter(logger, jobs, pool, layer),
		ReadTimeout: 30 * time.Second,
		// Write timeout stays generous; the events endpoint holds its
		// connection open for the life of a job.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}
