package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/user/threat-ingestor/internal/adapter/embedding"
	"github.com/user/threat-ingestor/internal/adapter/feed"
	"github.com/user/threat-ingestor/internal/adapter/geocode"
	"github.com/user/threat-ingestor/internal/adapter/inference"
	"github.com/user/threat-ingestor/internal/adapter/metrics"
	"github.com/user/threat-ingestor/internal/adapter/repository/postgres"
	redisrepo "github.com/user/threat-ingestor/internal/adapter/repository/redis"
	"github.com/user/threat-ingestor/internal/domain"
	"github.com/user/threat-ingestor/internal/pkg/config"
	"github.com/user/threat-ingestor/internal/pkg/logger"
	"github.com/user/threat-ingestor/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.NewPipelineMetrics()

	// --- Admin and metrics server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: adminMux,
	}

	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Graceful shutdown context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and redis connections ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("could not connect to redis, place cache will degrade to miss-always", "error", err)
	}

	// --- Repositories ---
	alertRepo := postgres.NewAlertRepository(db, log)
	placeRepo := postgres.NewPlaceRepository(db, log)
	bookkeepingRepo := postgres.NewBookkeepingRepository(db, log)
	placeCache := redisrepo.NewPlaceCache(redisClient, cfg.PlaceCacheTTL, log)
	go placeCache.StartHealthCheck(ctx, 5*time.Second)

	// --- Geocoding chain ---
	gazetteer := geocode.NewGazetteer()
	freeGeocoder := geocode.NewFreeGeocoder(cfg.FreeGeocoderURL, cfg.FreeGeocoderRPS, 10*time.Second, log)
	paidGeocoder := geocode.NewPaidGeocoder(cfg.PaidGeocoderURL, cfg.PaidGeocoderKey, 10*time.Second, log)
	resolver := geocode.NewResolver(placeCache, placeRepo, freeGeocoder, paidGeocoder, gazetteer,
		cfg.QASampleRate, cfg.WeakMethodSampleRate, log, m)

	// --- Inference path ---
	breaker := inference.NewBreaker(cfg.BreakerFailureThreshold, cfg.BreakerCooldown, func(s inference.BreakerState) {
		m.BreakerState.Set(float64(s))
	})
	inferenceClient := inference.NewClient(cfg.InferenceURL, cfg.InferenceAPIKey, breaker, cfg.InferenceTimeout, log)

	locateUseCase := usecase.NewLocateUseCase(gazetteer, resolver, alertRepo, log)
	batchManager := usecase.NewBatchManager(usecase.BatchManagerConfig{
		InitialThreshold: cfg.BatchInitialSize,
		MaxSize:          cfg.BatchMaxSize,
		MaxAge:           cfg.BatchMaxAge,
		ItemMaxAge:       cfg.BatchItemMaxAge,
		LatencyTarget:    cfg.BatchLatencyTarget,
		MaxRetries:       cfg.FlushMaxRetries,
	}, inferenceClient, bookkeepingRepo, locateUseCase.OnBatchResolved, log, m)
	locateUseCase.BindBatchManager(batchManager)
	go batchManager.Run(ctx, time.Second)

	// --- Scoring ---
	quota := embedding.NewQuotaManager(cfg.EmbeddingDailyTokens, cfg.EmbeddingDailyRequests, m)
	embedder := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, quota, cfg.EmbeddingTimeout, log, m)
	scorer := usecase.NewScorer(embedder, log)

	// --- Orchestrator and adapters ---
	enrichUseCase := usecase.NewEnrichUseCase(alertRepo, usecase.NewClassifier(), locateUseCase, scorer, log, m)

	admission := feed.NewAdmissionFilter(cfg.MinCorroboration, cfg.ImpactThreshold,
		cfg.SentimentThreshold, cfg.MaxEventAge, cfg.AllowedEventCodes)

	adapters := []feed.Adapter{
		feed.NewGDELTAdapter(cfg.GlobalEventsURL, admission, cfg.AdapterTimeout, log, m),
	}
	if cfg.ConflictAPIKey != "" {
		adapters = append(adapters, feed.NewConflictAdapter(cfg.ConflictAPIURL, cfg.ConflictAPIKey,
			cfg.ConflictAPIEmail, cfg.ConflictCountries, cfg.ConflictLookback, cfg.AdapterTimeout, log))
	}
	for i, url := range cfg.FeedURLs {
		adapters = append(adapters, feed.NewRSSAdapter(fmt.Sprintf("feed-%d", i), url, cfg.AdapterTimeout, log))
	}

	runner := feed.NewRunner(adapters, cfg.WorkerConcurrency, cfg.AdapterTimeout, log, m)

	// --- Ingestion scheduler ---
	log.Info("starting ingestion scheduler", "interval", cfg.IngestInterval, "adapters", len(adapters))
	ticker := time.NewTicker(cfg.IngestInterval)
	defer ticker.Stop()

	runCycle := func() {
		cycleStart := time.Now()
		runner.FetchAll(ctx, func(event domain.RawEvent) {
			enrichUseCase.ProcessEvent(ctx, event)
		})
		log.Info("ingestion cycle completed", "elapsed", time.Since(cycleStart))
	}

	runCycle()

Loop:
	for {
		select {
		case <-ticker.C:
			runCycle()
		case <-ctx.Done():
			log.Info("shutdown signal received, draining location batch")
			break Loop
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	batchManager.FlushNow(shutdownCtx)

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	log.Info("ingestor shut down gracefully")
}
