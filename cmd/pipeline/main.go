package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/user/txstream/internal/adapter/api"
	"github.com/user/txstream/internal/adapter/api/middleware"
	embeddedbroker "github.com/user/txstream/internal/adapter/broker/embedded"
	redisbroker "github.com/user/txstream/internal/adapter/broker/redis"
	"github.com/user/txstream/internal/adapter/metrics"
	"github.com/user/txstream/internal/adapter/repository/postgres"
	"github.com/user/txstream/internal/adapter/scoring"
	"github.com/user/txstream/internal/domain"
	"github.com/user/txstream/internal/pkg/config"
	"github.com/user/txstream/internal/pkg/logger"
	"github.com/user/txstream/internal/stream"
	"github.com/user/txstream/internal/txgen"
	"github.com/user/txstream/internal/usecase"

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

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Analytics Sink ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")
	sinkRepo := postgres.NewTransactionRepository(db, log)

	// --- Broker Backend ---
	var (
		broker    domain.Broker
		adminRepo domain.StreamAdminRepository
	)
	switch cfg.BrokerBackend {
	case "redis":
		redisOpts, err := goredis.ParseURL(cfg.RedisAddr)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := goredis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		log.Info("connected to redis")
		broker = redisbroker.NewBroker(redisClient, cfg.StreamName, log)
		adminRepo = redisbroker.NewAdminRepository(redisClient, log)
	case "embedded":
		store, err := stream.Open(cfg.DataDir, stream.StoreOptions{MaxSegmentSize: cfg.MaxSegmentSize}, log)
		if err != nil {
			log.Error("failed to open stream store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		embedded := embeddedbroker.NewBroker(store, cfg.StreamName, log)
		broker = embedded
		adminRepo = embedded
	default:
		log.Error("unknown broker backend", "backend", cfg.BrokerBackend)
		os.Exit(1)
	}

	if err := broker.CreateGroup(ctx, cfg.ConsumerGroup); err != nil {
		log.Error("failed to create consumer group", "error", err)
		os.Exit(1)
	}

	// --- Ops Server (admin API, stats, metrics) ---
	adminUseCase := usecase.NewAdminStreamUseCase(adminRepo)
	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", promhttp.Handler())
	opsMux.Handle("/", api.NewOpsRouter(adminUseCase, sinkRepo, log))

	opsServer := &http.Server{
		Addr:         cfg.OpsServerAddr,
		Handler:      middleware.Logging(log)(opsMux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		log.Info("starting ops server", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server failed", "error", err)
			stop()
		}
	}()

	// --- Stream Gauges ---
	go pollStreamGauges(ctx, adminRepo, m, cfg.StreamName, cfg.ConsumerGroup, log)

	// --- Publisher and Processors ---
	publishUC := usecase.NewPublishTransactionsUseCase(
		broker, txgen.NewGenerator(cfg.GenSeed), log, m,
		cfg.PublishRate, cfg.BatchSize, cfg.FraudRatio,
	)

	hostname, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		hostname = "pipeline"
	}
	scorer := scoring.NewScorer(log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := publishUC.Run(ctx); err != nil {
			log.Error("publisher exited with error", "error", err)
			stop()
		}
	}()

	for i := 0; i < cfg.ProcessorCount; i++ {
		consumerName := fmt.Sprintf("%s-%d", hostname, i)
		processUC := usecase.NewProcessTransactionsUseCase(
			broker, sinkRepo, scorer, log, m,
			cfg.ConsumerGroup, consumerName,
			cfg.ReadBatchSize, cfg.ReadBlock,
			cfg.SinkRetryCount, cfg.SinkRetryDelay,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := processUC.Run(ctx); err != nil {
				log.Error("processor exited with error", "consumer", consumerName, "error", err)
				stop()
			}
		}()
	}

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down pipeline...")
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server shutdown failed", "error", err)
	}

	log.Info("pipeline shut down gracefully")
}

// pollStreamGauges periodically refreshes the stream length and pending
// entries gauges.
func pollStreamGauges(ctx context.Context, repo domain.StreamAdminRepository, m *metrics.PipelineMetrics, streamName, group string, log *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if length, err := repo.StreamLength(ctx, streamName); err == nil {
				m.StreamLength.Set(float64(length))
			}
			summary, err := repo.GetPendingSummary(ctx, streamName, group)
			if err != nil {
				log.Debug("failed to poll pending summary", "error", err)
				continue
			}
			m.PendingEntries.Set(float64(summary.Total))
		}
	}
}
