// Package main runs the session-stats engine: webhook intake, in-memory
// aggregation, periodic persistence, crash recovery, and a live
// dashboard feed, behind a single HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/streamstats/engine/config"
	"github.com/streamstats/engine/internal/aggregator"
	"github.com/streamstats/engine/internal/classifier"
	"github.com/streamstats/engine/internal/health"
	"github.com/streamstats/engine/internal/liveview"
	"github.com/streamstats/engine/internal/metrics"
	"github.com/streamstats/engine/internal/middleware"
	"github.com/streamstats/engine/internal/recovery"
	"github.com/streamstats/engine/internal/sessions"
	"github.com/streamstats/engine/internal/stats"
	"github.com/streamstats/engine/internal/webhook"
	"github.com/streamstats/engine/pkg/archive"
	"github.com/streamstats/engine/pkg/database"
	"github.com/streamstats/engine/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	archiveClient, err := archive.New(ctx, archive.Config{
		Bucket:          cfg.Archive.Bucket,
		Region:          cfg.Archive.Region,
		AccessKeyID:     cfg.Archive.AccessKeyID,
		SecretAccessKey: cfg.Archive.SecretAccessKey,
	}, logger)
	if err != nil {
		logger.Warn("snapshot archival disabled", zap.Error(err))
	}

	metricsSink := metrics.NewMetrics()
	if err := metricsSink.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("register metrics", zap.Error(err))
	}

	uaCache := classifier.NewCache()
	manager := sessions.NewManager(
		cfg.Aggregation.DeltaBufferSize,
		sessions.WithMetrics(metricsSink),
		sessions.WithClassifier(uaCache.Classify),
	)

	aggregatorStore := aggregator.NewPgStore(pool)
	recoveryStore := recovery.NewPgStore(pool)

	redisPubSub := liveview.NewRedisPubSub(rdb.Client, logger)
	hub := liveview.NewHub(logger, redisPubSub, redisPubSub)

	agg := aggregator.New(
		manager, aggregatorStore, logger,
		cfg.Aggregation.IntervalSeconds,
		cfg.Aggregation.StoreRetryAttempts,
		cfg.Aggregation.StoreRetryBaseSeconds,
		aggregator.WithMetrics(metricsSink),
		aggregator.WithOnFlush(func(rows aggregator.MinuteRows) {
			hub.BroadcastFlush(liveview.FlushEvent{
				Minute:          rows.Minute,
				SessionsStarted: rows.Global.SessionsStarted,
				SessionsClosed:  rows.Global.SessionsClosed,
				TotalBytes:      rows.Global.TotalBytes,
				BandwidthBps:    rows.Global.BandwidthBps,
				UniqueUsers:     rows.Global.UniqueUsers,
				PeakConcurrent:  rows.Global.PeakConcurrent,
				LiveTotal:       manager.Total(),
			})
		}),
	)

	snapshotter := recovery.NewSnapshotter(manager, recoveryStore, logger, cfg.Aggregation.SessionSyncIntervalSeconds)
	if archiveClient != nil {
		snapshotter.WithOnSnapshot(func(live []sessions.Session) {
			archiveClient.MirrorSnapshot(ctx, time.Now(), live)
		})
	}

	gate := health.NewGate()

	webhookHandler := webhook.NewHandler(manager, gate, logger)
	statsHandler := stats.NewHandler(manager)
	healthHandler := health.NewHandler(gate)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", healthHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stats/active", statsHandler.Handle)
	router.GET("/ws/stats", liveview.ServeWS(hub, logger))
	router.POST("/api/webhook", webhookHandler.Handle)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	// Recovery runs after the server is listening (so /health already
	// answers 503) but before the gate opens, so webhookHandler.Handle
	// (gated on the same gate) rejects intake until it finishes.
	staleHorizon := time.Duration(cfg.Aggregation.StaleSessionHorizonSeconds) * time.Second
	if err := recovery.Restore(bgCtx, recoveryStore, manager, staleHorizon, time.Now(), logger); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}
	gate.MarkReady()

	go agg.Run(bgCtx)
	go snapshotter.Run(bgCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	// Stop the background timer loops before flushing once more by hand,
	// so the final rotate/snapshot below cannot race a scheduled one.
	bgCancel()
	agg.FlushNow(shutdownCtx, time.Now().Truncate(time.Minute))
	snapshotter.SnapshotOnce(shutdownCtx)

	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := cfg.Build()
	return logger
}
