package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/internal/results-feed/cache"
	"github.com/radieske/betting-companion-api/internal/results-feed/consumer"
	"github.com/radieske/betting-companion-api/internal/results-feed/pubsub"
	sharedcache "github.com/radieske/betting-companion-api/internal/shared/cache"
	"github.com/radieske/betting-companion-api/internal/shared/config"
	"github.com/radieske/betting-companion-api/internal/shared/kafka"
	"github.com/radieske/betting-companion-api/internal/shared/logger"
	"github.com/radieske/betting-companion-api/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// consumer group results-feed
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicMatchSettled, "results-feed")
	defer reader.Close()

	var dlqWriter *kafka.Writer
	if cfg.TopicMatchSettledDLQ != "" {
		dlqWriter = kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchSettledDLQ)
		defer dlqWriter.Close()
	}

	// Métricas Prometheus por etapa
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "results_feed_messages_consumed_total", Help: "mensagens consumidas"})
	cached := prometheus.NewCounter(prometheus.CounterOpts{Name: "results_feed_cache_sets_total", Help: "sets no cache"})
	broadcast := prometheus.NewCounter(prometheus.CounterOpts{Name: "results_feed_broadcasts_total", Help: "publicações no canal do WebSocket"})
	dlq := prometheus.NewCounter(prometheus.CounterOpts{Name: "results_feed_dlq_total", Help: "mensagens enviadas para DLQ"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "results_feed_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, cached, broadcast, dlq, errorsBy)

	proc := &consumer.Processor{
		Log:         log,
		Reader:      reader,
		Cache:       cache.NewRedisCache(redisClient, 24*time.Hour),
		Broadcaster: pubsub.NewRedisBroadcaster(redisClient),
		Channel:     cfg.RedisResultsChannel,
		OnConsumed:  func() { consumed.Inc() },
		OnCached:    func() { cached.Inc() },
		OnBroadcast: func() { broadcast.Inc() },
		OnDLQ:       func() { dlq.Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}
	if dlqWriter != nil {
		proc.DLQ = dlqWriter
	}

	// Servidor HTTP para métricas e health check
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, map[string]metrics.HealthFunc{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})
	defer metricsSrv.Close()

	log.Info("results-feed-worker started",
		zap.String("consume", cfg.TopicMatchSettled),
		zap.String("dlq", cfg.TopicMatchSettledDLQ),
		zap.String("channel", cfg.RedisResultsChannel),
	)
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("results-feed-worker stopped")
}
