package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/internal/chat"
	"github.com/radieske/betting-companion-api/internal/companion-api/cache"
	httpapi "github.com/radieske/betting-companion-api/internal/companion-api/http"
	"github.com/radieske/betting-companion-api/internal/companion-api/producer"
	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
	"github.com/radieske/betting-companion-api/internal/companion-api/ws"
	"github.com/radieske/betting-companion-api/internal/genai"
	"github.com/radieske/betting-companion-api/internal/settlement"
	sharedcache "github.com/radieske/betting-companion-api/internal/shared/cache"
	"github.com/radieske/betting-companion-api/internal/shared/config"
	"github.com/radieske/betting-companion-api/internal/shared/db"
	"github.com/radieske/betting-companion-api/internal/shared/kafka"
	"github.com/radieske/betting-companion-api/internal/shared/logger"
	"github.com/radieske/betting-companion-api/internal/shared/metrics"
)

func main() {
	// carrega config
	cfg := config.Load()

	// inicia logger
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	policy, err := settlement.ParsePolicy(cfg.SettlementUngradedPolicy)
	if err != nil {
		log.Fatal("invalid settlement policy", zap.Error(err))
	}
	if cfg.GenAIAPIKey == "" {
		log.Warn("GOOGLE_API_KEY not set; /chat will answer 503")
	}

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// conecta com db Postgres
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	log.Info("postgres connected")
	store := repo.NewPostgres(pg)

	// Redis é opcional: sem ele a API roda sem cache e sem feed ao vivo
	var redisClient *redis.Client
	if rc, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr); err != nil {
		log.Warn("redis unavailable; running without cache and live results", zap.Error(err))
	} else {
		redisClient = rc
		defer redisClient.Close()
		log.Info("redis connected")
	}

	// writer Kafka para match_settled
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchSettled)
	defer writer.Close()
	log.Info("kafka writer ready", zap.String("topic", cfg.TopicMatchSettled))

	// Métricas Prometheus
	settled := prometheus.NewCounter(prometheus.CounterOpts{Name: "companion_settlements_total", Help: "partidas liquidadas"})
	graded := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "companion_bets_graded_total", Help: "apostas liquidadas por resultado"}, []string{"result"})
	publishErrors := prometheus.NewCounter(prometheus.CounterOpts{Name: "companion_settlement_publish_errors_total", Help: "falhas ao publicar match_settled"})
	sectionErrors := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "companion_chat_section_errors_total", Help: "falhas de busca por seção do contexto"}, []string{"section"})
	genLatency := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "companion_genai_latency_seconds", Help: "latência da geração de texto", Buckets: prometheus.ExponentialBuckets(0.25, 2, 8)})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "companion_http_requests_total", Help: "requisições por rota e status"}, []string{"method", "route", "status"})
	prometheus.MustRegister(settled, graded, publishErrors, sectionErrors, genLatency, requests)

	// Settlement engine
	engine := settlement.New(store, producer.NewKafkaPublisher(writer, cfg.TopicMatchSettled), log, policy)
	engine.OnSettled = func(r settlement.Result) {
		settled.Inc()
		graded.WithLabelValues(repo.ResultWin).Add(float64(r.Counts.Win))
		graded.WithLabelValues(repo.ResultLoss).Add(float64(r.Counts.Loss))
		graded.WithLabelValues(repo.ResultPush).Add(float64(r.Counts.Push))
	}
	engine.OnPublishError = func() { publishErrors.Inc() }

	// Context assembler + cliente Gemini
	gen := genai.New(cfg.GenAIBaseURL, cfg.GenAIAPIKey, cfg.GenAITimeout, cfg.GenAIRatePerSec, cfg.GenAIBurst)
	chatCfg := chat.DefaultConfig()
	chatCfg.Model = cfg.GenAIModel
	chatCfg.MaxQueryLen = cfg.ChatMaxQueryLen
	chatCfg.MaxContextChars = cfg.ChatMaxContextChars
	chatCfg.FetchTimeout = cfg.StoreTimeout
	assembler := chat.New(store, timedGenerator{gen: gen, observe: genLatency}, log, chatCfg)
	assembler.OnSectionError = func(section string) { sectionErrors.WithLabelValues(section).Inc() }

	api := &httpapi.API{
		Log:            log,
		Store:          store,
		Settler:        engine,
		Chat:           assembler,
		ServiceName:    cfg.ServiceName,
		MaxStake:       cfg.MaxStake,
		RequestTimeout: cfg.HTTPRequestTimeout,
		OnRequest: func(method, route string, status int, _ time.Duration) {
			requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		},
	}

	checks := map[string]metrics.HealthFunc{"postgres": store.Ping}
	if redisClient != nil {
		listings := cache.New(redisClient, cfg.CacheTTL)
		api.Cache = listings
		checks["redis"] = listings.Ping

		// WebSocket de resultados alimentado pelo canal Redis
		hub := ws.NewHub(log, func(*http.Request) bool { return true })
		ws.StartRedisSubscriber(ctx, redisClient, cfg.RedisResultsChannel, hub, log)
		api.WS = hub.HandleWS
	}

	// sobe servidor de métricas e health
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, checks)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("companion-api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("companion-api stopped")
}

// timedGenerator mede a latência de cada chamada ao Gemini
type timedGenerator struct {
	gen     chat.Generator
	observe prometheus.Observer
}

func (t timedGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	start := time.Now()
	defer func() { t.observe.Observe(time.Since(start).Seconds()) }()
	return t.gen.Generate(ctx, model, prompt)
}
