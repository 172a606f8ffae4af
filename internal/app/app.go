package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/bookshelf/internal/auth"
	"github.com/utafrali/bookshelf/internal/config"
	"github.com/utafrali/bookshelf/internal/event"
	handler "github.com/utafrali/bookshelf/internal/handler/http"
	"github.com/utafrali/bookshelf/internal/search/elasticsearch"
	"github.com/utafrali/bookshelf/internal/service"
	"github.com/utafrali/bookshelf/pkg/database"
	"github.com/utafrali/bookshelf/pkg/health"
	pkgkafka "github.com/utafrali/bookshelf/pkg/kafka"
	"github.com/utafrali/bookshelf/pkg/middleware"
	"github.com/utafrali/bookshelf/pkg/tracing"
)

const serviceName = "bookshelf"

// App wires together all dependencies and runs the bookshelf service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          *store
	redis          *redis.Client
	localLimiter   *middleware.LocalLimiter
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	recompute      *pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	a.store, err = openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical(a.store.name, a.store.ping)

	// Events. With Kafka disabled, events are dropped and failed recomputes
	// are only logged.
	var publisher service.EventPublisher = event.NopPublisher{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := a.producer.Ping(ctx); err != nil {
			logger.Warn("kafka unreachable at startup, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		publisher = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	// Text search. Without Elasticsearch the store's text index serves ?q=.
	var searcher service.BookSearcher
	if cfg.SearchEnabled {
		engine, err := elasticsearch.New(ctx, cfg.ElasticsearchURL, cfg.ElasticsearchIndex, logger)
		if err != nil {
			logger.Warn("elasticsearch unavailable at startup, searching the store instead",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("elasticsearch search engine initialized",
				slog.String("url", cfg.ElasticsearchURL),
				slog.String("index", cfg.ElasticsearchIndex),
			)
			searcher = engine
			healthHandler.RegisterNonCritical("elasticsearch", engine.Ping)
		}
	}

	// Build the dependency graph.
	aggregator := service.NewRatingAggregator(a.store.books, a.store.reviews, publisher, logger)
	services := handler.Services{
		Books:   service.NewBookService(a.store.books, searcher, aggregator, logger),
		Reviews: service.NewReviewService(a.store.reviews, a.store.books, a.store.users, aggregator, publisher, logger),
		Ledger:  service.NewInteractionLedger(a.store.reviews, logger),
		Users:   service.NewUserService(a.store.users, logger),
	}

	if cfg.KafkaEnabled && cfg.RecomputeConsumerEnabled {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		a.recompute = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaConsumerGroup,
			Topic:    event.TopicRecomputeRequested,
			MinBytes: 1,
			MaxBytes: 10e6,
			DLQ:      a.dlq,
		}, event.NewConsumer(aggregator, logger).HandleRecomputeRequested, logger)
	}

	limiter, err := a.newLimiter(ctx, healthHandler)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer)
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(services, healthHandler, handler.RouterConfig{
		ServiceName: serviceName,
		CORS:        corsCfg,
		Validate:    jwtManager.ValidateAccessToken,
		Limiter:     limiter,
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
		Metrics:     promhttp.Handler(),
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// newLimiter returns a Redis fixed-window limiter shared by all replicas when
// Redis is enabled, otherwise an in-process token bucket.
func (a *App) newLimiter(ctx context.Context, healthHandler *health.Handler) (middleware.Limiter, error) {
	if !a.cfg.RedisEnabled {
		a.localLimiter = middleware.NewLocalLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst, 10*time.Minute)
		return a.localLimiter, nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	limit, window := a.cfg.RateLimitWindow()
	a.logger.Info("rate limiting via redis",
		slog.String("addr", a.cfg.Redis().Addr()),
		slog.Int("limit", limit),
		slog.Duration("window", window),
	)
	return middleware.NewWindowLimiter(middleware.NewRedisWindowCounter(client, "bookshelf:ratelimit:"), limit, window), nil
}

// Run starts the HTTP server and the recompute consumer, then blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.recompute != nil {
		go func() {
			if err := a.recompute.Start(ctx); err != nil {
				errCh <- fmt.Errorf("recompute consumer: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// consumer, producers, rate limiter and finally the store.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error
	record := func(what string, err error) {
		if err != nil {
			a.logger.Error(what+" error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	record("http server shutdown", a.httpServer.Shutdown(httpCtx))

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		record("tracer shutdown", a.tracerShutdown(tracerCtx))
	}

	if a.recompute != nil {
		record("recompute consumer close", a.recompute.Close())
	}
	if a.dlq != nil {
		record("dlq producer close", a.dlq.Close())
	}
	if a.producer != nil {
		record("kafka producer close", a.producer.Close())
	}
	if a.localLimiter != nil {
		a.localLimiter.Close()
	}
	if a.redis != nil {
		record("redis close", a.redis.Close())
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.close(ctx); err != nil {
		a.logger.Error("store close error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
