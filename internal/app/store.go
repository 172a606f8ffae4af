package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/bookshelf/internal/config"
	"github.com/utafrali/bookshelf/internal/repository"
	"github.com/utafrali/bookshelf/internal/repository/mongodb"
	"github.com/utafrali/bookshelf/internal/repository/postgres"
	"github.com/utafrali/bookshelf/migrations"
	"github.com/utafrali/bookshelf/pkg/database"
)

// store is the opened persistence backend.
type store struct {
	name    string
	books   repository.BookRepository
	reviews repository.ReviewRepository
	users   repository.UserRepository
	ping    func(ctx context.Context) error
	close   func(ctx context.Context) error
}

// openStore connects to the backend selected by STORE_DRIVER and prepares
// its schema.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return openMongo(ctx, cfg, logger)
	}
}

func openMongo(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	client, err := database.NewMongoClient(ctx, cfg.Mongo(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	db := client.Database(cfg.MongoDatabase)
	logger.Info("connected to MongoDB", slog.String("database", cfg.MongoDatabase))

	if err := mongodb.EnsureSchema(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure mongo schema: %w", err)
	}
	logger.Info("mongo collections and indexes ready")

	return &store{
		name:    "mongo",
		books:   mongodb.NewBookRepository(db),
		reviews: mongodb.NewReviewRepository(db),
		users:   mongodb.NewUserRepository(db),
		ping:    func(ctx context.Context) error { return client.Ping(ctx, nil) },
		close:   client.Disconnect,
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	return &store{
		name:    "postgres",
		books:   postgres.NewBookRepository(pool),
		reviews: postgres.NewReviewRepository(pool),
		users:   postgres.NewUserRepository(pool),
		ping:    pool.Ping,
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}
