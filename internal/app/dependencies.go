package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/restoku/backend-resto/internal/config"
	"github.com/restoku/backend-resto/internal/obs"
)

// NewDatabase opens a pgx pool with query tracing enabled and verifies
// connectivity before returning.
func NewDatabase(ctx context.Context, cfg *config.Config, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis connects a go-redis client instrumented with OpenTelemetry.
func NewRedis(ctx context.Context, cfg *config.Config, withMetrics bool) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			return nil, fmt.Errorf("instrument redis metrics: %w", err)
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewMetricsRegistry builds the registry for HTTP and domain metrics. Runtime
// collectors stay on the default registry, which is gathered alongside.
func NewMetricsRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewLimiter wires a sliding-window rate limiter backed by Redis.
func NewLimiter(rdb *redis.Client, window time.Duration, max int) (*limiter.Limiter, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "rl",
	})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	return limiter.New(store, rate), nil
}

// NewTaskClient builds an asynq client for enqueueing background tasks.
func NewTaskClient(cfg *config.Config) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri for tasks: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewTaskServer builds an asynq server consuming the given queues.
func NewTaskServer(cfg *config.Config, concurrency int, queues map[string]int) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri for tasks: %w", err)
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}), nil
}

// RunMigrations applies pending SQL migrations from dir against the database.
func RunMigrations(databaseURL, dir string) error {
	m, err := migrate.New("file://"+dir, pgxMigrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// pgxMigrateURL rewrites a postgres URL so migrate picks the pgx/v5 driver.
func pgxMigrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}
