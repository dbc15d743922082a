// Package bootstrap builds the runtime dependencies shared by the server and
// the worker from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"localrank/internal/repository"
	"localrank/internal/repository/postgres"
	"localrank/internal/repository/sqlite"
	"localrank/internal/service"
	"localrank/pkg/config"
	"localrank/pkg/db"
	"localrank/pkg/lock"
	"localrank/pkg/outbox"
	pkgredis "localrank/pkg/redis"
)

// Storage 业务存储及其 outbox 视图
type Storage struct {
	Store  repository.Store
	Outbox outbox.Store
}

// OpenStorage 按 store.driver 打开存储；postgres 会先执行幂等建表
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.Store.Driver {
	case "", "postgres":
		pool, err := db.NewConnection(cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		pg := postgres.NewStore(pool, logger)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &Storage{Store: pg, Outbox: pg.Outbox()}, nil

	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "localrank.db"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		s, err := sqlite.Open(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		return &Storage{Store: s, Outbox: s}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// OpenRedis 返回 Redis 客户端；未配置地址时返回 nil
func OpenRedis(cfg *config.Config, logger *zap.Logger) (*goredis.Client, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("Redis not configured, using in-process locks")
		return nil, nil
	}
	rdb, err := pkgredis.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	return rdb, nil
}

// EngineOptions 把配置翻译为引擎参数
func EngineOptions(cfg config.EngineConfig) service.Options {
	opts := service.DefaultOptions()
	opts.InsightDelay = config.Duration(cfg.InsightDelay, service.DefaultInsightDelay)
	opts.GenerationLockTTL = config.Duration(cfg.GenerationLockTTL, service.DefaultGenerationLockTTL)
	opts.SeedBlueprintTasks = cfg.SeedBlueprintTasks
	return opts
}

// Locker 有 Redis 时使用分布式锁，否则使用进程内锁
func Locker(rdb *goredis.Client, logger *zap.Logger) lock.Locker {
	if rdb == nil {
		return lock.NewLocalLocker()
	}
	return lock.NewRedisLocker(rdb, logger)
}

// Dispatcher 按 outbox 配置创建投递器；未配置的字段保留默认值
func Dispatcher(store outbox.Store, publisher outbox.Publisher, cfg config.OutboxConfig, logger *zap.Logger) *outbox.Dispatcher {
	d := outbox.NewDispatcher(store, publisher, logger).
		WithInterval(config.Duration(cfg.PollInterval, time.Second))
	if cfg.BatchSize > 0 {
		d.WithBatchSize(cfg.BatchSize)
	}
	if cfg.MaxRetries > 0 {
		d.WithMaxRetries(cfg.MaxRetries)
	}
	return d
}
