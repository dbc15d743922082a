package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有者（token 相同）才能删除 key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SETNX 的分布式锁，多实例部署时保证同一 key 只有一个持有者
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:    rdb,
		prefix: "lock:",
		logger: logger,
	}
}

// TryAcquire 尝试获取锁；Redis 不可用时返回错误（不放行，保证互斥）
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		l.logger.Warn("Redis lock acquire failed",
			zap.String("key", fullKey),
			zap.Error(err),
		)
		return nil, false, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		l.logger.Info("Lock already held",
			zap.String("key", fullKey),
		)
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 调用方的 ctx 可能已取消，释放使用独立的超时
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.rdb, []string{fullKey}, token).Err(); err != nil {
				l.logger.Warn("Redis lock release failed, relying on TTL",
					zap.String("key", fullKey),
					zap.Duration("ttl", ttl),
					zap.Error(err),
				)
			}
		})
	}, true, nil
}
