package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// nameKeyPrefix はRedis上の表示名キーの接頭辞。
const nameKeyPrefix = "rental:name:"

// RedisNameCache はRedisを使った表示名キャッシュ。
type RedisNameCache struct {
	// client はRedisクライアント。
	client *redis.Client
	// ttl はキャッシュの有効期間。
	ttl time.Duration
	// logger はロガー。
	logger *zap.Logger
}

// NewRedisNameCache は新しいRedisNameCacheを生成する。
func NewRedisNameCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisNameCache {
	return &RedisNameCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get はキャッシュされた表示名を返す。ミスまたは障害時はfalseを返す。
func (c *RedisNameCache) Get(ctx context.Context, id string) (string, bool) {
	name, err := c.client.Get(ctx, nameKeyPrefix+id).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("表示名キャッシュの読み込みに失敗", zap.String("user_id", id), zap.Error(err))
		}
		return "", false
	}
	return name, true
}

// Set は表示名をキャッシュする。失敗は無視する。
func (c *RedisNameCache) Set(ctx context.Context, id, name string) {
	if err := c.client.Set(ctx, nameKeyPrefix+id, name, c.ttl).Err(); err != nil {
		c.logger.Debug("表示名キャッシュの書き込みに失敗", zap.String("user_id", id), zap.Error(err))
	}
}
