// Package cache - Redis-кэш статуса refresh-токенов.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix - префикс ключей, если в конфиге он пуст.
const DefaultPrefix = "backoffice:rt:"

// RefreshEntry описывает данные, которые хранятся в Redis по хэшу refresh-токена.
type RefreshEntry struct {
	UserID    int64
	Revoked   bool
	ExpiresAt time.Time
}

// RedisCache хранит записи как Redis Hash с полями uid, rev (0/1), exp (unix).
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// Dial создает клиент Redis из URL (например, redis://:pass@host:6379/0) и проверяет связь.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	const op = "cache.Dial"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

// NewRedisCache создает кэш поверх общего клиента. Клиент закрывает вызывающий.
func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) key(hash string) string { return c.prefix + hash }

// Get возвращает запись и признак ее наличия в кэше.
func (c *RedisCache) Get(ctx context.Context, hash string) (*RefreshEntry, bool, error) {
	const op = "cache.Get"

	m, err := c.rdb.HGetAll(ctx, c.key(hash)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if len(m) == 0 {
		return nil, false, nil
	}

	uid, err := strconv.ParseInt(m["uid"], 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("%s: uid: %w", op, err)
	}
	expNano, err := strconv.ParseInt(m["exp"], 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("%s: exp: %w", op, err)
	}

	return &RefreshEntry{
		UserID:    uid,
		Revoked:   m["rev"] == "1",
		ExpiresAt: time.Unix(0, expNano).UTC(),
	}, true, nil
}

// Set сохраняет запись с TTL (обычно ExpiresAt-now).
func (c *RedisCache) Set(ctx context.Context, hash string, e *RefreshEntry, ttl time.Duration) error {
	const op = "cache.Set"

	kv := map[string]string{
		"uid": strconv.FormatInt(e.UserID, 10),
		"rev": boolTo01(e.Revoked),
		"exp": strconv.FormatInt(e.ExpiresAt.UnixNano(), 10), // наносекунды: та же точность, что у хранилища
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(hash), kv)
	pipe.Expire(ctx, c.key(hash), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// markRevoked не создает ключ, если его нет: запись без TTL жила бы вечно.
var markRevoked = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HSET', KEYS[1], 'rev', '1')
end
return -1
`)

// MarkRevoked помечает запись rev=1, сохраняя остаточный TTL.
func (c *RedisCache) MarkRevoked(ctx context.Context, hash string) error {
	const op = "cache.MarkRevoked"

	if err := markRevoked.Run(ctx, c.rdb, []string{c.key(hash)}).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func boolTo01(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
