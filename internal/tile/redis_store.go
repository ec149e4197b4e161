package tile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/vec"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки Hot Cache тайлов
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "atlas:",
		TTL:       10 * time.Minute,
	}
}

// CachedStore - Redis кеш перед постоянным хранилищем тайлов.
// Чтение: Read-Through, запись: Write-Through (сначала cold, затем Redis).
type CachedStore struct {
	client    redis.Cmdable
	cold      Store
	keyPrefix string
	ttl       time.Duration

	hits   int64
	misses int64
}

// NewCachedStore подключается к Redis и проверяет соединение
func NewCachedStore(config *RedisConfig, cold Store) (*CachedStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("Redis кеш тайлов подключен: %s", config.Addr)
	return NewCachedStoreWithClient(client, cold, config.KeyPrefix, config.TTL), nil
}

// NewCachedStoreWithClient оборачивает уже созданный клиент
func NewCachedStoreWithClient(client redis.Cmdable, cold Store, keyPrefix string, ttl time.Duration) *CachedStore {
	return &CachedStore{
		client:    client,
		cold:      cold,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (c *CachedStore) cacheKey(dim string, chunk vec.Vec2) string {
	return c.keyPrefix + key(dim, chunk)
}

// GetTile читает тайл из Redis, при промахе из cold хранилища
func (c *CachedStore) GetTile(ctx context.Context, dim string, chunk vec.Vec2) (ID, bool, error) {
	k := c.cacheKey(dim, chunk)

	val, err := c.client.Get(ctx, k).Result()
	if err == nil {
		atomic.AddInt64(&c.hits, 1)
		return ID(val), true, nil
	}
	atomic.AddInt64(&c.misses, 1)

	if !errors.Is(err, redis.Nil) {
		// Redis недоступен - идём в cold хранилище, кеш не критичен
		logging.GetStorageLogger().Warn("Redis Get error for key %s: %v", k, err)
	}

	id, found, err := c.cold.GetTile(ctx, dim, chunk)
	if err != nil || !found {
		return id, found, err
	}

	if err := c.client.Set(ctx, k, string(id), c.ttl).Err(); err != nil {
		logging.GetStorageLogger().Warn("Redis Set error for key %s: %v", k, err)
	}
	return id, true, nil
}

// PutTile пишет тайл в cold хранилище и обновляет кеш
func (c *CachedStore) PutTile(ctx context.Context, dim string, id ID, chunk vec.Vec2) error {
	if err := c.cold.PutTile(ctx, dim, id, chunk); err != nil {
		return err
	}

	k := c.cacheKey(dim, chunk)
	if err := c.client.Set(ctx, k, string(id), c.ttl).Err(); err != nil {
		// Старое значение в кеше хуже промаха - удаляем
		logging.GetStorageLogger().Warn("Redis Set error for key %s: %v", k, err)
		_ = c.client.Del(ctx, k).Err()
	}
	return nil
}

// Scan обходит cold хранилище; кеш не участвует
func (c *CachedStore) Scan(ctx context.Context, dim string, fn func(Entry) error) error {
	return ScanStore(ctx, c.cold, dim, fn)
}

// Stats возвращает количество попаданий и промахов кеша
func (c *CachedStore) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
