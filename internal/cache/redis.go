package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/rules"
)

// NewClient connects to Redis using the cache configuration
func NewClient(config *Config, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connected",
		zap.String("redis_url", rules.MaskURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return client, nil
}

// RuleCache serves the active rule list from Redis and falls back to the
// wrapped store on a miss. It satisfies rules.Store.
type RuleCache struct {
	client *redis.Client
	store  rules.Store
	config *Config
	logger *zap.Logger
	hits   int64
	misses int64
}

// NewRuleCache wraps store with a Redis-backed rule list cache
func NewRuleCache(client *redis.Client, store rules.Store, config *Config, logger *zap.Logger) *RuleCache {
	return &RuleCache{
		client: client,
		store:  store,
		config: config,
		logger: logger,
	}
}

func (rc *RuleCache) activeKey() string {
	return rc.config.KeyPrefix + ":rules:active"
}

// ListActiveRules returns the cached rule list, loading and caching it on a miss.
// Redis failures degrade to reading the store directly.
func (rc *RuleCache) ListActiveRules(ctx context.Context) ([]rules.Rule, error) {
	key := rc.activeKey()

	data, err := rc.client.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		atomic.AddInt64(&rc.misses, 1)
		rc.logger.Debug("Cache miss", zap.String("key", key))
	case err != nil:
		atomic.AddInt64(&rc.misses, 1)
		rc.logger.Error("Cache lookup failed", zap.Error(err))
		return rc.store.ListActiveRules(ctx)
	default:
		var cached CachedRules
		if err := json.Unmarshal([]byte(data), &cached); err != nil {
			rc.logger.Error("Failed to unmarshal cached rules", zap.Error(err))
			// Delete corrupted cache entry
			rc.client.Del(ctx, key)
		} else {
			atomic.AddInt64(&rc.hits, 1)
			return cached.Rules, nil
		}
	}

	list, err := rc.store.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	if err := rc.storeRules(ctx, list); err != nil {
		rc.logger.Warn("Failed to cache rules", zap.Error(err))
	}
	return list, nil
}

// GetRule reads through to the store.
func (rc *RuleCache) GetRule(ctx context.Context, id int64) (*rules.Rule, error) {
	return rc.store.GetRule(ctx, id)
}

func (rc *RuleCache) storeRules(ctx context.Context, list []rules.Rule) error {
	cached := CachedRules{
		Rules:    list,
		CachedAt: time.Now(),
		TTL:      int64(rc.config.DefaultTTL.Seconds()),
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal rules for caching: %w", err)
	}
	if err := rc.client.Set(ctx, rc.activeKey(), data, rc.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache rules: %w", err)
	}
	rc.logger.Debug("Rules cached", zap.Int("rules", len(list)))
	return nil
}

// Invalidate drops the cached rule list. Call it after any rule mutation.
func (rc *RuleCache) Invalidate(ctx context.Context) error {
	if err := rc.client.Del(ctx, rc.activeKey()).Err(); err != nil {
		rc.logger.Error("Failed to invalidate rule cache", zap.Error(err))
		return fmt.Errorf("failed to invalidate rule cache: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (rc *RuleCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := rc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   atomic.LoadInt64(&rc.hits),
		Misses: atomic.LoadInt64(&rc.misses),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	stats.MemoryUsage = usedMemory(info)

	if keys, err := rc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// usedMemory extracts used_memory from an INFO reply.
func usedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != line && memStr != "" {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}
