package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CountSink receives flushed match counts. rules.Repository satisfies it.
type CountSink interface {
	AddMatchCounts(ctx context.Context, counts map[int64]int64) error
}

// MatchCounter accumulates per-rule hit counts in a Redis hash and
// periodically moves them into the rule store.
type MatchCounter struct {
	client *redis.Client
	sink   CountSink
	key    string
	logger *zap.Logger
}

// NewMatchCounter creates a counter writing to "<prefix>:rules:hits".
func NewMatchCounter(client *redis.Client, sink CountSink, keyPrefix string, logger *zap.Logger) *MatchCounter {
	return &MatchCounter{
		client: client,
		sink:   sink,
		key:    keyPrefix + ":rules:hits",
		logger: logger,
	}
}

// Add increments the counters of the given rules in one pipeline.
func (mc *MatchCounter) Add(ctx context.Context, counts map[int64]int) error {
	if len(counts) == 0 {
		return nil
	}
	pipe := mc.client.Pipeline()
	for id, n := range counts {
		if n > 0 {
			pipe.HIncrBy(ctx, mc.key, strconv.FormatInt(id, 10), int64(n))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment match counts: %w", err)
	}
	return nil
}

// Flush moves the accumulated counts into the sink and reports how many
// rules were updated. The hash is renamed first so increments arriving during
// the flush start a fresh hash.
func (mc *MatchCounter) Flush(ctx context.Context) (int, error) {
	pending := mc.key + ":flushing"

	// A leftover snapshot from a failed flush is drained before taking a new one.
	leftover, err := mc.client.Exists(ctx, pending).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check match count snapshot: %w", err)
	}
	if leftover == 0 {
		current, err := mc.client.Exists(ctx, mc.key).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to check match counts: %w", err)
		}
		if current == 0 {
			return 0, nil
		}
		if err := mc.client.Rename(ctx, mc.key, pending).Err(); err != nil {
			return 0, fmt.Errorf("failed to snapshot match counts: %w", err)
		}
	}

	raw, err := mc.client.HGetAll(ctx, pending).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read match counts: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	counts, err := parseCounts(raw)
	if err != nil {
		return 0, err
	}
	if err := mc.sink.AddMatchCounts(ctx, counts); err != nil {
		return 0, fmt.Errorf("failed to store match counts: %w", err)
	}
	if err := mc.client.Del(ctx, pending).Err(); err != nil {
		mc.logger.Warn("Failed to clear flushed counts", zap.Error(err))
	}
	return len(counts), nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (mc *MatchCounter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := mc.Flush(flushCtx); err != nil {
				mc.logger.Error("Final match count flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			n, err := mc.Flush(ctx)
			if err != nil {
				mc.logger.Error("Match count flush failed", zap.Error(err))
				continue
			}
			if n > 0 {
				mc.logger.Debug("Match counts flushed", zap.Int("rules", n))
			}
		}
	}
}

func parseCounts(raw map[string]string) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(raw))
	for field, value := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rule id %q in match counts: %w", field, err)
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid count for rule %d: %w", id, err)
		}
		counts[id] = n
	}
	return counts, nil
}
