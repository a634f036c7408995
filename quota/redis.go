package quota

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/formatic/hooks/webhook"
)

// compile-time interface check
var _ Guard = (*RedisGuard)(nil)

// RedisGuard enforces daily quotas through a shared Redis counter, for
// deployments running multiple engine nodes against the same registry.
// Counters are keyed per webhook per UTC day and expire with the window.
type RedisGuard struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// NewRedisGuard creates a Guard backed by Redis via Grove KV.
func NewRedisGuard(store *kv.Store) *RedisGuard {
	return &RedisGuard{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// Reserve atomically increments the day counter and compares it against the
// limit. The first reservation of a window sets the key to expire at the
// next UTC midnight, so stale windows clean themselves up.
func (g *RedisGuard) Reserve(ctx context.Context, wh *webhook.Webhook, now time.Time) (bool, error) {
	if wh.DailyLimit <= 0 {
		return true, nil
	}

	key := dayKey(wh.ID.String(), now)

	n, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("quota: incr %s: %w", key, err)
	}

	if n == 1 {
		if err := g.rdb.ExpireAt(ctx, key, WindowEnd(now)).Err(); err != nil {
			return false, fmt.Errorf("quota: expire %s: %w", key, err)
		}
	}

	return n <= int64(wh.DailyLimit), nil
}

// Ping checks Redis connectivity.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.kv.Ping(ctx)
}

// Close closes the underlying KV store.
func (g *RedisGuard) Close() error {
	return g.kv.Close()
}

func dayKey(webhookID string, now time.Time) string {
	return "hooks:quota:" + webhookID + ":" + now.UTC().Format("2006-01-02")
}
