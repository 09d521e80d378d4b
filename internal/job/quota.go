package job

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Quota limits how many conversions a user may run per calendar day.
// Counters live in redis under a per-day key that expires at midnight.
// A nil redis client disables the limit entirely.
type Quota struct {
	rdb      *redis.Client
	dailyMax int
}

// NewQuota builds a quota limiter. rdb may be nil (quota disabled).
func NewQuota(rdb *redis.Client, dailyMax int) *Quota {
	return &Quota{rdb: rdb, dailyMax: dailyMax}
}

func quotaKey(userID int64, day string) string {
	return fmt.Sprintf("quota:%d:%s", userID, day)
}

func today() string { return time.Now().Format("20060102") }

func ttlUntilMidnight() time.Duration {
	now := time.Now()
	next := now.Add(24 * time.Hour)
	midnight := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, now.Location())
	return time.Until(midnight)
}

// Allow reports whether the user may run want more conversions today, and
// how many remain. With no redis client it always allows.
func (q *Quota) Allow(ctx context.Context, userID int64, want int) (remaining int, ok bool, err error) {
	if q == nil || q.rdb == nil {
		return want, true, nil
	}
	used, err := q.rdb.Get(ctx, quotaKey(userID, today())).Int()
	if err != nil && err != redis.Nil {
		return 0, false, fmt.Errorf("read quota: %w", err)
	}
	if used >= q.dailyMax {
		return 0, false, nil
	}
	remaining = q.dailyMax - used
	return remaining, want <= remaining, nil
}

// Charge consumes quota for completed conversions.
func (q *Quota) Charge(ctx context.Context, userID int64, n int) error {
	if q == nil || q.rdb == nil || n <= 0 {
		return nil
	}
	key := quotaKey(userID, today())
	pipe := q.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, int64(n))
	pipe.Expire(ctx, key, ttlUntilMidnight())
	_, err := pipe.Exec(ctx)
	return err
}
