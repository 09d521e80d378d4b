package job

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// quotaRedis returns a redis client on the test database, skipping the
// test when redis is not reachable (same convention as the e2e suite).
func quotaRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return rdb
}

func TestQuotaDisabledWithoutRedis(t *testing.T) {
	q := NewQuota(nil, 5)

	if _, ok, err := q.Allow(context.Background(), 1, 100); err != nil || !ok {
		t.Errorf("nil-redis quota must always allow, got ok=%v err=%v", ok, err)
	}
	if err := q.Charge(context.Background(), 1, 100); err != nil {
		t.Errorf("nil-redis charge must be a no-op, got %v", err)
	}

	var nilQuota *Quota
	if _, ok, err := nilQuota.Allow(context.Background(), 1, 1); err != nil || !ok {
		t.Errorf("nil quota must always allow, got ok=%v err=%v", ok, err)
	}
}

func TestQuotaAllowAndCharge(t *testing.T) {
	rdb := quotaRedis(t)
	q := NewQuota(rdb, 10)
	ctx := context.Background()

	remaining, ok, err := q.Allow(ctx, 500, 4)
	if err != nil || !ok || remaining != 10 {
		t.Fatalf("fresh user: remaining=%d ok=%v err=%v", remaining, ok, err)
	}

	if err := q.Charge(ctx, 500, 8); err != nil {
		t.Fatalf("Charge: %v", err)
	}

	remaining, ok, err = q.Allow(ctx, 500, 4)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("4 more conversions should exceed the remaining 2")
	}
	if remaining != 2 {
		t.Errorf("expected 2 remaining, got %d", remaining)
	}

	if _, ok, _ := q.Allow(ctx, 500, 2); !ok {
		t.Error("2 conversions should fit the remaining 2")
	}

	if err := q.Charge(ctx, 500, 2); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if _, ok, _ := q.Allow(ctx, 500, 1); ok {
		t.Error("exhausted quota should deny")
	}
}
