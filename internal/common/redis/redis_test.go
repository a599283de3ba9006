package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

func setupRedis(t *testing.T) *Client {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, err := Connect(config.RedisConfig{Host: "localhost", Port: "6379", DB: 15}, logger.New("test"))
	if err != nil {
		t.Skipf("Cannot connect to redis: %v", err)
		return nil
	}
	client.FlushDB(context.Background())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIdempotency(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	ok, err := client.ClaimIdempotency(ctx, "req-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim should succeed: ok=%v err=%v", ok, err)
	}
	ok, _ = client.ClaimIdempotency(ctx, "req-1", time.Minute)
	if ok {
		t.Error("second claim must be rejected")
	}

	exists, err := client.CheckIdempotency(ctx, "req-1")
	if err != nil || !exists {
		t.Errorf("expected key to exist: %v %v", exists, err)
	}
}

func TestLockerSerializes(t *testing.T) {
	client := setupRedis(t)
	locker := NewLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "wallet:custom:w1")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(waitCtx, "wallet:custom:w1"); err == nil {
		t.Fatal("second lock should time out while the first is held")
	}

	unlock()
	unlock2, err := locker.Lock(ctx, "wallet:custom:w1")
	if err != nil {
		t.Fatalf("lock after release failed: %v", err)
	}
	unlock2()
}

func TestDelayQueue(t *testing.T) {
	client := setupRedis(t)
	q := NewDelayQueue(client, "test:retries")
	ctx := context.Background()
	now := time.Now()

	q.Push(ctx, "later", now.Add(time.Hour))
	q.Push(ctx, "due", now.Add(-time.Second))

	ids, err := q.PopDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("PopDue failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "due" {
		t.Fatalf("expected only the due id, got %v", ids)
	}

	ids, _ = q.PopDue(ctx, now, 10)
	if len(ids) != 0 {
		t.Errorf("due id must be claimed once, got %v", ids)
	}
}

func TestBalanceCache(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	if v, err := client.GetCachedWalletBalance(ctx, "custom:w1"); err != nil || v != "" {
		t.Fatalf("expected miss, got %q %v", v, err)
	}
	client.CacheWalletBalance(ctx, "custom:w1", "12.50", time.Minute)
	if v, _ := client.GetCachedWalletBalance(ctx, "custom:w1"); v != "12.50" {
		t.Errorf("expected cached 12.50, got %q", v)
	}
	client.InvalidateWalletBalance(ctx, "custom:w1")
	if v, _ := client.GetCachedWalletBalance(ctx, "custom:w1"); v != "" {
		t.Errorf("expected miss after invalidate, got %q", v)
	}
}
