package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestSetNXAndDeleteIfValue(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cron")

	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, key, "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to fail, ok=%v err=%v", ok, err)
	}

	removed, err := client.DeleteIfValue(ctx, key, "owner-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Fatal("non-owner must not delete the key")
	}
	removed, err = client.DeleteIfValue(ctx, key, "owner-a")
	if err != nil || !removed {
		t.Fatalf("owner delete failed, removed=%v err=%v", removed, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestExpireIfValueOnlyRenewsOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cron-worker:prod")

	if ok, err := client.SetNX(ctx, key, "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("setnx failed, ok=%v err=%v", ok, err)
	}
	renewed, err := client.ExpireIfValue(ctx, key, "owner-b", 2*time.Minute)
	if err != nil || renewed {
		t.Fatalf("non-owner renewed lease, renewed=%v err=%v", renewed, err)
	}
	renewed, err = client.ExpireIfValue(ctx, key, "owner-a", 2*time.Minute)
	if err != nil || !renewed {
		t.Fatalf("owner renew failed, renewed=%v err=%v", renewed, err)
	}
	if len(mock.expiries) != 1 || mock.expiries[0] != 120000 {
		t.Fatalf("unexpected expiries %v", mock.expiries)
	}
}

func TestSetOverwritesReservation(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.IdempotencyKey("ops", "settle-1")

	if ok, err := client.SetNX(ctx, key, "in_flight", time.Minute); err != nil || !ok {
		t.Fatalf("reserve failed, ok=%v err=%v", ok, err)
	}
	if err := client.Set(ctx, key, "done", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := client.Get(ctx, key)
	if err != nil || got != "done" {
		t.Fatalf("expected overwritten value, got %q err=%v", got, err)
	}
	if err := (&Client{}).Set(ctx, key, "x", time.Second); err == nil {
		t.Fatal("expected error for uninitialized client")
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error for uninitialized client")
	}
	if _, err := client.SetNX(context.Background(), "k", "v", time.Second); err == nil {
		t.Fatal("expected error for uninitialized client")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "coop:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.LockKey("cron-worker"); got != "coop:lock:cron-worker" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.IdempotencyKey("scope", ""); got != "coop:idempotency:scope" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestOptionsFromConfigRequiresTarget(t *testing.T) {
	if _, err := optionsFromConfig(configWith("", "")); err == nil {
		t.Fatal("expected error without url or address")
	}
	opts, err := optionsFromConfig(configWith("redis://localhost:6379/3", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 3 || opts.PoolSize != 10 {
		t.Fatalf("unexpected options db=%d pool=%d", opts.DB, opts.PoolSize)
	}
	opts, err = optionsFromConfig(configWith("", "cache:6380"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.PoolSize != 10 {
		t.Fatalf("unexpected options addr=%s pool=%d", opts.Addr, opts.PoolSize)
	}
	if _, err := optionsFromConfig(configWith("://bad", "")); err == nil {
		t.Fatal("expected parse error")
	}
}

type mockCmdable struct {
	data     map[string]string
	expiries []int64
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if len(keys) != 1 || len(args) == 0 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script call"))
	}
	if m.data[keys[0]] != fmt.Sprint(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case compareAndDelete:
		delete(m.data, keys[0])
	case compareAndExpire:
		m.expiries = append(m.expiries, args[1].(int64))
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unknown script"))
	}
	return redis.NewCmdResult(int64(1), nil)
}

func configWith(url, addr string) config.RedisConfig {
	return config.RedisConfig{URL: url, Address: addr, PoolSize: 10}
}
