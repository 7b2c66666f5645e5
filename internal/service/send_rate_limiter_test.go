package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	result     int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestRedisSendRateLimiterAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *redisSendRateLimiter
		if !l.Allow(ctx, "7:ana") {
			t.Fatalf("expected fail-open for nil limiter")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &redisSendRateLimiter{client: &mockRedisEvaler{result: 1}, window: time.Second, max: 3, prefix: sendRateKeyPrefix}
		if l.Allow(ctx, "") {
			t.Fatalf("expected empty key to be rejected")
		}
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 2}
		l := &redisSendRateLimiter{client: mock, window: 3 * time.Second, max: 3, prefix: sendRateKeyPrefix}
		if !l.Allow(ctx, sendRateKey(7, "ana")) {
			t.Fatalf("expected allow when count <= max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "chat:rl:7:ana" {
			t.Fatalf("unexpected key, got %+v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != int64(3000) {
			t.Fatalf("expected window millis=3000, got %+v", mock.lastArgs)
		}
		if mock.lastScript != redisSendAllowScript {
			t.Fatalf("expected script to match")
		}
	})

	t.Run("deny when count exceeds max", func(t *testing.T) {
		l := &redisSendRateLimiter{client: &mockRedisEvaler{result: 4}, window: time.Second, max: 3, prefix: sendRateKeyPrefix}
		if l.Allow(ctx, "7:ana") {
			t.Fatalf("expected deny when count > max")
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &redisSendRateLimiter{client: &mockRedisEvaler{err: errors.New("redis down")}, window: time.Second, max: 3, prefix: sendRateKeyPrefix}
		if !l.Allow(ctx, "7:ana") {
			t.Fatalf("expected fail-open on redis errors")
		}
	})
}

func TestMemorySendRateLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemorySendRateLimiter(3*time.Second, 2).(*memorySendRateLimiter)
	l.now = func() time.Time { return now }

	if !l.Allow(ctx, "7:ana") || !l.Allow(ctx, "7:ana") {
		t.Fatalf("expected first two sends to pass")
	}
	if l.Allow(ctx, "7:ana") {
		t.Fatalf("expected third send inside the window to be denied")
	}
	if !l.Allow(ctx, "7:bob") {
		t.Fatalf("expected other sender to be independent")
	}

	now = now.Add(4 * time.Second)
	if !l.Allow(ctx, "7:ana") {
		t.Fatalf("expected send after the window to pass")
	}
}

func TestMemorySendRateLimiter_PrunesIdleKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemorySendRateLimiter(3*time.Second, 2).(*memorySendRateLimiter)
	l.now = func() time.Time { return now }

	for i := int64(1); i <= 100; i++ {
		l.Allow(ctx, sendRateKey(i, "ana"))
	}
	if len(l.hits) != 100 {
		t.Fatalf("expected 100 tracked keys, got %d", len(l.hits))
	}

	now = now.Add(4 * time.Second)
	if !l.Allow(ctx, "7:bob") {
		t.Fatalf("expected send to pass")
	}
	if len(l.hits) != 1 {
		t.Fatalf("expected idle keys to be pruned, got %d tracked", len(l.hits))
	}
	if _, ok := l.hits["7:bob"]; !ok {
		t.Fatalf("expected active key to stay tracked")
	}
}
