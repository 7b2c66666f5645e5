package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultSendRateWindow = 3 * time.Second
	DefaultSendRateBurst  = 5
	sendRateKeyPrefix     = "chat:rl:"
)

const redisSendAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

// SendRateLimiter limita cuántos mensajes puede mandar un remitente por ventana.
type SendRateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

func sendRateKey(roomID int64, sender string) string {
	return fmt.Sprintf("%d:%s", roomID, sender)
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// redisSendRateLimiter cuenta por ventana fija compartida entre instancias.
type redisSendRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

func NewRedisSendRateLimiter(client *redis.Client, window time.Duration, max int) SendRateLimiter {
	if client == nil {
		return nil
	}
	window, max = normalizeRate(window, max)
	return &redisSendRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: sendRateKeyPrefix,
	}
}

// Allow deja pasar si Redis falla: perder el límite es preferible a perder mensajes.
func (l *redisSendRateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	count, err := l.client.Eval(ctx, redisSendAllowScript, []string{l.prefix + key}, l.window.Milliseconds()).Int()
	if err != nil {
		return true
	}
	return count <= l.max
}

// memorySendRateLimiter es una ventana deslizante local por clave. Las claves sin envíos
// dentro de la ventana se purgan como mucho una vez por ventana.
type memorySendRateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	hits      map[string][]time.Time
	lastPrune time.Time
	now       func() time.Time
}

func NewMemorySendRateLimiter(window time.Duration, max int) SendRateLimiter {
	window, max = normalizeRate(window, max)
	return &memorySendRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *memorySendRateLimiter) Allow(_ context.Context, key string) bool {
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastPrune) >= l.window {
		l.prune(cutoff)
		l.lastPrune = now
	}
	kept := l.hits[key][:0]
	for _, ts := range l.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

func (l *memorySendRateLimiter) prune(cutoff time.Time) {
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

func normalizeRate(window time.Duration, max int) (time.Duration, int) {
	if window <= 0 {
		window = DefaultSendRateWindow
	}
	if max <= 0 {
		max = DefaultSendRateBurst
	}
	return window, max
}
