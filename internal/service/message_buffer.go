package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"roomit/internal/domain"
)

const (
	bufferKeyPrefix = "chat:room:"
	scanBatchSize   = 100
)

// MessageBuffer es el área de staging de mensajes de chat antes de persistirlos.
// Solo guarda datos; las conexiones vivas nunca pasan por acá.
type MessageBuffer interface {
	Stage(ctx context.Context, msg domain.BufferedMessage, ttl time.Duration) error
	Keys(ctx context.Context, roomID int64) ([]string, error)
	Get(ctx context.Context, key string) (domain.BufferedMessage, bool, error)
	DeleteKeys(ctx context.Context, keys ...string) error
	Rooms(ctx context.Context) ([]int64, error)
}

// BufferKey arma la clave compuesta sala + timestamp. Una clave idéntica se sobrescribe.
func BufferKey(roomID int64, ts time.Time) string {
	return fmt.Sprintf("%s%d:%d", bufferKeyPrefix, roomID, ts.UnixNano())
}

func roomKeyPattern(roomID int64) string {
	return fmt.Sprintf("%s%d:*", bufferKeyPrefix, roomID)
}

func roomIDFromKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, bufferKeyPrefix)
	if !ok {
		return 0, false
	}
	raw, _, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisMessageBuffer struct {
	client redisKV
}

func NewRedisMessageBuffer(client *redis.Client) MessageBuffer {
	if client == nil {
		return nil
	}
	return &redisMessageBuffer{client: client}
}

func (b *redisMessageBuffer) Stage(ctx context.Context, msg domain.BufferedMessage, ttl time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, BufferKey(msg.RoomID, msg.Timestamp), data, ttl).Err()
}

func (b *redisMessageBuffer) Keys(ctx context.Context, roomID int64) ([]string, error) {
	return b.scan(ctx, roomKeyPattern(roomID))
}

func (b *redisMessageBuffer) Get(ctx context.Context, key string) (domain.BufferedMessage, bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BufferedMessage{}, false, nil
	}
	if err != nil {
		return domain.BufferedMessage{}, false, err
	}
	var msg domain.BufferedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.BufferedMessage{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return msg, true, nil
}

func (b *redisMessageBuffer) DeleteKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *redisMessageBuffer) Rooms(ctx context.Context) ([]int64, error) {
	keys, err := b.scan(ctx, bufferKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	return roomIDs(keys), nil
}

// scan recorre el keyspace con SCAN para no bloquear Redis como haría KEYS.
func (b *redisMessageBuffer) scan(ctx context.Context, match string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	out = lo.Uniq(out)
	sort.Strings(out)
	return out, nil
}

type memoryEntry struct {
	value     domain.BufferedMessage
	expiresAt time.Time
}

// memoryMessageBuffer se usa cuando no hay Redis configurado y en tests.
type memoryMessageBuffer struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryMessageBuffer() MessageBuffer {
	return &memoryMessageBuffer{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (b *memoryMessageBuffer) Stage(_ context.Context, msg domain.BufferedMessage, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[BufferKey(msg.RoomID, msg.Timestamp)] = memoryEntry{
		value:     msg,
		expiresAt: b.now().Add(ttl),
	}
	return nil
}

func (b *memoryMessageBuffer) Keys(_ context.Context, roomID int64) ([]string, error) {
	prefix := fmt.Sprintf("%s%d:", bufferKeyPrefix, roomID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	keys := lo.Filter(lo.Keys(b.items), func(key string, _ int) bool {
		return strings.HasPrefix(key, prefix)
	})
	sort.Strings(keys)
	return keys, nil
}

func (b *memoryMessageBuffer) Get(_ context.Context, key string) (domain.BufferedMessage, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	entry, ok := b.items[key]
	if !ok {
		return domain.BufferedMessage{}, false, nil
	}
	return entry.value, true, nil
}

func (b *memoryMessageBuffer) DeleteKeys(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		delete(b.items, key)
	}
	return nil
}

func (b *memoryMessageBuffer) Rooms(_ context.Context) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return roomIDs(lo.Keys(b.items)), nil
}

func (b *memoryMessageBuffer) expireLocked() {
	now := b.now()
	for key, entry := range b.items {
		if !now.Before(entry.expiresAt) {
			delete(b.items, key)
		}
	}
}

func roomIDs(keys []string) []int64 {
	ids := lo.Uniq(lo.FilterMap(keys, func(key string, _ int) (int64, bool) {
		return roomIDFromKey(key)
	}))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
