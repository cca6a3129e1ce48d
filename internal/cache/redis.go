package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"finbot/internal/config"
)

// failMarker is stored under a data key when every upstream source failed,
// so repeated requests do not hammer dead providers until the marker
// expires.
const failMarker = "FETCH_FAILED"

// Status is the outcome of a cache read.
type Status int

const (
	// Miss means nothing is cached under the key.
	Miss Status = iota
	// Hit means a cached value was returned.
	Hit
	// Failed means a recent fetch for this key failed and the negative
	// marker has not expired yet.
	Failed
)

// Service wraps the Redis connection with the key grammar, TTL policy and
// the distributed fetch lock.
type Service struct {
	rdb       *redis.Client
	keyPrefix string
	ttls      map[string]time.Duration
	failTTL   time.Duration
	lockTTL   time.Duration
}

// New connects to Redis and pings it. Connection failure is returned, not
// fatal, so callers decide whether to run degraded.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	log.Println("Connected to Redis")
	return &Service{
		rdb:       rdb,
		keyPrefix: cfg.Cache.KeyPrefix,
		ttls:      cfg.Cache.TTL,
		failTTL:   cfg.Cache.FailMarkerTTL,
		lockTTL:   cfg.Cache.LockTimeout,
	}, nil
}

// NewWithClient wires an existing client, used by tests with miniredis.
func NewWithClient(rdb *redis.Client, cfg *config.Config) *Service {
	return &Service{
		rdb:       rdb,
		keyPrefix: cfg.Cache.KeyPrefix,
		ttls:      cfg.Cache.TTL,
		failTTL:   cfg.Cache.FailMarkerTTL,
		lockTTL:   cfg.Cache.LockTimeout,
	}
}

func (s *Service) Close() error {
	return s.rdb.Close()
}

// DataKey builds the cache key for a (dataType, source, symbol) triple.
func (s *Service) DataKey(dataType, source, symbol string, params map[string]string) string {
	return Key(s.keyPrefix, dataType, source, symbol, params)
}

// PlainKey prefixes a non-data key (ticker tape list, session state,
// template routing) with the configured namespace.
func (s *Service) PlainKey(parts ...string) string {
	return strings.Join(append([]string{s.keyPrefix}, parts...), ":")
}

// TTLFor returns the configured TTL for a data type, falling back to 5
// minutes for unknown types.
func (s *Service) TTLFor(dataType string) time.Duration {
	if ttl, ok := s.ttls[dataType]; ok {
		return ttl
	}
	return 5 * time.Minute
}

// Get reads the raw value under key. Redis errors are treated as misses and
// logged; the cache must never take a request down.
func (s *Service) Get(ctx context.Context, key string) ([]byte, Status) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("cache: get %s: %v", key, err)
		}
		return nil, Miss
	}
	if string(raw) == failMarker {
		return nil, Failed
	}
	return raw, Hit
}

// GetJSON reads and decodes the value under key into dst. A corrupt cached
// value counts as a miss and the entry is deleted.
func (s *Service) GetJSON(ctx context.Context, key string, dst any) Status {
	raw, status := s.Get(ctx, key)
	if status != Hit {
		return status
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Printf("cache: corrupt entry %s: %v", key, err)
		s.rdb.Del(ctx, key)
		return Miss
	}
	return Hit
}

// SetJSON encodes v and stores it under key with the given TTL.
func (s *Service) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// MarkFailed stores the negative marker under key so the next requests
// within the marker TTL short-circuit instead of retrying dead upstreams.
func (s *Service) MarkFailed(ctx context.Context, key string) error {
	return s.MarkFailedFor(ctx, key, s.failTTL)
}

// MarkFailedFor writes the marker with an explicit TTL, used for
// rate-limited upstreams where a shorter window is appropriate.
func (s *Service) MarkFailedFor(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, failMarker, ttl).Err()
}

// FailMarkerTTL exposes the configured negative-cache window.
func (s *Service) FailMarkerTTL() time.Duration {
	return s.failTTL
}

// Size returns the number of keys in the cache database.
func (s *Service) Size(ctx context.Context) (int64, error) {
	return s.rdb.DBSize(ctx).Result()
}

// FlushAll clears the cache database. Admin surface only.
func (s *Service) FlushAll(ctx context.Context) error {
	return s.rdb.FlushDB(ctx).Err()
}

// Delete removes a key. Used by the corrupt-entry path and by tests.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Lock is a held distributed fetch lock.
type Lock struct {
	s     *Service
	key   string
	token string
}

// releaseScript deletes the lock only when we still own it, so an expired
// lock re-acquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLock attempts SET NX PX on "{key}:lock". ok is false when another
// worker holds the lock.
func (s *Service) AcquireLock(ctx context.Context, key string) (*Lock, bool, error) {
	token := randomToken()
	lockKey := key + ":lock"
	ok, err := s.rdb.SetNX(ctx, lockKey, token, s.lockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cache: acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{s: s, key: lockKey, token: token}, true, nil
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.s.rdb, []string{l.key}, l.token).Err()
}

func randomToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
