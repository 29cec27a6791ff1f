// Package cache provides a two-tier (in-process + Redis) cache with
// single-flight fill, tag-based invalidation, large-value compression, and
// guards against penetration and stampede.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// formatTag prefixes every value stored in the L2 tier, mirroring the
// one-byte format marker internal/serialization uses for job payloads.
type formatTag byte

const (
	formatRaw  formatTag = 0x00
	formatZstd formatTag = 0x01
	formatNull formatTag = 0x02 // penetration guard: caches a confirmed miss
)

// Config tunes both cache tiers.
type Config struct {
	// MaxL1Entries bounds the L1 tier by entry count.
	MaxL1Entries int
	// MaxL1Bytes additionally bounds the L1 tier by total value size. Zero disables the byte budget.
	MaxL1Bytes int64
	// CompressionThresholdBytes is the value size above which L2 entries are zstd-compressed.
	CompressionThresholdBytes int
	// DefaultTTL is used when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	// NegativeTTL is how long a confirmed miss is cached by GetOrSet's penetration guard.
	NegativeTTL time.Duration
	// AvalancheJitter is the fractional jitter (0..1) applied to every L2 TTL to
	// spread out expirations and avoid synchronized mass misses.
	AvalancheJitter float64
}

// DefaultConfig returns reasonable tuning for a moderate-traffic cache.
func DefaultConfig() Config {
	return Config{
		MaxL1Entries:              10000,
		MaxL1Bytes:                64 << 20,
		CompressionThresholdBytes: 4096,
		DefaultTTL:                5 * time.Minute,
		NegativeTTL:               30 * time.Second,
		AvalancheJitter:           0.1,
	}
}

type entry struct {
	value     []byte
	expiresAt time.Time
	hitCount  atomic.Int64
}

// Cache is a tagged, two-tier cache. The L1 tier is an in-process LRU; the
// L2 tier is Redis, reached through a Gateway so every instance of a
// process shares the same backing store.
type Cache struct {
	cfg    Config
	gw     *redisgw.Gateway
	codec  *keycodec.Codec
	l1     *lru.Cache[string, *entry]
	l1Mu   sync.Mutex
	l1Size atomic.Int64
	sf     singleflight.Group
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// New builds a Cache backed by gw and namespaced through codec.
func New(gw *redisgw.Gateway, codec *keycodec.Codec, cfg Config) (*Cache, error) {
	l1, err := lru.New[string, *entry](cfg.MaxL1Entries)
	if err != nil {
		return nil, bananaserrors.Internal("cache: build L1: %v", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, bananaserrors.Internal("cache: build zstd encoder: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, bananaserrors.Internal("cache: build zstd decoder: %v", err)
	}
	return &Cache{cfg: cfg, gw: gw, codec: codec, l1: l1, enc: enc, dec: dec}, nil
}

// Get returns the cached value for key, checking L1 then L2. A confirmed
// cached null (see GetOrSet) reports ok=true with a nil value.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if e, ok := c.l1.Get(key); ok {
		if time.Now().Before(e.expiresAt) {
			e.hitCount.Add(1)
			return e.value, true, nil
		}
		c.removeL1(key)
	}

	raw, err := c.gw.Client.Get(ctx, c.codec.CacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, bananaserrors.Backend(err)
	}

	value, isNull, err := decode(c.dec, raw)
	if err != nil {
		return nil, false, err
	}
	ttl, err := c.gw.Client.TTL(ctx, c.codec.CacheKey(key)).Result()
	if err != nil || ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.setL1(key, value, ttl)
	if isNull {
		return nil, true, nil
	}
	return value, true, nil
}

// Set writes value to both tiers under key, tagged by tags, expiring after
// ttl (or cfg.DefaultTTL if ttl <= 0). The L2 TTL is jittered to avoid
// synchronized expiry across many keys written at the same time.
func (c *Cache) Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	jittered := jitter(ttl, c.cfg.AvalancheJitter)

	encoded, err := c.encode(value)
	if err != nil {
		return err
	}

	err = c.gw.Pipeline(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.codec.CacheKey(key), encoded, jittered)
		for _, tag := range tags {
			pipe.SAdd(ctx, c.codec.CacheTagKey(tag), key)
			pipe.Expire(ctx, c.codec.CacheTagKey(tag), jittered+time.Hour)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.setL1(key, value, jittered)
	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.removeL1(key)
	if err := c.gw.Client.Del(ctx, c.codec.CacheKey(key)).Err(); err != nil {
		return bananaserrors.Backend(err)
	}
	return nil
}

// InvalidateTag evicts every key ever Set with tag, from both tiers.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	keys, err := c.gw.Client.SMembers(ctx, c.codec.CacheTagKey(tag)).Result()
	if err != nil {
		return bananaserrors.Backend(err)
	}
	for _, k := range keys {
		c.removeL1(k)
	}
	if len(keys) == 0 {
		return nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = c.codec.CacheKey(k)
	}
	return c.gw.Pipeline(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKeys...)
		pipe.Del(ctx, c.codec.CacheTagKey(tag))
		return nil
	})
}

// Loader computes the value for a cache miss. A nil, nil return is a
// confirmed miss and is cached under NegativeTTL by the penetration guard.
type Loader func(ctx context.Context) ([]byte, error)

// GetOrSet returns the cached value for key, computing and storing it with
// fn on a miss. Concurrent callers for the same key collapse onto a single
// in-flight fn call via singleflight, so a stampede of misses for the same
// key reaches the backing loader once rather than once per caller.
func (c *Cache) GetOrSet(ctx context.Context, key string, tags []string, ttl time.Duration, fn Loader) ([]byte, error) {
	if value, ok, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check now that we hold the single-flight slot: another
		// caller may have just filled it.
		if value, ok, err := c.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return value, nil
		}

		value, loadErr := fn(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		if value == nil {
			if err := c.setNull(ctx, key, tags); err != nil {
				return nil, err
			}
			return []byte(nil), nil
		}
		if err := c.Set(ctx, key, value, tags, ttl); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

func (c *Cache) setNull(ctx context.Context, key string, tags []string) error {
	encoded := []byte{byte(formatNull)}
	jittered := jitter(c.cfg.NegativeTTL, c.cfg.AvalancheJitter)
	err := c.gw.Pipeline(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.codec.CacheKey(key), encoded, jittered)
		for _, tag := range tags {
			pipe.SAdd(ctx, c.codec.CacheTagKey(tag), key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.setL1(key, nil, jittered)
	return nil
}

func (c *Cache) encode(value []byte) ([]byte, error) {
	if len(value) < c.cfg.CompressionThresholdBytes {
		out := make([]byte, len(value)+1)
		out[0] = byte(formatRaw)
		copy(out[1:], value)
		return out, nil
	}
	compressed := c.enc.EncodeAll(value, make([]byte, 0, len(value)))
	out := make([]byte, len(compressed)+1)
	out[0] = byte(formatZstd)
	copy(out[1:], compressed)
	return out, nil
}

func decode(dec *zstd.Decoder, raw []byte) (value []byte, isNull bool, err error) {
	if len(raw) == 0 {
		return nil, false, bananaserrors.Serialization(errors.New("cache: empty payload"))
	}
	tag := formatTag(raw[0])
	payload := raw[1:]
	switch tag {
	case formatRaw:
		return payload, false, nil
	case formatZstd:
		out, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, false, bananaserrors.Serialization(err)
		}
		return out, false, nil
	case formatNull:
		return nil, true, nil
	default:
		return nil, false, bananaserrors.Serialization(fmt.Errorf("cache: unknown format tag 0x%02x", raw[0]))
	}
}

// setL1 inserts or replaces an L1 entry and enforces the byte budget
// afterward. Eviction prefers stale, infrequently-hit entries over
// recently-hit ones: an entry survives a sweep if it has been hit more than
// twice and is small, giving small hot values a pass over large cold ones.
func (c *Cache) setL1(key string, value []byte, ttl time.Duration) {
	c.l1Mu.Lock()
	defer c.l1Mu.Unlock()

	if old, ok := c.l1.Peek(key); ok {
		c.l1Size.Add(-int64(len(old.value)))
	}
	e := &entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.l1.Add(key, e)
	c.l1Size.Add(int64(len(value)))
	c.enforceByteBudget()
}

func (c *Cache) removeL1(key string) {
	c.l1Mu.Lock()
	defer c.l1Mu.Unlock()
	if old, ok := c.l1.Peek(key); ok {
		c.l1Size.Add(-int64(len(old.value)))
	}
	c.l1.Remove(key)
}

func (c *Cache) enforceByteBudget() {
	if c.cfg.MaxL1Bytes <= 0 {
		return
	}
	for c.l1Size.Load() > c.cfg.MaxL1Bytes {
		keys := c.l1.Keys() // oldest first
		if len(keys) == 0 {
			return
		}
		evicted := false
		for _, k := range keys {
			e, ok := c.l1.Peek(k)
			if !ok {
				continue
			}
			if e.hitCount.Load() > 2 && len(e.value) < 4096 {
				continue
			}
			c.l1.Remove(k)
			c.l1Size.Add(-int64(len(e.value)))
			evicted = true
			break
		}
		if !evicted {
			e, ok := c.l1.Peek(keys[0])
			if !ok {
				return
			}
			c.l1.Remove(keys[0])
			c.l1Size.Add(-int64(len(e.value)))
		}
	}
}

// jitter returns ttl adjusted by a random +/- fraction bounded by jitterFrac.
func jitter(ttl time.Duration, jitterFrac float64) time.Duration {
	if jitterFrac <= 0 || ttl <= 0 {
		return ttl
	}
	spread := float64(ttl) * jitterFrac
	delta := (rand.Float64()*2 - 1) * spread
	return ttl + time.Duration(delta)
}
