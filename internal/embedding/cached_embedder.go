package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Cache 向量缓存的最小接口
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// CachedEmbedder 按 模型+文本哈希 缓存向量，缓存读写失败只记日志
type CachedEmbedder struct {
	next  Embedder
	cache Cache
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, ttl: ttl}
}

func (c *CachedEmbedder) Model() string { return c.next.Model() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.next.Model(), text)
	if b, err := c.cache.Get(ctx, key); err == nil {
		if vec, derr := decodeVector(b); derr == nil {
			return vec, nil
		}
		logger.Warn(ctx, "Discarding corrupt embedding cache entry", "key", key)
	} else if !errors.Is(err, ErrCacheMiss) {
		logger.Warn(ctx, "Embedding cache read failed", "error", err.Error())
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		logger.Warn(ctx, "Embedding cache write failed", "error", err.Error())
	}
	return vec, nil
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(h[:])
}

// encodeVector 小端序 float32
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid byte length for float32 slice: %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
