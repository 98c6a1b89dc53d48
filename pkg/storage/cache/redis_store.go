package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ndnstore/pkg/core"
	"ndnstore/pkg/storage"
)

// 缓存值: present 表示归档里有这个 chunk，absent 是负缓存
const (
	present = "1"
	absent  = "0"
)

const (
	defaultKeyPrefix   = "ndn:archive:"
	defaultNegativeTTL = time.Minute
	opTimeout          = 2 * time.Second
)

// CachedStore 在归档层前面加一层 Redis 存在性缓存
// ChunkMgr 每次本地未命中都会问归档层 Has，所以不存在的结果也缓存一段时间
// chunk 数据本身不进 Redis
type CachedStore struct {
	backend storage.Store
	client  *redis.Client
	ttl     time.Duration
	negTTL  time.Duration
	prefix  string
}

var _ storage.Store = (*CachedStore)(nil)

type Config struct {
	RedisURL string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 正缓存的过期时间，0 表示不过期
	// NegativeTTL 默认 1 分钟，负数表示不做负缓存
	NegativeTTL time.Duration
	KeyPrefix   string
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %w", core.ErrInvalidParam, err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connect redis: %w", core.ErrIO, err)
	}

	s := &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		negTTL:  cfg.NegativeTTL,
		prefix:  cfg.KeyPrefix,
	}
	if s.negTTL == 0 {
		s.negTTL = defaultNegativeTTL
	}
	if s.prefix == "" {
		s.prefix = defaultKeyPrefix
	}
	return s, nil
}

func (s *CachedStore) cacheKey(id core.ChunkId) string {
	return s.prefix + id.String()
}

// remember 写缓存，失败只记日志
// 上层 ctx 已经取消时也要写完，所以不继承取消信号
func (s *CachedStore) remember(ctx context.Context, id core.ChunkId, found bool) {
	val, ttl := present, s.ttl
	if !found {
		if s.negTTL < 0 {
			return
		}
		val, ttl = absent, s.negTTL
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.cacheKey(id), val, ttl).Err(); err != nil {
		slog.Warn("redis set failed", "chunk", id, "err", err)
	}
}

func (s *CachedStore) Has(ctx context.Context, id core.ChunkId) (bool, error) {
	val, err := s.client.Get(ctx, s.cacheKey(id)).Result()
	switch {
	case err == nil && val == present:
		return true, nil
	case err == nil && val == absent:
		return false, nil
	case err != nil && !errors.Is(err, redis.Nil):
		// Redis 故障时退化成直接查归档
		slog.Warn("redis get failed, falling back to archive", "chunk", id, "err", err)
	}

	found, err := s.backend.Has(ctx, id)
	if err != nil {
		return false, err
	}
	s.remember(ctx, id, found)
	return found, nil
}

// Put 先查缓存做去重，写成功后把负缓存覆盖掉
func (s *CachedStore) Put(ctx context.Context, id core.ChunkId, r io.Reader, size uint64) error {
	exists, err := s.Has(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.backend.Put(ctx, id, r, size); err != nil {
		return err
	}
	s.remember(ctx, id, true)
	return nil
}

// Get 不经过缓存；归档里没有时把过期的正缓存改写成负缓存
func (s *CachedStore) Get(ctx context.Context, id core.ChunkId) (io.ReadCloser, error) {
	rc, err := s.backend.Get(ctx, id)
	if storage.IsNotFound(err) {
		s.remember(ctx, id, false)
	}
	return rc, err
}

func (s *CachedStore) Delete(ctx context.Context, id core.ChunkId) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	s.remember(ctx, id, false)
	return nil
}

func (s *CachedStore) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		c.Close()
	}
	return s.client.Close()
}
