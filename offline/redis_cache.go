package offline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// RedisCacheStorage keeps caches in Redis. Cache names live in a sorted set
// scored by creation time and each cache is a hash of key to stored response.
type RedisCacheStorage struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCacheStorage creates a storage under the given key prefix.
func NewRedisCacheStorage(client *redis.Client, prefix string) *RedisCacheStorage {
	if client == nil {
		panic("offline.NewRedisCacheStorage: redis client is nil")
	}
	if prefix == "" {
		prefix = "offline"
	}
	return &RedisCacheStorage{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisCacheStorage) namesKey() string { return s.prefix + ":caches" }

func (s *RedisCacheStorage) cacheKey(name string) string { return s.prefix + ":cache:" + name }

func (s *RedisCacheStorage) Open(ctx context.Context, name string) (Cache, error) {
	err := s.client.ZAddNX(ctx, s.namesKey(), redis.Z{Score: float64(s.now().UnixNano()), Member: name}).Err()
	if err != nil {
		return nil, err
	}
	return &redisCache{storage: s, name: name}, nil
}

func (s *RedisCacheStorage) Has(ctx context.Context, name string) (bool, error) {
	_, err := s.client.ZScore(ctx, s.namesKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

func (s *RedisCacheStorage) Keys(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.namesKey(), 0, -1).Result()
}

func (s *RedisCacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.ZRem(ctx, s.namesKey(), name)
		p.Del(ctx, s.cacheKey(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

// putIfOpen writes the entry only while the cache is still listed, so a
// background write racing a delete cannot resurrect the cache.
var putIfOpen = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
end
return -1
`)

type redisCache struct {
	storage *RedisCacheStorage
	name    string
}

func (c *redisCache) Name() string { return c.name }

func (c *redisCache) Match(ctx context.Context, key string) (StoredResponse, error) {
	raw, err := c.storage.client.HGet(ctx, c.storage.cacheKey(c.name), key).Result()
	if errors.Is(err, redis.Nil) {
		return StoredResponse{}, ErrCacheMiss
	}
	if err != nil {
		return StoredResponse{}, err
	}
	var r StoredResponse
	if err := sonic.UnmarshalString(raw, &r); err != nil {
		return StoredResponse{}, err
	}
	if r.Version != storedResponseVersion {
		return StoredResponse{}, ErrCacheMiss
	}
	return r, nil
}

func (c *redisCache) Put(ctx context.Context, key string, r StoredResponse) error {
	if r.Version == 0 {
		r.Version = storedResponseVersion
	}
	raw, err := sonic.MarshalString(r)
	if err != nil {
		return err
	}
	return putIfOpen.Run(ctx, c.storage.client,
		[]string{c.storage.namesKey(), c.storage.cacheKey(c.name)},
		c.name, key, raw,
	).Err()
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.storage.client.HKeys(ctx, c.storage.cacheKey(c.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.storage.client.HDel(ctx, c.storage.cacheKey(c.name), key).Result()
	return n > 0, err
}
