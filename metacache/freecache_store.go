package metacache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
)

type FreeCacheStoreOptions struct {
	// 缓存大小，单位字节，freecache 最小 512KB
	Size int `cfg:"size" def:"1048576"`
}

// FreeCacheStore 进程内缓存，过期精度为秒
type FreeCacheStore struct {
	cache *freecache.Cache
}

func NewFreeCacheStoreWithOptions(options *FreeCacheStoreOptions) *FreeCacheStore {
	size := 1024 * 1024
	if options != nil && options.Size > 0 {
		size = options.Size
	}
	return &FreeCacheStore{cache: freecache.NewCache(size)}
}

func (s *FreeCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expireSeconds := int(ttl / time.Second)
	if ttl > 0 && expireSeconds == 0 {
		expireSeconds = 1
	}
	return s.cache.Set([]byte(key), value, expireSeconds)
}

func (s *FreeCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.cache.Get([]byte(key))
	if err != nil {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (s *FreeCacheStore) Del(ctx context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

func (s *FreeCacheStore) Close() error {
	s.cache.Clear()
	return nil
}
