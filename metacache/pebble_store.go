package metacache

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/fifo"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

type PebbleStoreOptions struct {
	// 数据库目录，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// 写入时不同步到磁盘
	SetWithoutSync bool `cfg:"setWithoutSync"`

	// 块缓存大小，单位字节，0 使用 pebble 默认值 8MB
	CacheSize int64 `cfg:"cacheSize"`

	// 并行加载块的数量上限，0 表示不限制
	LoadBlockSemaCapacity int64 `cfg:"loadBlockSemaCapacity"`

	DisableWAL bool `cfg:"disableWAL"`

	MaxOpenFiles int `cfg:"maxOpenFiles"`
}

// PebbleStore 基于 pebble 的持久化定义缓存
type PebbleStore struct {
	db         *pebble.DB
	setOptions *pebble.WriteOptions
	now        func() time.Time
}

func NewPebbleStoreWithOptions(options *PebbleStoreOptions) (*PebbleStore, error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}
	if err := os.MkdirAll(options.DBPath, 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. directory: %s", options.DBPath)
	}

	pebbleOptions := &pebble.Options{
		DisableWAL:   options.DisableWAL,
		MaxOpenFiles: options.MaxOpenFiles,
	}
	if options.CacheSize > 0 {
		cache := pebble.NewCache(options.CacheSize)
		defer cache.Unref()
		pebbleOptions.Cache = cache
	}
	if options.LoadBlockSemaCapacity > 0 {
		pebbleOptions.LoadBlockSema = fifo.NewSemaphore(options.LoadBlockSemaCapacity)
	}

	db, err := pebble.Open(options.DBPath, pebbleOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "pebble.Open failed. dbPath: %s", options.DBPath)
	}

	setOptions := pebble.Sync
	if options.SetWithoutSync {
		setOptions = pebble.NoSync
	}
	return &PebbleStore{db: db, setOptions: setOptions, now: time.Now}, nil
}

func (s *PebbleStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.db.Set([]byte(key), encodeEntry(s.now(), value, ttl), s.setOptions); err != nil {
		return errors.Wrapf(err, "pebble set failed. key: %s", key)
	}
	return nil
}

func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	buf, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "pebble get failed. key: %s", key)
	}
	value, err := decodeEntry(s.now(), buf)
	if err == nil {
		// pebble 返回的切片在 closer 关闭后失效
		value = append([]byte(nil), value...)
	}
	_ = closer.Close()

	if errors.Is(err, errExpired) {
		_ = s.Del(ctx, key)
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *PebbleStore) Del(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(key), s.setOptions); err != nil {
		return errors.Wrapf(err, "pebble delete failed. key: %s", key)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
