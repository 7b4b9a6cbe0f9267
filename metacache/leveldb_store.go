package metacache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type LevelDBStoreOptions struct {
	// 数据库目录，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// 块缓存容量，单位字节，0 使用默认值 8MB
	BlockCacheCapacity int `cfg:"blockCacheCapacity"`

	// 可选值 snappy, none
	Compression string `cfg:"compression" def:"snappy" validate:"omitempty,oneof=snappy none"`

	// 写入时同步到磁盘
	Sync bool `cfg:"sync"`
}

// LevelDBStore 基于 goleveldb 的持久化定义缓存
type LevelDBStore struct {
	db           *leveldb.DB
	writeOptions *opt.WriteOptions
	now          func() time.Time
}

func NewLevelDBStoreWithOptions(options *LevelDBStoreOptions) (*LevelDBStore, error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	compression, err := leveldbParseCompression(options.Compression)
	if err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(options.DBPath, &opt.Options{
		BlockCacheCapacity: options.BlockCacheCapacity,
		Compression:        compression,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb.OpenFile failed. dbPath: %s", options.DBPath)
	}

	return &LevelDBStore{
		db:           db,
		writeOptions: &opt.WriteOptions{Sync: options.Sync},
		now:          time.Now,
	}, nil
}

func leveldbParseCompression(compression string) (opt.Compression, error) {
	switch compression {
	case "", "snappy":
		return opt.SnappyCompression, nil
	case "none":
		return opt.NoCompression, nil
	}
	return opt.DefaultCompression, errors.Errorf("unsupported compression %q", compression)
}

func (s *LevelDBStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.db.Put([]byte(key), encodeEntry(s.now(), value, ttl), s.writeOptions); err != nil {
		return errors.Wrapf(err, "leveldb put failed. key: %s", key)
	}
	return nil
}

func (s *LevelDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	buf, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb get failed. key: %s", key)
	}
	value, err := decodeEntry(s.now(), buf)
	if errors.Is(err, errExpired) {
		_ = s.Del(ctx, key)
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *LevelDBStore) Del(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(key), s.writeOptions); err != nil {
		return errors.Wrapf(err, "leveldb delete failed. key: %s", key)
	}
	return nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
