package metacache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type BoltStoreOptions struct {
	// 数据库文件路径，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	BucketName string `cfg:"bucketName" def:"odm_entities"`

	// 获取文件锁的等待时间，0 表示一直等待
	Timeout time.Duration `cfg:"timeout" def:"1s"`

	NoSync bool `cfg:"noSync"`
}

// BoltStore 持久化的定义缓存，进程重启后仍然有效
type BoltStore struct {
	db         *bolt.DB
	bucketName []byte
	now        func() time.Time
}

func NewBoltStoreWithOptions(options *BoltStoreOptions) (*BoltStore, error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	directory := filepath.Dir(options.DBPath)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. directory: %s", directory)
	}

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{
		Timeout: options.Timeout,
		NoSync:  options.NoSync,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt.Open failed. dbPath: %s", options.DBPath)
	}

	bucketName := "odm_entities"
	if options.BucketName != "" {
		bucketName = options.BucketName
	}

	store := &BoltStore{db: db, bucketName: []byte(bucketName), now: time.Now}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(store.bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create bucket failed")
	}

	return store, nil
}

func (s *BoltStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	buf := encodeEntry(s.now(), value, ttl)
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if bucket == nil {
			return errors.New("bucket not found")
		}
		return bucket.Put([]byte(key), buf)
	})
}

func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if bucket == nil {
			return errors.New("bucket not found")
		}
		v, err := decodeEntry(s.now(), bucket.Get([]byte(key)))
		if err != nil {
			return err
		}
		// bolt 返回的切片只在事务内有效
		value = append([]byte(nil), v...)
		return nil
	})
	if errors.Is(err, errExpired) {
		_ = s.Del(ctx, key)
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *BoltStore) Del(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
