package metacache

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/ref"
)

const Namespace = "github.com/hatlonely/odm/metacache"

var ErrKeyNotFound = errors.New("key not found")

func init() {
	ref.MustRegister(Namespace, "FreeCacheStore", NewFreeCacheStoreWithOptions)
	ref.MustRegister(Namespace, "RedisStore", NewRedisStoreWithOptions)
	ref.MustRegister(Namespace, "BoltStore", NewBoltStoreWithOptions)
	ref.MustRegister(Namespace, "PebbleStore", NewPebbleStoreWithOptions)
	ref.MustRegister(Namespace, "LevelDBStore", NewLevelDBStoreWithOptions)
	ref.MustRegister(Namespace, "TieredStore", NewTieredStoreWithOptions)
}

// Store 带过期时间的字节存储
type Store interface {
	// Set ttl 为 0 时永不过期
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get 键不存在或已过期时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Del 键不存在时也返回成功
	Del(ctx context.Context, key string) error
	Close() error
}

func NewStoreWithOptions(options *ref.TypeOptions) (Store, error) {
	store, err := ref.Build[Store](options, Namespace)
	if err != nil {
		return nil, errors.WithMessage(err, "build Store failed")
	}
	return store, nil
}
