package metacache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/hatlonely/odm/log"
	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/ref"
	"github.com/hatlonely/odm/schema"
	"github.com/hatlonely/odm/wire"
)

type Options struct {
	// Store 为空时使用 FreeCacheStore
	Store *ref.TypeOptions `cfg:"store"`

	Serializer string        `cfg:"serializer" def:"msgpack" validate:"omitempty,oneof=json msgpack bson"`
	TTL        time.Duration `cfg:"ttl" def:"5m"`
	Prefix     string        `cfg:"prefix" def:"odm:entity:"`
}

// Loader 缓存未命中时从存储端读取实体类型定义
type Loader func(ctx context.Context, name string) (*schema.EntityDefinition, error)

// Cache 实体类型定义的读穿缓存，同一个类型的并发未命中只加载一次
type Cache struct {
	store      Store
	serializer Serializer[wire.EntityTypeResponse]
	ttl        time.Duration
	prefix     string
	group      singleflight.Group
	logger     logger.Logger
}

func NewCacheWithOptions(options *Options) (*Cache, error) {
	if options == nil {
		options = &Options{}
	}
	var store Store
	if options.Store.Empty() {
		store = NewFreeCacheStoreWithOptions(nil)
	} else {
		var err error
		if store, err = NewStoreWithOptions(options.Store); err != nil {
			return nil, err
		}
	}
	return NewCache(store, options)
}

func NewCache(store Store, options *Options) (*Cache, error) {
	if options == nil {
		options = &Options{}
	}
	serializer, err := NewSerializer[wire.EntityTypeResponse](options.Serializer)
	if err != nil {
		return nil, err
	}
	prefix := options.Prefix
	if prefix == "" {
		prefix = "odm:entity:"
	}
	return &Cache{
		store:      store,
		serializer: serializer,
		ttl:        options.TTL,
		prefix:     prefix,
		logger:     log.Default().WithGroup("metacache"),
	}, nil
}

func (c *Cache) WithLogger(l logger.Logger) *Cache {
	c.logger = l
	return c
}

// Get 缓存读取失败只记录日志，退化为直接加载
func (c *Cache) Get(ctx context.Context, name string, load Loader) (*schema.EntityDefinition, error) {
	key := c.prefix + name
	if data, err := c.store.Get(ctx, key); err == nil {
		resp, err := c.serializer.Deserialize(data)
		if err == nil {
			return schema.FromWire(resp), nil
		}
		c.logger.WarnContext(ctx, "decode cached entity definition failed", "entityType", name, "error", err)
	} else if !errors.Is(err, ErrKeyNotFound) {
		c.logger.WarnContext(ctx, "read entity definition cache failed", "entityType", name, "error", err)
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		def, err := load(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, def); err != nil {
			c.logger.WarnContext(ctx, "write entity definition cache failed", "entityType", name, "error", err)
		}
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schema.EntityDefinition), nil
}

func (c *Cache) Put(ctx context.Context, def *schema.EntityDefinition) error {
	if def == nil {
		return errors.New("definition is nil")
	}
	data, err := c.serializer.Serialize(def.ToWire())
	if err != nil {
		return errors.Wrap(err, "serialize entity definition failed")
	}
	return c.store.Set(ctx, c.prefix+def.Name, data, c.ttl)
}

func (c *Cache) Invalidate(ctx context.Context, name string) error {
	return c.store.Del(ctx, c.prefix+name)
}

func (c *Cache) Close() error {
	return c.store.Close()
}
