package intgen

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisOptions 基于 redis INCR 的分布式自增序列
type RedisOptions struct {
	Addr     string        `cfg:"addr" def:"localhost:6379"`
	Password string        `cfg:"password"`
	DB       int           `cfg:"db"`
	Key      string        `cfg:"key" def:"odm:sequence"`
	Timeout  time.Duration `cfg:"timeout" def:"3s"`
}

type RedisGenerator struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

func NewRedisGeneratorWithOptions(options *RedisOptions) *RedisGenerator {
	if options == nil {
		options = &RedisOptions{}
	}
	if options.Addr == "" {
		options.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	})
	return NewRedisGenerator(client, options.Key, options.Timeout)
}

func NewRedisGenerator(client redis.UniversalClient, key string, timeout time.Duration) *RedisGenerator {
	if key == "" {
		key = "odm:sequence"
	}
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &RedisGenerator{client: client, key: key, timeout: timeout}
}

// WithKey 共享连接，使用另一个序列 key
func (g *RedisGenerator) WithKey(key string) *RedisGenerator {
	return &RedisGenerator{client: g.client, key: key, timeout: g.timeout}
}

func (g *RedisGenerator) Generate() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	v, err := g.client.Incr(ctx, g.key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis incr %s failed", g.key)
	}
	return v, nil
}
