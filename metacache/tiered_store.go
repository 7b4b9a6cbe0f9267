package metacache

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/ref"
)

type TieredStoreOptions struct {
	// Tiers 按优先级从高到低排列，第一层通常是进程内缓存，最后一层是共享或持久化存储
	Tiers []*ref.TypeOptions `cfg:"tiers" validate:"required,min=1,dive,required"`

	// Promote 从下层读到的数据是否写回上层
	Promote bool `cfg:"promote" def:"true"`

	// PromoteTTL 写回上层时使用的过期时间，下层剩余的过期时间无法获知
	PromoteTTL time.Duration `cfg:"promoteTTL" def:"1m"`
}

// TieredStore 多级存储，读取逐层查找，写入和删除作用于所有层
type TieredStore struct {
	tiers      []Store
	promote    bool
	promoteTTL time.Duration
}

func NewTieredStoreWithOptions(options *TieredStoreOptions) (*TieredStore, error) {
	if options == nil || len(options.Tiers) == 0 {
		return nil, errors.New("at least one tier is required")
	}

	tiers := make([]Store, 0, len(options.Tiers))
	for i, tierOptions := range options.Tiers {
		tier, err := NewStoreWithOptions(tierOptions)
		if err != nil {
			for _, created := range tiers {
				_ = created.Close()
			}
			return nil, errors.WithMessagef(err, "failed to create tier %d", i)
		}
		tiers = append(tiers, tier)
	}
	return NewTieredStore(tiers, options.Promote, options.PromoteTTL), nil
}

func NewTieredStore(tiers []Store, promote bool, promoteTTL time.Duration) *TieredStore {
	return &TieredStore{tiers: tiers, promote: promote, promoteTTL: promoteTTL}
}

// Set 同步写入所有层，任意一层失败返回错误
func (s *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	for i, tier := range s.tiers {
		if err := tier.Set(ctx, key, value, ttl); err != nil {
			return errors.WithMessagef(err, "tier %d set failed", i)
		}
	}
	return nil
}

// Get 某一层读取失败时继续尝试下一层
func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	for i, tier := range s.tiers {
		value, err := tier.Get(ctx, key)
		if err != nil {
			continue
		}
		if s.promote && i > 0 {
			for _, upper := range s.tiers[:i] {
				_ = upper.Set(ctx, key, value, s.promoteTTL)
			}
		}
		return value, nil
	}
	return nil, ErrKeyNotFound
}

func (s *TieredStore) Del(ctx context.Context, key string) error {
	var lastErr error
	for _, tier := range s.tiers {
		if err := tier.Del(ctx, key); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (s *TieredStore) Close() error {
	var lastErr error
	for _, tier := range s.tiers {
		if err := tier.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
