package odm

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/odm/cfg"
	"github.com/hatlonely/odm/log"
	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/metacache"
	"github.com/hatlonely/odm/ref"
	"github.com/hatlonely/odm/repository"
	"github.com/hatlonely/odm/transport"
)

// Options 客户端配置
//
//	transport:
//	  type: ObservableTransport
//	  options:
//	    transport:
//	      type: HTTPTransport
//	      options:
//	        baseURL: http://localhost:8080
//	cache:
//	  ttl: 10m
//	repository:
//	  batchSize: 50
type Options struct {
	Transport *ref.TypeOptions `cfg:"transport" validate:"required"`
	Logger    *ref.TypeOptions `cfg:"logger"`
	// Cache 为空时不缓存实体类型定义
	Cache      *metacache.Options `cfg:"cache"`
	Repository repository.Options `cfg:"repository"`
}

// Client 组装好 Transport、日志和缓存的 Manager
type Client struct {
	*repository.Manager
	cache   *metacache.Cache
	logger  logger.Logger
	watcher *cfg.Watcher
}

func NewWithOptions(options *Options) (*Client, error) {
	if options == nil || options.Transport.Empty() {
		return nil, errors.New("transport is required")
	}

	l, err := log.New(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "create logger failed")
	}
	t, err := transport.NewTransportWithOptions(options.Transport)
	if err != nil {
		return nil, errors.WithMessage(err, "create transport failed")
	}

	opts := []repository.Option{repository.WithLogger(l)}
	var cache *metacache.Cache
	if options.Cache != nil {
		if cache, err = metacache.NewCacheWithOptions(options.Cache); err != nil {
			return nil, errors.WithMessage(err, "create cache failed")
		}
		cache.WithLogger(l.WithGroup("metacache"))
		opts = append(opts, repository.WithCache(cache))
	}

	return &Client{
		Manager: repository.NewManagerWithOptions(t, &options.Repository, opts...),
		cache:   cache,
		logger:  l,
	}, nil
}

type fileOptions struct {
	watch bool
}

type FileOption func(*fileOptions)

// WithWatch 监听配置文件，文件变化后重新应用 repository 配置
// transport、logger 和 cache 的变化需要重新创建客户端
func WithWatch() FileOption {
	return func(o *fileOptions) { o.watch = true }
}

// NewFromFile 从配置文件创建客户端，格式由扩展名决定
func NewFromFile(path string, opts ...FileOption) (*Client, error) {
	var fo fileOptions
	for _, opt := range opts {
		opt(&fo)
	}

	var options Options
	if err := cfg.Load(path, &options); err != nil {
		return nil, errors.WithMessagef(err, "load %s failed", path)
	}
	client, err := NewWithOptions(&options)
	if err != nil {
		return nil, err
	}
	if !fo.watch {
		return client, nil
	}

	if client.watcher, err = cfg.NewWatcher(path); err != nil {
		_ = client.Close()
		return nil, errors.WithMessagef(err, "watch %s failed", path)
	}
	client.watcher.OnChange(client.reload)
	return client, nil
}

// reload 新配置无效时保留当前配置
func (c *Client) reload(node *cfg.Node, err error) {
	if err != nil {
		c.logger.Warn("config reload failed", "error", err)
		return
	}
	var options Options
	if err := node.ConvertTo(&options); err != nil {
		c.logger.Warn("config reload failed", "error", err)
		return
	}
	c.Manager.Reload(&options.Repository)
	c.logger.Info("config reloaded",
		"batchSize", c.BatchSize(), "cascadeBatchSize", c.CascadeBatchSize())
}

func (c *Client) Close() error {
	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
	}
	if c.cache != nil {
		if cerr := c.cache.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}
