package transport

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/ref"
)

const Namespace = "github.com/hatlonely/odm/transport"

func init() {
	ref.MustRegister(Namespace, "HTTPTransport", NewHTTPTransportWithOptions)
	ref.MustRegister(Namespace, "ObservableTransport", NewObservableTransportWithOptions)
}

// Transport 与存储服务之间的请求通道
// body 为 nil 时不发送请求体，返回成功响应的原始内容
// 存储端返回的错误按错误码转换为 errs 中对应的类型，网络失败返回 *errs.TransportError
type Transport interface {
	Request(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error)
}

// Func 函数形式的 Transport
type Func func(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error)

func (f Func) Request(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	return f(ctx, method, path, body, query)
}

func NewTransportWithOptions(options *ref.TypeOptions) (Transport, error) {
	t, err := ref.Build[Transport](options, Namespace)
	if err != nil {
		return nil, errors.WithMessage(err, "build Transport failed")
	}
	return t, nil
}
