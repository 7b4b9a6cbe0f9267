package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/hatlonely/odm/errs"
)

// Transport 不经过网络直接调用 Store 的 HTTP 接口，错误分类和 HTTPTransport 一致
type Transport struct {
	store   *Store
	handler *gin.Engine
}

func NewTransport(store *Store) *Transport {
	return &Transport{store: store, handler: NewHandler(store)}
}

func (t *Transport) Store() *Store {
	return t.store
}

func (t *Transport) Request(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &errs.TransportError{Method: method, Path: path, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errs.NewArgumentError("cannot encode request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	target := path
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &errs.TransportError{Method: method, Path: path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, req)
	if rec.Code >= 200 && rec.Code < 300 {
		return rec.Body.Bytes(), nil
	}
	return nil, errs.FromResponse(rec.Code, rec.Body.Bytes())
}
