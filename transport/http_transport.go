package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/errs"
)

type RetryOptions struct {
	// 包含第一次请求
	Attempts int           `cfg:"attempts" def:"1" validate:"gte=1"`
	Backoff  time.Duration `cfg:"backoff" def:"100ms"`
}

type HTTPTransportOptions struct {
	BaseURL string            `cfg:"baseURL" validate:"required,url"`
	Timeout time.Duration     `cfg:"timeout" def:"10s"`
	Headers map[string]string `cfg:"headers"`
	// 只对幂等请求生效，网络错误和 502/503/504 会重试
	Retry        RetryOptions `cfg:"retry"`
	MaxIdleConns int          `cfg:"maxIdleConns" def:"16"`
}

type HTTPTransport struct {
	baseURL string
	headers map[string]string
	retry   RetryOptions
	client  *http.Client
}

func NewHTTPTransportWithOptions(options *HTTPTransportOptions) (*HTTPTransport, error) {
	if options == nil || options.BaseURL == "" {
		return nil, errors.New("baseURL is required")
	}
	if _, err := url.Parse(options.BaseURL); err != nil {
		return nil, errors.Wrapf(err, "invalid baseURL %q", options.BaseURL)
	}
	retry := options.Retry
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		headers: options.Headers,
		retry:   retry,
		client: &http.Client{
			Timeout: options.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        options.MaxIdleConns,
				MaxIdleConnsPerHost: options.MaxIdleConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}

func retryable(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func (t *HTTPTransport) Request(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errs.NewArgumentError("cannot encode request body: %v", err)
		}
	}

	attempts := 1
	if idempotent(method) {
		attempts = t.retry.Attempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, &errs.TransportError{Method: method, Path: path, Err: ctx.Err()}
			case <-time.After(t.retry.Backoff * time.Duration(i)):
			}
		}

		status, data, err := t.do(ctx, method, path, payload, query)
		if err != nil {
			lastErr = &errs.TransportError{Method: method, Path: path, Err: err}
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		if status >= 200 && status < 300 {
			return data, nil
		}
		lastErr = errs.FromResponse(status, data)
		if !retryable(status) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, payload []byte, query map[string]string) (int, []byte, error) {
	u := t.baseURL + path
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "http.NewRequest failed")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "read response body failed")
	}
	return res.StatusCode, data, nil
}
