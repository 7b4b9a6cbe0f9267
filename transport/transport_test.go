package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/ref"
)

func TestHTTPTransport(t *testing.T) {
	Convey("HTTPTransport", t, func() {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/api/v1/echo":
				body, _ := io.ReadAll(r.Body)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"method": r.Method,
					"query":  r.URL.Query().Get("limit"),
					"token":  r.Header.Get("X-Token"),
					"ctype":  r.Header.Get("Content-Type"),
					"body":   string(body),
				})
			case "/api/v1/unique":
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"message":"duplicate sku","code":2001,"details":{"field":"sku","value":"A-1"}}`))
			case "/api/v1/missing":
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"record not found","code":3001,"details":{"entityType":"widget","id":"w1"}}`))
			case "/api/v1/flaky":
				if atomic.LoadInt32(&calls) < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write([]byte(`{"ok":true}`))
			case "/api/v1/broken":
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"message":"boom","code":5001,"db_code":"XX000"}`))
			}
		}))
		defer server.Close()

		tp, err := NewHTTPTransportWithOptions(&HTTPTransportOptions{
			BaseURL: server.URL + "/",
			Timeout: time.Second,
			Headers: map[string]string{"X-Token": "secret"},
			Retry:   RetryOptions{Attempts: 3, Backoff: time.Millisecond},
		})
		So(err, ShouldBeNil)

		Convey("发送 JSON 请求体和查询参数", func() {
			data, err := tp.Request(context.Background(), http.MethodPost, "/api/v1/echo", map[string]any{"name": "a"}, map[string]string{"limit": "10"})
			So(err, ShouldBeNil)
			var got map[string]string
			So(json.Unmarshal(data, &got), ShouldBeNil)
			So(got["method"], ShouldEqual, http.MethodPost)
			So(got["query"], ShouldEqual, "10")
			So(got["token"], ShouldEqual, "secret")
			So(got["ctype"], ShouldEqual, "application/json")
			So(got["body"], ShouldEqual, `{"name":"a"}`)
		})

		Convey("唯一约束冲突转换为 IntegrityConstraintError", func() {
			_, err := tp.Request(context.Background(), http.MethodPost, "/api/v1/unique", map[string]any{}, nil)
			var ie *errs.IntegrityConstraintError
			So(errors.As(err, &ie), ShouldBeTrue)
			So(ie.Field, ShouldEqual, "sku")
			So(ie.Value, ShouldEqual, "A-1")
		})

		Convey("记录不存在转换为 NotFoundError", func() {
			_, err := tp.Request(context.Background(), http.MethodGet, "/api/v1/missing", nil, nil)
			var nf *errs.NotFoundError
			So(errors.As(err, &nf), ShouldBeTrue)
			So(nf.EntityType, ShouldEqual, "widget")
		})

		Convey("其他错误保留错误码和分类", func() {
			_, err := tp.Request(context.Background(), http.MethodGet, "/api/v1/broken", nil, nil)
			var ae *errs.ApiError
			So(errors.As(err, &ae), ShouldBeTrue)
			So(ae.Code, ShouldEqual, errs.CodeInternal)
			So(ae.DBCode, ShouldEqual, "XX000")
			So(ae.Category, ShouldEqual, errs.CategoryInternal)
			So(atomic.LoadInt32(&calls), ShouldEqual, int32(1))
		})

		Convey("幂等请求遇到 503 时重试", func() {
			data, err := tp.Request(context.Background(), http.MethodGet, "/api/v1/flaky", nil, nil)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, `{"ok":true}`)
			So(atomic.LoadInt32(&calls), ShouldEqual, int32(3))
		})

		Convey("非幂等请求不重试", func() {
			_, err := tp.Request(context.Background(), http.MethodPost, "/api/v1/flaky", map[string]any{}, nil)
			var ae *errs.ApiError
			So(errors.As(err, &ae), ShouldBeTrue)
			So(ae.Status, ShouldEqual, http.StatusServiceUnavailable)
			So(atomic.LoadInt32(&calls), ShouldEqual, int32(1))
		})
	})

	Convey("网络失败返回 TransportError", t, func() {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		tp, err := NewHTTPTransportWithOptions(&HTTPTransportOptions{BaseURL: url, Timeout: time.Second})
		So(err, ShouldBeNil)
		_, err = tp.Request(context.Background(), http.MethodGet, "/api/v1/entities", nil, nil)
		var te *errs.TransportError
		So(errors.As(err, &te), ShouldBeTrue)
		So(te.Method, ShouldEqual, http.MethodGet)
		So(te.Path, ShouldEqual, "/api/v1/entities")
	})

	Convey("baseURL 不能为空", t, func() {
		_, err := NewHTTPTransportWithOptions(&HTTPTransportOptions{})
		So(err, ShouldNotBeNil)
	})
}

func TestNewTransportWithOptions(t *testing.T) {
	Convey("通过 TypeOptions 构造", t, func() {
		tp, err := NewTransportWithOptions(&ref.TypeOptions{
			Type:    "HTTPTransport",
			Options: &HTTPTransportOptions{BaseURL: "http://localhost:8080"},
		})
		So(err, ShouldBeNil)
		So(tp, ShouldHaveSameTypeAs, &HTTPTransport{})

		_, err = NewTransportWithOptions(&ref.TypeOptions{Type: "Unknown"})
		So(err, ShouldNotBeNil)
	})
}

func TestObservableTransport(t *testing.T) {
	Convey("ObservableTransport 记录请求指标", t, func() {
		inner := Func(func(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
			if path == "/api/v1/entities/widget/records/missing" {
				return nil, &errs.NotFoundError{EntityType: "widget", ID: "missing"}
			}
			return []byte(`{}`), nil
		})
		registry := prometheus.NewRegistry()
		obs, err := NewObservableTransport(inner, &ObservableTransportOptions{
			EnableMetrics: true,
			EnableTracing: true,
			Name:          "test_transport",
		}, registry)
		So(err, ShouldBeNil)
		obs.logger = logger.Nop()

		_, err = obs.Request(context.Background(), http.MethodGet, "/api/v1/entities/widget/records/w1", nil, nil)
		So(err, ShouldBeNil)
		_, err = obs.Request(context.Background(), http.MethodGet, "/api/v1/entities/widget/records/w2", nil, nil)
		So(err, ShouldBeNil)
		_, err = obs.Request(context.Background(), http.MethodGet, "/api/v1/entities/widget/records/missing", nil, nil)
		var nf *errs.NotFoundError
		So(errors.As(err, &nf), ShouldBeTrue)

		families, err := registry.Gather()
		So(err, ShouldBeNil)
		counts := map[string]float64{}
		for _, mf := range families {
			if mf.GetName() != "test_transport_requests_total" {
				continue
			}
			for _, m := range mf.GetMetric() {
				labels := map[string]string{}
				for _, lp := range m.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
				So(labels["route"], ShouldEqual, "/api/v1/entities/{type}/records/{id}")
				counts[labels["status"]] = m.GetCounter().GetValue()
			}
		}
		So(counts["success"], ShouldEqual, float64(2))
		So(counts["not_found"], ShouldEqual, float64(1))

		Convey("同名指标重复注册时复用", func() {
			_, err := NewObservableTransport(inner, &ObservableTransportOptions{EnableMetrics: true, Name: "test_transport"}, registry)
			So(err, ShouldBeNil)
		})
	})
}

func TestRoute(t *testing.T) {
	Convey("路径归一化", t, func() {
		So(route("/api/v1/entities"), ShouldEqual, "/api/v1/entities")
		So(route("/api/v1/entities/post"), ShouldEqual, "/api/v1/entities/{type}")
		So(route("/api/v1/entities/post/records"), ShouldEqual, "/api/v1/entities/{type}/records")
		So(route("/api/v1/entities/post/records/42?x=1"), ShouldEqual, "/api/v1/entities/{type}/records/{id}")
		So(route("/api/v1/query/join"), ShouldEqual, "/api/v1/query/join")
	})
}

func TestStatusOf(t *testing.T) {
	Convey("错误分类", t, func() {
		So(statusOf(nil), ShouldEqual, "success")
		So(statusOf(&errs.TransportError{Err: io.EOF}), ShouldEqual, "transport")
		So(statusOf(&errs.IntegrityConstraintError{}), ShouldEqual, "integrity")
		So(statusOf(&errs.ApiError{Category: errs.CategoryValidation}), ShouldEqual, "validation")
		So(statusOf(io.EOF), ShouldEqual, "error")
	})
}
