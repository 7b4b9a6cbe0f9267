package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/log"
	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/ref"
)

type ObservableTransportOptions struct {
	// Transport 被包装的底层通道配置
	Transport *ref.TypeOptions `cfg:"transport" validate:"required"`

	// Logger 为空时使用默认日志
	Logger *ref.TypeOptions `cfg:"logger"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"true"`
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// Name 指标名前缀，日志的 component 字段，span 的 component 属性
	Name string `cfg:"name" def:"odm_transport"`
}

// ObservableMetrics 请求维度的 prometheus 指标
type ObservableMetrics struct {
	requestCounter   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	activeRequests   *prometheus.GaugeVec
	responseBodySize *prometheus.HistogramVec
}

// NewObservableMetrics 注册到 registerer，同名指标已经注册时复用已有的收集器
func NewObservableMetrics(name string, registerer prometheus.Registerer) (*ObservableMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	metrics := &ObservableMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_requests_total",
				Help: "Total number of store requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_request_duration_seconds",
				Help:    "Duration of store requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"method", "route"},
		),
		activeRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_requests",
				Help: "Number of in-flight store requests",
			},
			[]string{"route"},
		),
		responseBodySize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_response_bytes",
				Help:    "Size of store response bodies",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"route"},
		),
	}

	var err error
	if metrics.requestCounter, err = register(registerer, metrics.requestCounter); err != nil {
		return nil, err
	}
	if metrics.requestDuration, err = register(registerer, metrics.requestDuration); err != nil {
		return nil, err
	}
	if metrics.activeRequests, err = register(registerer, metrics.activeRequests); err != nil {
		return nil, err
	}
	if metrics.responseBodySize, err = register(registerer, metrics.responseBodySize); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register metrics failed")
	}
	return c, nil
}

// ObservableTransport 装饰器，为任何 Transport 添加指标、日志和追踪
type ObservableTransport struct {
	transport Transport

	logger        logger.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableTransportWithOptions(options *ObservableTransportOptions) (*ObservableTransport, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	inner, err := NewTransportWithOptions(options.Transport)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create underlying transport")
	}
	return NewObservableTransport(inner, options, nil)
}

// NewObservableTransport 包装已有的 Transport，options.Transport 被忽略
func NewObservableTransport(inner Transport, options *ObservableTransportOptions, registerer prometheus.Registerer) (*ObservableTransport, error) {
	if inner == nil {
		return nil, errors.New("transport is nil")
	}
	if options == nil {
		options = &ObservableTransportOptions{EnableMetrics: true, EnableLogging: true}
	}
	name := options.Name
	if name == "" {
		name = "odm_transport"
	}

	obs := &ObservableTransport{
		transport:     inner,
		name:          name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		obs.logger = log.Default()
		if !options.Logger.Empty() {
			l, err := log.New(options.Logger)
			if err != nil {
				return nil, errors.WithMessage(err, "failed to create logger")
			}
			obs.logger = l
		}
		obs.logger = obs.logger.WithGroup("transport")
	}

	if options.EnableMetrics {
		metrics, err := NewObservableMetrics(name, registerer)
		if err != nil {
			return nil, err
		}
		obs.metrics = metrics
	}

	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("transport.%s", name))
	}

	return obs, nil
}

func (obs *ObservableTransport) Request(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	start := time.Now()
	r := route(path)

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("%s %s", method, r),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("http.method", method),
				attribute.String("http.route", r),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeRequests.WithLabelValues(r).Inc()
		defer obs.metrics.activeRequests.WithLabelValues(r).Dec()
	}

	data, err := obs.transport.Request(ctx, method, path, body, query)
	duration := time.Since(start)
	status := statusOf(err)

	if obs.enableTracing && span != nil {
		span.SetAttributes(
			attribute.Int64("duration_ms", duration.Milliseconds()),
			attribute.String("odm.status", status),
		)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.requestCounter.WithLabelValues(method, r, status).Inc()
		obs.metrics.requestDuration.WithLabelValues(method, r).Observe(duration.Seconds())
		if err == nil {
			obs.metrics.responseBodySize.WithLabelValues(r).Observe(float64(len(data)))
		}
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil && status != "not_found" {
			obs.logger.ErrorContext(ctx, "store request failed",
				"component", obs.name,
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.DebugContext(ctx, "store request completed",
				"component", obs.name,
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return data, err
}

// statusOf 指标中的状态标签，存储端错误按分类区分
func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	var (
		te *errs.TransportError
		ie *errs.IntegrityConstraintError
		nf *errs.NotFoundError
		ae *errs.ApiError
	)
	switch {
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &ie):
		return errs.CategoryIntegrity.String()
	case errors.As(err, &nf):
		return errs.CategoryNotFound.String()
	case errors.As(err, &ae):
		return ae.Category.String()
	}
	return "error"
}

// route 把路径中的实体类型和记录 id 替换为占位符，避免指标维度膨胀
func route(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		switch segments[i-1] {
		case "entities":
			segments[i] = "{type}"
		case "records":
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
