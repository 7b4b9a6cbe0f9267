package logger

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hatlonely/odm/log/writer"
	"github.com/hatlonely/odm/ref"
)

// ZapOptions zap 日志选项
type ZapOptions struct {
	Level string `cfg:"level" def:"info" validate:"omitempty,oneof=debug info warn warning error"`
	// json, console
	Format    string          `cfg:"format" def:"json"`
	Output    ref.TypeOptions `cfg:"output"`
	AddSource bool            `cfg:"addSource"`
	Fields    map[string]any  `cfg:"fields"`
}

// Zap 基于 zap.SugaredLogger，args 与 slog 一样是 key/value 交替
// *Context 方法会带上 span 中的 traceId 和 spanId
type Zap struct {
	sugar *zap.SugaredLogger
}

func NewZapWithOptions(options *ZapOptions) (*Zap, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	var level zapcore.Level
	switch strings.ToLower(options.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return nil, errors.Errorf("unknown level: %s", options.Level)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	switch strings.ToLower(options.Format) {
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, errors.Errorf("unsupported format: %s", options.Format)
	}

	w, err := writer.New(&options.Output)
	if err != nil {
		return nil, errors.WithMessage(err, "create writer failed")
	}

	var zapOpts []zap.Option
	if options.AddSource {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	sugar := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level), zapOpts...).Sugar()
	if len(options.Fields) > 0 {
		sugar = sugar.With(fieldArgs(options.Fields)...)
	}
	return &Zap{sugar: sugar}, nil
}

// NewZap 包装已有的 zap.Logger
func NewZap(l *zap.Logger) *Zap {
	return &Zap{sugar: l.Sugar()}
}

func traceArgs(ctx context.Context, args []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return args
	}
	return append(args, "traceId", sc.TraceID().String(), "spanId", sc.SpanID().String())
}

func (l *Zap) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *Zap) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *Zap) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *Zap) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *Zap) DebugContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Debugw(msg, traceArgs(ctx, args)...)
}

func (l *Zap) InfoContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Infow(msg, traceArgs(ctx, args)...)
}

func (l *Zap) WarnContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Warnw(msg, traceArgs(ctx, args)...)
}

func (l *Zap) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Errorw(msg, traceArgs(ctx, args)...)
}

func (l *Zap) With(args ...any) Logger {
	return &Zap{sugar: l.sugar.With(args...)}
}

func (l *Zap) WithGroup(name string) Logger {
	return &Zap{sugar: l.sugar.With(zap.Namespace(name))}
}

// Sync 刷新缓冲
func (l *Zap) Sync() error {
	return l.sugar.Sync()
}
