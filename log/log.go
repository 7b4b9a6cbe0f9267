package log

import (
	"sync/atomic"

	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/ref"
)

const Namespace = "github.com/hatlonely/odm/log/logger"

var defaultLogger atomic.Value

func init() {
	ref.MustRegister(Namespace, "SLog", logger.NewSLogWithOptions)
	ref.MustRegister(Namespace, "Zap", logger.NewZapWithOptions)

	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{Level: "info", Format: "text"})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger.Store(holder{slog})
}

type holder struct {
	logger.Logger
}

func Default() logger.Logger {
	return defaultLogger.Load().(holder).Logger
}

func SetDefault(l logger.Logger) {
	defaultLogger.Store(holder{l})
}

// New 按配置创建日志器，未配置 type 时返回 Default()
func New(options *ref.TypeOptions) (logger.Logger, error) {
	if options.Empty() {
		return Default(), nil
	}
	return ref.Build[logger.Logger](options, Namespace)
}
