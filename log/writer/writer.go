package writer

import (
	"io"

	"github.com/hatlonely/odm/ref"
)

const Namespace = "github.com/hatlonely/odm/log/writer"

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

func init() {
	ref.MustRegister(Namespace, "ConsoleWriter", NewConsoleWriterWithOptions)
	ref.MustRegister(Namespace, "FileWriter", NewFileWriterWithOptions)
}

// New 按配置创建输出器，未配置时输出到 stdout
func New(options *ref.TypeOptions) (Writer, error) {
	if options.Empty() {
		return NewConsoleWriterWithOptions(&ConsoleWriterOptions{Target: "stdout"})
	}
	return ref.Build[Writer](options, Namespace)
}
