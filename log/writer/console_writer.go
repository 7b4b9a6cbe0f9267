package writer

import (
	"bytes"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// ConsoleWriterOptions 控制台输出配置
type ConsoleWriterOptions struct {
	// 按日志级别着色
	Color bool `cfg:"color"`
	// stdout 或 stderr
	Target string `cfg:"target" def:"stdout" validate:"omitempty,oneof=stdout stderr"`
}

type ConsoleWriter struct {
	out   io.Writer
	color bool
}

var levelColors = []struct {
	token []byte
	color *color.Color
}{
	{[]byte("ERROR"), color.New(color.FgRed)},
	{[]byte("WARN"), color.New(color.FgYellow)},
	{[]byte("DEBUG"), color.New(color.FgHiBlack)},
}

func NewConsoleWriterWithOptions(options *ConsoleWriterOptions) (*ConsoleWriter, error) {
	if options == nil {
		options = &ConsoleWriterOptions{}
	}
	w := &ConsoleWriter{color: options.Color}
	switch options.Target {
	case "", "stdout":
		w.out = os.Stdout
	case "stderr":
		w.out = os.Stderr
	default:
		return nil, errors.Errorf("unknown console target %q", options.Target)
	}
	return w, nil
}

func (w *ConsoleWriter) Write(p []byte) (int, error) {
	if !w.color {
		return w.out.Write(p)
	}
	for _, lc := range levelColors {
		if bytes.Contains(p, lc.token) {
			if _, err := lc.color.Fprint(w.out, string(p)); err != nil {
				return 0, err
			}
			return len(p), nil
		}
	}
	return w.out.Write(p)
}

func (w *ConsoleWriter) Close() error {
	return nil
}
