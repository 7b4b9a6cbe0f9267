package log

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/log/writer"
	"github.com/hatlonely/odm/ref"
)

func TestNew(t *testing.T) {
	Convey("按配置创建日志器", t, func() {
		dir := t.TempDir()

		Convey("未配置时使用默认日志器", func() {
			l, err := New(nil)
			So(err, ShouldBeNil)
			So(l, ShouldEqual, Default())
		})

		Convey("SLog 输出到文件", func() {
			path := filepath.Join(dir, "slog.log")
			l, err := New(&ref.TypeOptions{
				Type: "SLog",
				Options: &logger.SLogOptions{
					Level:  "debug",
					Format: "json",
					Output: ref.TypeOptions{
						Namespace: writer.Namespace,
						Type:      "FileWriter",
						Options:   &writer.FileWriterOptions{Path: path},
					},
					Fields: map[string]any{"app": "odm"},
				},
			})
			So(err, ShouldBeNil)
			l.With("entityType", "post").WithGroup("req").Debug("query", "limit", 25)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, `"app":"odm"`)
			So(string(data), ShouldContainSubstring, `"entityType":"post"`)
			So(string(data), ShouldContainSubstring, `"req":{"limit":25}`)
		})

		Convey("Zap 输出到文件", func() {
			path := filepath.Join(dir, "zap.log")
			l, err := New(&ref.TypeOptions{
				Type: "Zap",
				Options: &logger.ZapOptions{
					Level: "warn",
					Output: ref.TypeOptions{
						Type:      "FileWriter",
						Namespace: writer.Namespace,
						Options:   &writer.FileWriterOptions{Path: path},
					},
				},
			})
			So(err, ShouldBeNil)
			l.Info("ignored")
			l.WarnContext(context.Background(), "cascade step failed", "entityType", "comment")
			So(l.(*logger.Zap).Sync(), ShouldBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldNotContainSubstring, "ignored")
			So(string(data), ShouldContainSubstring, `"entityType":"comment"`)
		})

		Convey("未知级别", func() {
			_, err := New(&ref.TypeOptions{Type: "SLog", Options: &logger.SLogOptions{Level: "loud"}})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("替换默认日志器", t, func() {
		old := Default()
		defer SetDefault(old)
		SetDefault(logger.Nop())
		So(Default(), ShouldResemble, logger.Nop())
	})
}
