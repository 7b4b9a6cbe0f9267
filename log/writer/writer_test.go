package writer

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/ref"
)

func TestFileWriter(t *testing.T) {
	Convey("文件输出", t, func() {
		path := filepath.Join(t.TempDir(), "sub", "odm.log")
		w, err := NewFileWriterWithOptions(&FileWriterOptions{Path: path})
		So(err, ShouldBeNil)

		_, err = w.Write([]byte("line1\n"))
		So(err, ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		data, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, "line1\n")

		_, err = w.Write([]byte("after close"))
		So(err, ShouldNotBeNil)

		Convey("超过大小后切分", func() {
			w, err := NewFileWriterWithOptions(&FileWriterOptions{Path: path, MaxSize: 1})
			So(err, ShouldBeNil)
			w.size = 1024 * 1024
			_, err = w.Write([]byte("line2\n"))
			So(err, ShouldBeNil)
			So(w.Close(), ShouldBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "line2\n")
			data, err = os.ReadFile(path + ".1")
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "line1\n")
		})
	})

	Convey("缺少路径", t, func() {
		_, err := NewFileWriterWithOptions(&FileWriterOptions{})
		So(err, ShouldNotBeNil)
	})
}

func TestNew(t *testing.T) {
	Convey("通过 ref 创建输出器", t, func() {
		w, err := New(nil)
		So(err, ShouldBeNil)
		So(w, ShouldHaveSameTypeAs, &ConsoleWriter{})

		w, err = New(&ref.TypeOptions{Type: "ConsoleWriter", Options: &ConsoleWriterOptions{Target: "stderr", Color: true}})
		So(err, ShouldBeNil)
		So(w.(*ConsoleWriter).out, ShouldEqual, os.Stderr)

		_, err = New(&ref.TypeOptions{Type: "ConsoleWriter", Options: &ConsoleWriterOptions{Target: "printer"}})
		So(err, ShouldNotBeNil)
	})
}
