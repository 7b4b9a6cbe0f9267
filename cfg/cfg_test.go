package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/ref"
)

type retryOptions struct {
	Attempts int           `cfg:"attempts" def:"3"`
	Backoff  time.Duration `cfg:"backoff" def:"100ms"`
}

type clientOptions struct {
	BaseURL string            `cfg:"baseURL" validate:"required,url"`
	Timeout time.Duration     `cfg:"timeout" def:"5s"`
	Headers map[string]string `cfg:"headers"`
	Retry   retryOptions      `cfg:"retry"`
	Tags    []string          `cfg:"tags" def:"a,b"`
	Ratio   float64           `cfg:"ratio"`
	Debug   bool              `cfg:"debug"`
	Cache   ref.TypeOptions   `cfg:"cache"`
}

type cacheOptions struct {
	Size int `cfg:"size" def:"1024" validate:"gte=1"`
}

type cache struct {
	size int
}

func newCacheWithOptions(options *cacheOptions) *cache {
	return &cache{size: options.Size}
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	So(os.WriteFile(path, []byte(content), 0644), ShouldBeNil)
	return path
}

func TestLoad(t *testing.T) {
	Convey("按扩展名加载配置", t, func() {
		dir := t.TempDir()
		files := map[string]string{
			"client.yaml": `
baseURL: http://localhost:8080
timeout: 2s
headers:
  X-Tenant: odm
retry:
  attempts: 5
ratio: 1
debug: true
cache:
  type: Cache
  options:
    size: 16
`,
			"client.json": `{
  "baseURL": "http://localhost:8080",
  "timeout": "2s",
  "headers": {"X-Tenant": "odm"},
  "retry": {"attempts": 5},
  "ratio": 1,
  "debug": true,
  "cache": {"type": "Cache", "options": {"size": 16}}
}`,
			"client.toml": `
baseURL = "http://localhost:8080"
timeout = "2s"
ratio = 1.0
debug = true
[headers]
X-Tenant = "odm"
[retry]
attempts = 5
[cache]
type = "Cache"
[cache.options]
size = 16
`,
			"client.ini": `
baseURL = http://localhost:8080
timeout = 2s
ratio = 1
debug = true
[headers]
X-Tenant = odm
[retry]
attempts = 5
[cache]
type = Cache
options.size = 16
`,
		}

		So(ref.Register("github.com/hatlonely/odm/cfg", "Cache", newCacheWithOptions), ShouldBeNil)

		for name, content := range files {
			path := writeFile(dir, name, content)
			var options clientOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.BaseURL, ShouldEqual, "http://localhost:8080")
			So(options.Timeout, ShouldEqual, 2*time.Second)
			So(options.Headers["X-Tenant"], ShouldEqual, "odm")
			So(options.Retry.Attempts, ShouldEqual, 5)
			So(options.Retry.Backoff, ShouldEqual, 100*time.Millisecond)
			So(options.Tags, ShouldResemble, []string{"a", "b"})
			So(options.Ratio, ShouldEqual, 1.0)
			So(options.Debug, ShouldBeTrue)
			So(options.Cache.Type, ShouldEqual, "Cache")

			obj, err := ref.New("github.com/hatlonely/odm/cfg", options.Cache.Type, options.Cache.Options)
			So(err, ShouldBeNil)
			So(obj.(*cache).size, ShouldEqual, 16)
		}
	})

	Convey("校验失败", t, func() {
		dir := t.TempDir()
		var options clientOptions
		err := Load(writeFile(dir, "bad.yaml", "timeout: 1s\n"), &options)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "BaseURL")

		err = Load(writeFile(dir, "bad.yml", "baseURL: http://x\nretry:\n  attempts: many\n"), &options)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "retry.attempts")

		So(Load(writeFile(dir, "x.xml", "<a/>"), &options), ShouldNotBeNil)
		So(Load(filepath.Join(dir, "missing.json"), &options), ShouldNotBeNil)
	})
}

func TestNode(t *testing.T) {
	Convey("子节点", t, func() {
		node := NewNode(map[string]any{"odm": map[string]any{"batchSize": int64(50)}})
		So(node.Sub("odm.batchSize").Value(), ShouldEqual, int64(50))
		So(node.Sub("odm.missing"), ShouldBeNil)

		var size int
		So(node.Sub("odm.batchSize").ConvertTo(&size), ShouldBeNil)
		So(size, ShouldEqual, 50)
		So(node.ConvertTo(size), ShouldNotBeNil)
	})
}

func TestSetDefaults(t *testing.T) {
	Convey("只填充零值字段", t, func() {
		options := clientOptions{Timeout: time.Second}
		So(SetDefaults(&options), ShouldBeNil)
		So(options.Timeout, ShouldEqual, time.Second)
		So(options.Retry.Attempts, ShouldEqual, 3)
		So(options.Tags, ShouldResemble, []string{"a", "b"})

		So(SetDefaults(options), ShouldNotBeNil)
	})
}

func TestWatcher(t *testing.T) {
	Convey("文件变化后重新加载", t, func() {
		dir := t.TempDir()
		path := writeFile(dir, "watch.json", `{"baseURL": "http://a"}`)

		w, err := NewWatcher(path)
		So(err, ShouldBeNil)
		defer w.Close()

		changed := make(chan string, 4)
		w.OnChange(func(node *Node, err error) {
			if err != nil {
				return
			}
			var options clientOptions
			if node.ConvertTo(&options) == nil {
				changed <- options.BaseURL
			}
		})

		So(os.WriteFile(path, []byte(`{"baseURL": "http://b"}`), 0644), ShouldBeNil)
		select {
		case v := <-changed:
			So(v, ShouldEqual, "http://b")
		case <-time.After(3 * time.Second):
			So("timeout", ShouldBeEmpty)
		}
	})
}
