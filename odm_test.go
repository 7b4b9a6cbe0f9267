package odm

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/bytedance/mockey"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/cfg"
	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/memstore"
	"github.com/hatlonely/odm/ref"
	"github.com/hatlonely/odm/repository"
	"github.com/hatlonely/odm/schema"
)

type product struct {
	schema.Entity `odm:"product"`
	ID            string  `odm:"id"`
	Name          string  `odm:"name,required"`
	SKU           string  `odm:"sku,unique"`
	Price         float64 `odm:"price"`
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	So(os.WriteFile(path, []byte(content), 0644), ShouldBeNil)
	return path
}

func TestNewFromFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := httptest.NewServer(memstore.NewHandler(memstore.New()))
	defer server.Close()
	ctx := context.Background()

	Convey("yaml 配置", t, func() {
		path := writeFile(t.TempDir(), "odm.yaml", `
transport:
  type: ObservableTransport
  options:
    name: odm_test_transport
    transport:
      type: HTTPTransport
      options:
        baseURL: `+server.URL+`
        timeout: 2s
        headers:
          X-Client: odm-test
logger:
  type: SLog
  options:
    level: error
cache:
  ttl: 1m
repository:
  batchSize: 10
`)
		client, err := NewFromFile(path)
		So(err, ShouldBeNil)
		defer client.Close()
		So(client.BatchSize(), ShouldEqual, 10)

		So(client.Migrate(ctx, &product{}), ShouldBeNil)
		products := repository.MustNew[product](client.Manager)
		p, err := products.Create(ctx, &product{Name: "Widget", SKU: "W-1", Price: 19.99})
		So(err, ShouldBeNil)
		got, err := products.GetByID(ctx, p.ID)
		So(err, ShouldBeNil)
		So(got.Price, ShouldEqual, 19.99)

		_, err = products.Create(ctx, &product{Name: "Widget", SKU: "W-1"})
		var ice *errs.IntegrityConstraintError
		So(errors.As(err, &ice), ShouldBeTrue)

		def, err := client.EntityDefinition(ctx, "product")
		So(err, ShouldBeNil)
		So(def.UniqueFields(), ShouldResemble, []string{"sku"})
	})

	Convey("toml 配置，默认批大小，不使用缓存", t, func() {
		path := writeFile(t.TempDir(), "odm.toml", `
[transport]
type = "HTTPTransport"

[transport.options]
baseURL = "`+server.URL+`"
`)
		client, err := NewFromFile(path)
		So(err, ShouldBeNil)
		So(client.BatchSize(), ShouldEqual, repository.DefaultBatchSize)
		So(client.cache, ShouldBeNil)
		So(client.Close(), ShouldBeNil)
	})

	Convey("缺少 transport", t, func() {
		path := writeFile(t.TempDir(), "odm.json", `{"repository": {"batchSize": 5}}`)
		_, err := NewFromFile(path)
		So(err, ShouldNotBeNil)

		_, err = NewWithOptions(nil)
		So(err, ShouldNotBeNil)
	})

	Convey("未知的 transport 类型", t, func() {
		_, err := NewWithOptions(&Options{Transport: &ref.TypeOptions{Type: "GrpcTransport"}})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "create transport failed")
	})

	PatchConvey("读取配置失败", t, func() {
		Mock(cfg.Load).Return(errors.New("permission denied")).Build()
		_, err := NewFromFile("/etc/odm.yaml")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "permission denied")
	})
}

func TestWatchConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := httptest.NewServer(memstore.NewHandler(memstore.New()))
	defer server.Close()

	config := func(batchSize, cascadeBatchSize int) string {
		return fmt.Sprintf(`
transport:
  type: HTTPTransport
  options:
    baseURL: %s
logger:
  type: SLog
  options:
    level: error
repository:
  batchSize: %d
  cascade:
    batchSize: %d
`, server.URL, batchSize, cascadeBatchSize)
	}

	waitFor := func(fn func() bool) bool {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if fn() {
				return true
			}
			time.Sleep(20 * time.Millisecond)
		}
		return false
	}

	Convey("配置文件变化后更新批大小", t, func() {
		path := writeFile(t.TempDir(), "odm.yaml", config(10, 5))
		client, err := NewFromFile(path, WithWatch())
		So(err, ShouldBeNil)
		defer client.Close()
		So(client.watcher, ShouldNotBeNil)
		So(client.BatchSize(), ShouldEqual, 10)
		So(client.CascadeBatchSize(), ShouldEqual, 5)

		writeFile(filepath.Dir(path), "odm.yaml", config(3, 2))
		So(waitFor(func() bool {
			return client.BatchSize() == 3 && client.CascadeBatchSize() == 2
		}), ShouldBeTrue)

		Convey("无效的配置不影响当前配置", func() {
			writeFile(filepath.Dir(path), "odm.yaml", "repository: [")
			writeFile(filepath.Dir(path), "odm.yaml", config(7, 4))
			So(waitFor(func() bool {
				return client.BatchSize() == 7 && client.CascadeBatchSize() == 4
			}), ShouldBeTrue)
		})
	})

	Convey("reload 直接应用", t, func() {
		path := writeFile(t.TempDir(), "odm.yaml", config(10, 5))
		client, err := NewFromFile(path)
		So(err, ShouldBeNil)
		defer client.Close()
		So(client.watcher, ShouldBeNil)

		client.reload(nil, errors.New("watch failed"))
		So(client.BatchSize(), ShouldEqual, 10)

		client.reload(cfg.NewNode(map[string]any{"repository": map[string]any{"batchSize": 4}}), nil)
		So(client.BatchSize(), ShouldEqual, 10)

		node, err := cfg.LoadNode(writeFile(filepath.Dir(path), "next.yaml", config(8, 6)))
		So(err, ShouldBeNil)
		client.reload(node, nil)
		So(client.BatchSize(), ShouldEqual, 8)
		So(client.CascadeBatchSize(), ShouldEqual, 6)
	})

	Convey("关闭后停止监听，重复关闭不报错", t, func() {
		path := writeFile(t.TempDir(), "odm.yaml", config(10, 5))
		client, err := NewFromFile(path, WithWatch())
		So(err, ShouldBeNil)
		So(client.Close(), ShouldBeNil)
		So(client.Close(), ShouldBeNil)

		writeFile(filepath.Dir(path), "odm.yaml", config(3, 2))
		time.Sleep(100 * time.Millisecond)
		So(client.BatchSize(), ShouldEqual, 10)
	})
}
