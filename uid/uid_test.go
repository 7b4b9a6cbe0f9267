package uid

import (
	"regexp"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/ref"
	"github.com/hatlonely/odm/uid/intgen"
	"github.com/hatlonely/odm/uid/strgen"
)

func TestIntGenerator(t *testing.T) {
	Convey("自增序列", t, func() {
		g, err := NewIntGeneratorWithOptions(&ref.TypeOptions{Type: "SequenceGenerator", Options: &intgen.SequenceOptions{Start: 10}})
		So(err, ShouldBeNil)
		v, _ := g.Generate()
		So(v, ShouldEqual, int64(10))
		v, _ = g.Generate()
		So(v, ShouldEqual, int64(11))

		seq := g.(*intgen.SequenceGenerator)
		seq.Observe(100)
		v, _ = g.Generate()
		So(v, ShouldEqual, int64(101))
		seq.Observe(50)
		v, _ = g.Generate()
		So(v, ShouldEqual, int64(102))

		Convey("并发生成不重复", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			seen := map[int64]bool{}
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 100; j++ {
						v, _ := g.Generate()
						mu.Lock()
						seen[v] = true
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			So(seen, ShouldHaveLength, 800)
		})
	})

	Convey("redis 序列", t, func() {
		mr := miniredis.RunT(t)
		g, err := NewIntGeneratorWithOptions(&ref.TypeOptions{
			Type:    "RedisGenerator",
			Options: &intgen.RedisOptions{Addr: mr.Addr(), Key: "odm:seq:post"},
		})
		So(err, ShouldBeNil)
		v, err := g.Generate()
		So(err, ShouldBeNil)
		So(v, ShouldEqual, int64(1))
		v, _ = g.Generate()
		So(v, ShouldEqual, int64(2))

		other := g.(*intgen.RedisGenerator).WithKey("odm:seq:comment")
		v, _ = other.Generate()
		So(v, ShouldEqual, int64(1))

		mr.Close()
		_, err = g.Generate()
		So(err, ShouldNotBeNil)
	})
}

func TestStrGenerator(t *testing.T) {
	Convey("字符串 id", t, func() {
		g, err := NewStrGeneratorWithOptions(&ref.TypeOptions{Type: "UUIDGenerator", Options: &strgen.UUIDOptions{Version: "v7", WithHyphens: true}})
		So(err, ShouldBeNil)
		So(g.Generate(), ShouldHaveLength, 36)

		g, err = NewStrGeneratorWithOptions(&ref.TypeOptions{Type: "UUIDGenerator", Options: &strgen.UUIDOptions{}})
		So(err, ShouldBeNil)
		So(regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(g.Generate()), ShouldBeTrue)

		g, err = NewStrGeneratorWithOptions(&ref.TypeOptions{Type: "ULIDGenerator"})
		So(err, ShouldBeNil)
		a, b := g.Generate(), g.Generate()
		So(a, ShouldHaveLength, 26)
		So(a < b, ShouldBeTrue)
		So(a, ShouldEqual, regexp.MustCompile(`[^0-9a-z]`).ReplaceAllString(a, ""))
	})
}
