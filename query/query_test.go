package query

import (
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"

	"github.com/hatlonely/odm/errs"
)

func toJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func TestOptionsToWire(t *testing.T) {
	Convey("Options.ToWire", t, func() {
		Convey("未设置的可选字段不输出", func() {
			So(toJSON(New("product").ToWire()), ShouldEqual, `{"entityType":"product","filters":[],"offset":0}`)
		})

		Convey("设置所有字段", func() {
			q := New("product").
				WithFilter("price", OpGt, 10).
				WithLimit(5).
				WithOffset(10).
				WithOrder("name", true).
				WithFuzzy(0.8, 2)
			So(toJSON(q.ToWire()), ShouldEqual,
				`{"entityType":"product","filters":[{"field":"price","operator":"gt","value":10}],"fuzzyOpts":{"maxDistance":2,"threshold":0.8},"limit":5,"offset":10,"orderBy":"name","orderDesc":true}`)
		})

		Convey("orderDesc 为 false 时不输出", func() {
			w := New("product").WithOrder("name", false).ToWire()
			_, ok := w["orderDesc"]
			So(ok, ShouldBeFalse)
			So(w["orderBy"], ShouldEqual, "name")
		})
	})
}

func TestOptionsImmutable(t *testing.T) {
	Convey("With* 返回副本，不修改原查询", t, func() {
		base := New("product").WithFilter("active", OpEq, true)
		a := base.WithFilter("price", OpGt, 1).WithLimit(10)
		b := base.WithFilter("stock", OpLt, 5)

		So(base.Filters(), ShouldHaveLength, 1)
		So(a.Filters(), ShouldHaveLength, 2)
		So(b.Filters(), ShouldHaveLength, 2)
		So(b.Filters()[1].Field, ShouldEqual, "stock")
		_, ok := base.Limit()
		So(ok, ShouldBeFalse)

		c := a.WithoutLimit()
		_, ok = c.Limit()
		So(ok, ShouldBeFalse)
		limit, _ := a.Limit()
		So(limit, ShouldEqual, 10)
	})
}

func TestValidate(t *testing.T) {
	Convey("发送前的参数检查", t, func() {
		Convey("in 操作符需要集合参数", func() {
			err := New("product").WithFilter("sku", OpIn, "W-1").Validate()
			var ae *errs.ArgumentError
			So(errors.As(err, &ae), ShouldBeTrue)
			So(ae.Problems, ShouldHaveLength, 1)
			So(ae.Problems[0], ShouldContainSubstring, "requires a sequence")
		})

		Convey("集合参数合法", func() {
			So(New("product").WithFilter("sku", OpIn, []string{"W-1"}).Validate(), ShouldBeNil)
			So(New("product").WithFilter("tags", OpArrayContainsAll, [2]int{1, 2}).Validate(), ShouldBeNil)
		})

		Convey("收集所有问题", func() {
			err := New("").WithFilters(Filter{}, NewFilter("tags", OpArrayContainsAny, 1)).Validate()
			var ae *errs.ArgumentError
			So(errors.As(err, &ae), ShouldBeTrue)
			So(ae.Problems, ShouldHaveLength, 4)
		})
	})
}

func TestOperator(t *testing.T) {
	tests := []struct {
		op       Operator
		valid    bool
		sequence bool
	}{
		{OpEq, true, false},
		{OpIn, true, true},
		{OpFuzzy, true, false},
		{OpArrayContains, true, false},
		{OpArrayContainsAny, true, true},
		{OpArrayContainsAll, true, true},
		{Operator("like"), false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.op.Valid(), tt.op)
		assert.Equal(t, tt.sequence, tt.op.RequiresSequence(), tt.op)
	}
}

func TestJoin(t *testing.T) {
	Convey("Join", t, func() {
		Convey("可选数组为空时不输出", func() {
			j := NewJoin("comment", "id", "postId", "comments")
			So(toJSON(j.ToWire()), ShouldEqual,
				`{"as":"comments","entityType":"comment","foreignField":"postId","localField":"id","selectStrategy":"all","type":"left"}`)
		})

		Convey("完整的 join 查询", func() {
			j := NewJoin("comment", "id", "postId", "comments").
				WithType(JoinInner).
				WithSelect(SelectFirst).
				WithFilter("approved", OpEq, true).
				WithInclude("body", "author").
				WithExclude("secret")
			q := NewJoinQuery(New("post").WithLimit(1)).WithJoin(j)
			So(toJSON(q.ToWire()), ShouldEqual,
				`{"entityType":"post","filters":[],"joins":[{"as":"comments","entityType":"comment","excludeFields":["secret"],"filters":[{"field":"approved","operator":"eq","value":true}],"foreignField":"postId","includeFields":["author","body"],"localField":"id","selectStrategy":"first","type":"inner"}],"limit":1,"offset":0}`)
		})

		Convey("alias 重复和必填字段缺失", func() {
			q := NewJoinQuery(New("post")).WithJoin(
				NewJoin("comment", "id", "postId", "comments"),
				NewJoin("comment", "id", "", "comments"),
			)
			err := q.Validate()
			var ae *errs.ArgumentError
			So(errors.As(err, &ae), ShouldBeTrue)
			So(ae.Problems, ShouldHaveLength, 2)
		})

		Convey("join 中的过滤条件同样校验", func() {
			q := NewJoinQuery(New("post")).WithJoin(
				NewJoin("comment", "id", "postId", "comments").WithFilter("id", OpIn, 1),
			)
			So(q.Validate(), ShouldNotBeNil)
		})
	})
}
