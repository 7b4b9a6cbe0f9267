package relation

import (
	"errors"
	"reflect"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/schema"
)

type post struct {
	schema.Entity `odm:"post"`
	ID            string     `odm:"id"`
	Title         string     `odm:"title"`
	Comments      []*comment `rel:"one_to_many,mappedBy=post,cascade=remove"`
	Cover         *image     `rel:"one_to_one,mappedBy=post"`
	Tags          []tag      `rel:"many_to_many,joinTable=post_tags"`
}

type comment struct {
	schema.Entity `odm:"comment"`
	ID            string `odm:"id"`
	PostID        string `odm:"postId"`
	Post          *post  `rel:"many_to_one,inversedBy=comments"`
}

type image struct {
	schema.Entity `odm:"image"`
	ID            string `odm:"id"`
	Post          *post  `rel:"one_to_one,inversedBy=cover,joinColumn=postRef"`
}

type tag struct {
	schema.Entity `odm:"tag"`
	ID            int64 `odm:"id"`
}

type node struct {
	schema.Entity `odm:"node"`
	ID            string  `odm:"id"`
	Parent        *node   `rel:"many_to_one,inversedBy=children"`
	Children      []*node `rel:"one_to_many,mappedBy=parent"`
}

type badManyToMany struct {
	schema.Entity `odm:"bad"`
	ID            string `odm:"id"`
	Tags          []*tag `rel:"many_to_many,cascade=remove"`
}

type badTarget struct {
	schema.Entity `odm:"bad"`
	ID            string   `odm:"id"`
	Items         []string `rel:"one_to_many,mappedBy=x"`
}

type badCardinality struct {
	schema.Entity `odm:"bad"`
	ID            string `odm:"id"`
	Post          *post  `rel:"one_to_many,mappedBy=x"`
}

type missingMappedBy struct {
	schema.Entity `odm:"bad"`
	ID            string     `odm:"id"`
	Comments      []*comment `rel:"one_to_many"`
}

func TestRegistry(t *testing.T) {
	Convey("解析关系声明", t, func() {
		r := NewRegistry()

		md, err := r.Metadata(reflect.TypeOf(&post{}))
		So(err, ShouldBeNil)
		So(md.Entity, ShouldEqual, "post")
		So(md.Relations, ShouldHaveLength, 3)

		comments, ok := md.Get("comments")
		So(ok, ShouldBeTrue)
		So(comments.Kind, ShouldEqual, OneToMany)
		So(comments.IsCollection(), ShouldBeTrue)
		So(comments.CascadeRemove(), ShouldBeTrue)
		So(comments.TargetEntity, ShouldEqual, "comment")
		So(comments.Target, ShouldEqual, reflect.TypeOf(comment{}))
		So(comments.MappedBy, ShouldEqual, "post")

		cover, ok := md.Lookup("COVER")
		So(ok, ShouldBeTrue)
		So(cover.JoinColumn, ShouldEqual, "")
		So(cover.Cascade, ShouldEqual, CascadeNone)

		tags, _ := md.Get("tags")
		So(tags.JoinTable, ShouldEqual, "post_tags")

		Convey("joinColumn 默认值", func() {
			md, err := r.Metadata(reflect.TypeOf(comment{}))
			So(err, ShouldBeNil)
			p, _ := md.Get("post")
			So(p.JoinColumn, ShouldEqual, "postId")
			So(p.InversedBy, ShouldEqual, "comments")

			md, err = r.Metadata(reflect.TypeOf(image{}))
			So(err, ShouldBeNil)
			p, _ = md.Get("post")
			So(p.JoinColumn, ShouldEqual, "postRef")
		})

		Convey("自引用", func() {
			md, err := r.Metadata(reflect.TypeOf(node{}))
			So(err, ShouldBeNil)
			children, _ := md.Get("children")
			So(children.TargetEntity, ShouldEqual, "node")
		})

		Convey("结果被缓存", func() {
			again, err := r.Metadata(reflect.TypeOf(post{}))
			So(err, ShouldBeNil)
			So(again, ShouldEqual, md)
		})
	})

	Convey("非法声明", t, func() {
		r := NewRegistry()
		for _, v := range []any{badManyToMany{}, badTarget{}, badCardinality{}, missingMappedBy{}} {
			_, err := r.Metadata(reflect.TypeOf(v))
			var de *errs.DefinitionError
			So(errors.As(err, &de), ShouldBeTrue)
		}
	})
}
