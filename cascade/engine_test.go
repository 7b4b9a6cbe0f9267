package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/query"
	"github.com/hatlonely/odm/schema"
	"github.com/hatlonely/odm/wire"
)

type post struct {
	schema.Entity `odm:"post"`
	ID            string     `odm:"id"`
	Title         string     `odm:"title"`
	Comments      []*comment `rel:"one_to_many,mappedBy=post,cascade=remove"`
	Cover         *cover     `rel:"one_to_one,mappedBy=post,cascade=remove"`
}

type comment struct {
	schema.Entity `odm:"comment"`
	ID            string `odm:"id"`
	Body          string `odm:"body"`
	PostID        string `odm:"postId"`
	Post          *post  `rel:"many_to_one,inversedBy=comments"`
}

type cover struct {
	schema.Entity `odm:"cover"`
	ID            string `odm:"id"`
	PostRef       string `odm:"postRef"`
	Post          *post  `rel:"one_to_one,inversedBy=cover,joinColumn=postRef"`
}

// node 父子互相级联，构成环
type node struct {
	schema.Entity `odm:"node"`
	ID            string  `odm:"id"`
	ParentID      string  `odm:"parentId"`
	Parent        *node   `rel:"many_to_one,inversedBy=children,cascade=remove"`
	Children      []*node `rel:"one_to_many,mappedBy=parent,cascade=remove"`
}

// topic 的帖子可以回复同一主题下的其他帖子，回复随被回复的帖子一起删除
type topic struct {
	schema.Entity `odm:"topic"`
	ID            string   `odm:"id"`
	Replies       []*reply `rel:"one_to_many,mappedBy=topic,cascade=remove"`
}

type reply struct {
	schema.Entity `odm:"reply"`
	ID            string   `odm:"id"`
	TopicID       string   `odm:"topicId"`
	QuoteID       string   `odm:"quoteId"`
	Topic         *topic   `rel:"many_to_one,inversedBy=replies"`
	Quote         *reply   `rel:"many_to_one,inversedBy=quotedBy"`
	QuotedBy      []*reply `rel:"one_to_many,mappedBy=quote,cascade=remove"`
}

type fakeStore struct {
	mu         sync.Mutex
	records    map[string][]wire.Record
	deletes    map[string]int
	failDelete map[string]bool
	queries    []query.Options
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    map[string][]wire.Record{},
		deletes:    map[string]int{},
		failDelete: map[string]bool{},
	}
}

func (s *fakeStore) put(entityType, id string, fields map[string]any) {
	rec := wire.Record{ID: wire.String(id), Fields: map[string]wire.Value{}}
	for k, v := range fields {
		rec.Fields[k], _ = wire.FromInterface(v)
	}
	s.records[entityType] = append(s.records[entityType], rec)
}

func (s *fakeStore) ids(entityType string) []string {
	var ids []string
	for _, rec := range s.records[entityType] {
		id, _ := rec.ID.AsString()
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeStore) Query(ctx context.Context, q query.Options) ([]wire.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)

	var matched []wire.Record
	for _, rec := range s.records[q.EntityType()] {
		ok := true
		for _, f := range q.Filters() {
			want, _ := wire.FromInterface(f.Value)
			got := rec.ID
			if f.Field != "id" {
				got, _ = rec.Field(f.Field)
			}
			if f.Operator != query.OpEq || !got.Equal(want) {
				ok = false
			}
		}
		if ok {
			matched = append(matched, rec)
		}
	}
	if q.Offset() >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset():]
	if limit, ok := q.Limit(); ok && limit < len(matched) {
		matched = matched[:limit]
	}
	return append([]wire.Record(nil), matched...), nil
}

func (s *fakeStore) Get(ctx context.Context, entityType string, id wire.Value) (wire.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records[entityType] {
		if rec.ID.Equal(id) {
			return rec, nil
		}
	}
	return wire.Record{}, &errs.NotFoundError{EntityType: entityType, ID: id.Key()}
}

func (s *fakeStore) Delete(ctx context.Context, entityType string, id wire.Value) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityType + ":" + id.Key()
	if s.failDelete[key] {
		return false, fmt.Errorf("store unavailable")
	}
	records := s.records[entityType]
	for i, rec := range records {
		if rec.ID.Equal(id) {
			s.records[entityType] = append(records[:i:i], records[i+1:]...)
			s.deletes[key]++
			return true, nil
		}
	}
	return false, nil
}

func TestCascadeOneToMany(t *testing.T) {
	Convey("删除文章时分批删除所有评论", t, func() {
		store := newFakeStore()
		for i := 1; i <= 5; i++ {
			store.put("comment", fmt.Sprintf("C%d", i), map[string]any{"postId": "P1"})
		}
		store.put("comment", "X1", map[string]any{"postId": "P2"})
		store.put("post", "P1", map[string]any{"title": "hello"})
		store.put("post", "P2", map[string]any{"title": "other"})

		engine := NewEngineWithOptions(store, &Options{BatchSize: 2}, WithLogger(logger.Nop()))
		report := &Report{}
		deleted, err := engine.Delete(context.Background(), &post{ID: "P1"}, report)
		So(err, ShouldBeNil)
		So(deleted, ShouldBeTrue)
		So(store.ids("comment"), ShouldResemble, []string{"X1"})
		So(store.ids("post"), ShouldResemble, []string{"P2"})
		So(report.Deleted(), ShouldHaveLength, 5)
		So(report.Err(), ShouldBeNil)

		Convey("按 mappedBy 对应的外键查询，每批不超过 batchSize", func() {
			for _, q := range store.queries {
				if q.EntityType() != "comment" {
					continue
				}
				So(q.Filters()[0].Field, ShouldEqual, "postId")
				limit, ok := q.Limit()
				So(ok, ShouldBeTrue)
				So(limit, ShouldEqual, 2)
			}
		})
	})

	Convey("单个依赖删除失败不影响其他依赖", t, func() {
		store := newFakeStore()
		for i := 1; i <= 4; i++ {
			store.put("comment", fmt.Sprintf("C%d", i), map[string]any{"postId": "P1"})
		}
		store.put("post", "P1", nil)
		store.failDelete["comment:C2"] = true

		engine := NewEngineWithOptions(store, &Options{BatchSize: 2}, WithLogger(logger.Nop()))
		report := &Report{}
		deleted, err := engine.Delete(context.Background(), &post{ID: "P1"}, report)
		So(err, ShouldBeNil)
		So(deleted, ShouldBeTrue)
		So(store.ids("comment"), ShouldResemble, []string{"C2"})

		failed := report.Failed()
		So(failed, ShouldHaveLength, 1)
		So(failed[0].EntityType, ShouldEqual, "comment")
		So(failed[0].ID.Equal(wire.String("C2")), ShouldBeTrue)
		So(failed[0].Property, ShouldEqual, "comments")

		var ce *Error
		So(errors.As(report.Err(), &ce), ShouldBeTrue)
		So(ce.Error(), ShouldContainSubstring, "C2")
	})

	Convey("根实体删除失败返回错误", t, func() {
		store := newFakeStore()
		store.put("post", "P1", nil)
		store.failDelete["post:P1"] = true
		engine := NewEngineWithOptions(store, nil, WithLogger(logger.Nop()))
		_, err := engine.Delete(context.Background(), &post{ID: "P1"}, nil)
		So(err, ShouldNotBeNil)

		_, err = engine.Delete(context.Background(), &post{}, nil)
		var ve *errs.ValidationError
		So(errors.As(err, &ve), ShouldBeTrue)
	})
}

func TestCascadeNestedSameType(t *testing.T) {
	Convey("同一批中被前面的依赖级联删除的记录不影响分页", t, func() {
		store := newFakeStore()
		store.put("topic", "T", nil)
		store.put("reply", "r1", map[string]any{"topicId": "T"})
		store.put("reply", "r2", map[string]any{"topicId": "T", "quoteId": "r1"})
		store.put("reply", "r3", map[string]any{"topicId": "T"})
		store.put("reply", "r4", map[string]any{"topicId": "T"})
		store.put("reply", "x1", map[string]any{"topicId": "other"})

		engine := NewEngineWithOptions(store, &Options{BatchSize: 2}, WithLogger(logger.Nop()))
		report := &Report{}
		deleted, err := engine.Delete(context.Background(), &topic{ID: "T"}, report)
		So(err, ShouldBeNil)
		So(deleted, ShouldBeTrue)
		So(store.ids("reply"), ShouldResemble, []string{"x1"})
		So(store.ids("topic"), ShouldBeEmpty)
		So(report.Deleted(), ShouldHaveLength, 4)
		So(report.Failed(), ShouldBeEmpty)
		for key, n := range store.deletes {
			So(fmt.Sprintf("%s=%d", key, n), ShouldEqual, key+"=1")
		}
	})

	Convey("删除失败的记录仍然被分页跳过", t, func() {
		store := newFakeStore()
		store.put("topic", "T", nil)
		store.put("reply", "r1", map[string]any{"topicId": "T"})
		store.put("reply", "r2", map[string]any{"topicId": "T", "quoteId": "r1"})
		store.put("reply", "r3", map[string]any{"topicId": "T"})
		store.put("reply", "r4", map[string]any{"topicId": "T"})
		store.failDelete["reply:r2"] = true

		engine := NewEngineWithOptions(store, &Options{BatchSize: 2}, WithLogger(logger.Nop()))
		report := &Report{}
		_, err := engine.Delete(context.Background(), &topic{ID: "T"}, report)
		So(err, ShouldBeNil)
		So(store.ids("reply"), ShouldResemble, []string{"r2"})
		So(report.Failed(), ShouldHaveLength, 1)
	})
}

func TestCascadeOneToOne(t *testing.T) {
	Convey("一对一的被拥有方按外键查找依赖", t, func() {
		store := newFakeStore()
		store.put("post", "P1", nil)
		store.put("cover", "K1", map[string]any{"postRef": "P1"})
		store.put("cover", "K2", map[string]any{"postRef": "P2"})

		engine := NewEngineWithOptions(store, nil, WithLogger(logger.Nop()))
		_, err := engine.Delete(context.Background(), &post{ID: "P1"}, nil)
		So(err, ShouldBeNil)
		So(store.ids("cover"), ShouldResemble, []string{"K2"})
		So(engine.BatchSize(), ShouldEqual, DefaultBatchSize)

		engine.SetBatchSize(0)
		So(engine.BatchSize(), ShouldEqual, DefaultBatchSize)
		engine.SetBatchSize(3)
		So(engine.BatchSize(), ShouldEqual, 3)
	})
}

func TestCascadeCycle(t *testing.T) {
	Convey("环形关系只删除每个实体一次", t, func() {
		store := newFakeStore()
		store.put("node", "A", nil)
		store.put("node", "B", map[string]any{"parentId": "A"})
		store.put("node", "C", map[string]any{"parentId": "A"})
		store.put("node", "D", map[string]any{"parentId": "B"})

		engine := NewEngineWithOptions(store, &Options{BatchSize: 1}, WithLogger(logger.Nop()))
		report := &Report{}
		deleted, err := engine.Delete(context.Background(), &node{ID: "B", ParentID: "A"}, report)
		So(err, ShouldBeNil)
		So(deleted, ShouldBeTrue)
		So(store.ids("node"), ShouldBeEmpty)
		for key, n := range store.deletes {
			So(fmt.Sprintf("%s=%d", key, n), ShouldEqual, key+"=1")
		}
		So(store.deletes, ShouldHaveLength, 4)

		skipped := 0
		for _, s := range report.Steps() {
			if s.Skipped {
				skipped++
			}
		}
		So(skipped, ShouldBeGreaterThan, 0)
	})

	Convey("已加载的父实体直接使用", t, func() {
		store := newFakeStore()
		store.put("node", "A", nil)
		store.put("node", "B", map[string]any{"parentId": "A"})

		engine := NewEngineWithOptions(store, nil, WithLogger(logger.Nop()))
		_, err := engine.Delete(context.Background(), &node{ID: "B", Parent: &node{ID: "A"}}, nil)
		So(err, ShouldBeNil)
		So(store.ids("node"), ShouldBeEmpty)
	})

	Convey("父实体不存在时忽略", t, func() {
		store := newFakeStore()
		store.put("node", "B", map[string]any{"parentId": "missing"})

		engine := NewEngineWithOptions(store, nil, WithLogger(logger.Nop()))
		report := &Report{}
		deleted, err := engine.Delete(context.Background(), &node{ID: "B", ParentID: "missing"}, report)
		So(err, ShouldBeNil)
		So(deleted, ShouldBeTrue)
		So(report.Failed(), ShouldBeEmpty)
	})
}

func TestCascadeCanceled(t *testing.T) {
	Convey("上下文取消时停止", t, func() {
		store := newFakeStore()
		store.put("post", "P1", nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		engine := NewEngineWithOptions(store, nil, WithLogger(logger.Nop()))
		_, err := engine.Delete(ctx, &post{ID: "P1"}, nil)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
		So(store.ids("post"), ShouldResemble, []string{"P1"})
	})
}

func TestVisited(t *testing.T) {
	Convey("数值 id 按值去重", t, func() {
		v := NewVisited()
		So(v.Add("tag", wire.Int(1)), ShouldBeTrue)
		So(v.Add("tag", wire.Float(1)), ShouldBeFalse)
		So(v.Has("tag", wire.Int(1)), ShouldBeTrue)
		So(v.Has("post", wire.Int(1)), ShouldBeFalse)
	})

	Convey("访问过但未删除的记录仍在存储中", t, func() {
		v := NewVisited()
		v.Add("reply", wire.String("r1"))
		So(v.Deleted("reply", wire.String("r1")), ShouldBeFalse)
		v.MarkDeleted("reply", wire.String("r1"))
		So(v.Deleted("reply", wire.String("r1")), ShouldBeTrue)
		So(v.Deleted("reply", wire.String("r2")), ShouldBeFalse)
	})
}
