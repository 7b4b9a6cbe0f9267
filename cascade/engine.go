package cascade

import (
	"context"
	"reflect"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/log"
	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/mapper"
	"github.com/hatlonely/odm/query"
	"github.com/hatlonely/odm/relation"
	"github.com/hatlonely/odm/wire"
)

const DefaultBatchSize = 25

// Store 级联删除需要的存储能力
type Store interface {
	Query(ctx context.Context, q query.Options) ([]wire.Record, error)
	// Get 记录不存在时返回 *errs.NotFoundError
	Get(ctx context.Context, entityType string, id wire.Value) (wire.Record, error)
	Delete(ctx context.Context, entityType string, id wire.Value) (bool, error)
}

type Options struct {
	// 每次查询依赖实体的条数
	BatchSize int `cfg:"batchSize" def:"25" validate:"gte=1"`
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMapper(m *mapper.Mapper) Option {
	return func(e *Engine) { e.mapper = m }
}

func WithRegistry(r *relation.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// Engine 沿着 cascade=remove 的关系递归删除依赖实体
type Engine struct {
	store     Store
	mapper    *mapper.Mapper
	registry  *relation.Registry
	logger    logger.Logger
	batchSize atomic.Int64
}

func NewEngineWithOptions(store Store, options *Options, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		mapper:   mapper.Default(),
		registry: relation.Default(),
		logger:   log.Default(),
	}
	e.batchSize.Store(DefaultBatchSize)
	if options != nil {
		e.SetBatchSize(options.BatchSize)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) BatchSize() int {
	return int(e.batchSize.Load())
}

// SetBatchSize n 小于 1 时忽略
func (e *Engine) SetBatchSize(n int) {
	if n > 0 {
		e.batchSize.Store(int64(n))
	}
}

// Delete 先级联删除依赖，再删除 entity 本身
// 依赖删除失败记录在 report 中，只有 entity 本身删除失败才返回错误
func (e *Engine) Delete(ctx context.Context, entity any, report *Report) (bool, error) {
	md, err := e.registry.Metadata(reflect.TypeOf(entity))
	if err != nil {
		return false, err
	}
	id, err := e.mapper.ID(entity)
	if err != nil {
		return false, err
	}
	if id.IsNull() {
		return false, &errs.ValidationError{EntityType: md.Entity, Fields: map[string]string{"id": "is required"}}
	}

	visited := NewVisited()
	visited.Add(md.Entity, id)
	if err := e.Cascade(ctx, entity, visited, report); err != nil {
		return false, err
	}
	return e.store.Delete(ctx, md.Entity, id)
}

// Cascade 删除 entity 的依赖实体，不删除 entity 本身
// 调用方需要先把 entity 加入 visited
func (e *Engine) Cascade(ctx context.Context, entity any, visited Visited, report *Report) error {
	if report == nil {
		report = &Report{}
	}
	md, err := e.registry.Metadata(reflect.TypeOf(entity))
	if err != nil {
		return err
	}
	id, err := e.mapper.ID(entity)
	if err != nil {
		return err
	}
	if id.IsNull() {
		return nil
	}

	for _, rel := range md.Relations {
		if !rel.CascadeRemove() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "cascade canceled")
		}

		var err error
		switch rel.Kind {
		case relation.OneToMany:
			err = e.cascadeOneToMany(ctx, md, rel, id, visited, report)
		case relation.ManyToOne:
			if rel.InversedBy == "" {
				continue
			}
			err = e.cascadeReference(ctx, md, rel, entity, visited, report)
		case relation.OneToOne:
			if rel.MappedBy != "" {
				err = e.cascadeMappedOne(ctx, md, rel, id, visited, report)
			} else {
				err = e.cascadeReference(ctx, md, rel, entity, visited, report)
			}
		case relation.ManyToMany:
			report.add(Step{
				Parent:     md.Entity,
				Property:   rel.Property,
				EntityType: rel.TargetEntity,
				Err:        errs.NewArgumentError("cascade remove is not supported for many_to_many relation %s.%s", md.Entity, rel.Property),
			})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// foreignKey 依赖方引用本实体的字段名
// 优先使用依赖方同名关系声明的 joinColumn，否则为 mappedBy + "Id"
func (e *Engine) foreignKey(rel *relation.Relation) string {
	if md, err := e.registry.Metadata(rel.Target); err == nil {
		if inverse, ok := md.Get(rel.MappedBy); ok && inverse.JoinColumn != "" {
			return inverse.JoinColumn
		}
	}
	return rel.MappedBy + "Id"
}

// cascadeOneToMany 分批查询依赖实体并逐个删除
// 已经不在存储中的记录不会出现在后续结果中，offset 只跳过仍然存在的记录，
// 包括同一批中被前面记录的级联删掉的记录
func (e *Engine) cascadeOneToMany(ctx context.Context, md *relation.Metadata, rel *relation.Relation, id wire.Value, visited Visited, report *Report) error {
	fk := e.foreignKey(rel)
	batch := e.BatchSize()
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "cascade canceled")
		}
		q := query.New(rel.TargetEntity).
			WithFilter(fk, query.OpEq, id).
			WithLimit(batch).
			WithOffset(offset)
		records, err := e.store.Query(ctx, q)
		if err != nil {
			e.logger.WarnContext(ctx, "cascade query failed",
				"entityType", md.Entity, "id", id.Key(), "property", rel.Property, "error", err)
			report.add(Step{Parent: md.Entity, Property: rel.Property, EntityType: rel.TargetEntity, Err: err})
			return nil
		}

		for _, rec := range records {
			if !e.remove(ctx, md, rel, rec, nil, visited, report) {
				offset++
			}
		}
		if len(records) < batch {
			return nil
		}
	}
}

// cascadeMappedOne 一对一的被拥有方，通过依赖方的外键找到唯一的依赖实体
func (e *Engine) cascadeMappedOne(ctx context.Context, md *relation.Metadata, rel *relation.Relation, id wire.Value, visited Visited, report *Report) error {
	q := query.New(rel.TargetEntity).
		WithFilter(e.foreignKey(rel), query.OpEq, id).
		WithLimit(1)
	records, err := e.store.Query(ctx, q)
	if err != nil {
		e.logger.WarnContext(ctx, "cascade query failed",
			"entityType", md.Entity, "id", id.Key(), "property", rel.Property, "error", err)
		report.add(Step{Parent: md.Entity, Property: rel.Property, EntityType: rel.TargetEntity, Err: err})
		return nil
	}
	for _, rec := range records {
		e.remove(ctx, md, rel, rec, nil, visited, report)
	}
	return nil
}

// cascadeReference 本实体持有外键，优先使用已加载的关联对象，否则按 joinColumn 读取
// 关联记录不存在时什么都不做
func (e *Engine) cascadeReference(ctx context.Context, md *relation.Metadata, rel *relation.Relation, entity any, visited Visited, report *Report) error {
	if loaded := loadedReference(entity, rel); loaded != nil {
		targetID, err := e.mapper.ID(loaded)
		if err != nil {
			return err
		}
		if !targetID.IsNull() {
			e.remove(ctx, md, rel, wire.Record{ID: targetID}, loaded, visited, report)
			return nil
		}
	}

	targetID, ok, err := e.mapper.FieldValue(entity, rel.JoinColumn)
	if err != nil {
		return err
	}
	if s, isString := targetID.AsString(); !ok || targetID.IsNull() || (isString && s == "") {
		return nil
	}
	if visited.Has(rel.TargetEntity, targetID) {
		report.add(Step{Parent: md.Entity, Property: rel.Property, EntityType: rel.TargetEntity, ID: targetID, Skipped: true})
		return nil
	}

	rec, err := e.store.Get(ctx, rel.TargetEntity, targetID)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		e.logger.WarnContext(ctx, "cascade load failed",
			"entityType", rel.TargetEntity, "id", targetID.Key(), "property", rel.Property, "error", err)
		report.add(Step{Parent: md.Entity, Property: rel.Property, EntityType: rel.TargetEntity, ID: targetID, Err: err})
		return nil
	}
	e.remove(ctx, md, rel, rec, nil, visited, report)
	return nil
}

func loadedReference(entity any, rel *relation.Relation) any {
	rv := reflect.ValueOf(entity)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	fv := rv.FieldByIndex(rel.Index)
	switch fv.Kind() {
	case reflect.Ptr:
		if fv.IsNil() {
			return nil
		}
		return fv.Interface()
	case reflect.Struct:
		if fv.CanAddr() {
			return fv.Addr().Interface()
		}
		return fv.Interface()
	}
	return nil
}

// remove 递归删除一个依赖实体，返回记录是否已经不在存储中
// 已访问的记录不再处理，只有在本次级联中被删除过才算不在存储中
func (e *Engine) remove(ctx context.Context, md *relation.Metadata, rel *relation.Relation, rec wire.Record, obj any, visited Visited, report *Report) bool {
	step := Step{Parent: md.Entity, Property: rel.Property, EntityType: rel.TargetEntity, ID: rec.ID}
	if !visited.Add(rel.TargetEntity, rec.ID) {
		step.Skipped = true
		report.add(step)
		return visited.Deleted(rel.TargetEntity, rec.ID)
	}

	if obj == nil {
		var err error
		if obj, err = e.mapper.MapToObject(rec, rel.Target); err != nil {
			step.Err = err
			e.fail(ctx, step)
			report.add(step)
			return false
		}
	}

	if err := e.Cascade(ctx, obj, visited, report); err != nil {
		step.Err = err
		e.fail(ctx, step)
		report.add(step)
		return false
	}

	deleted, err := e.store.Delete(ctx, rel.TargetEntity, rec.ID)
	if err != nil {
		step.Err = err
		e.fail(ctx, step)
		report.add(step)
		return false
	}
	step.Deleted = deleted
	if deleted {
		visited.MarkDeleted(rel.TargetEntity, rec.ID)
	}
	e.logger.DebugContext(ctx, "cascade delete",
		"parent", md.Entity, "property", rel.Property, "entityType", rel.TargetEntity, "id", rec.ID.Key(), "deleted", deleted)
	report.add(step)
	return deleted
}

func (e *Engine) fail(ctx context.Context, step Step) {
	e.logger.WarnContext(ctx, "cascade delete failed",
		"parent", step.Parent, "property", step.Property, "entityType", step.EntityType, "id", step.ID.Key(), "error", step.Err)
}
