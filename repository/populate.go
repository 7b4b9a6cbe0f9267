package repository

import (
	"context"
	"reflect"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/query"
	"github.com/hatlonely/odm/relation"
	"github.com/hatlonely/odm/wire"
)

// hydrate 将记录转换为 t 类型的实例，并用 join 结果填充关系字段
// 无法转换的记录记录告警后跳过，不影响同一批的其他记录
// alias 没有对应的关系字段时 join 结果被忽略
func (m *Manager) hydrate(ctx context.Context, records []wire.Record, t reflect.Type, joins []query.Join) ([]any, error) {
	var md *relation.Metadata
	if len(joins) != 0 {
		var err error
		if md, err = m.registry.Metadata(t); err != nil {
			return nil, err
		}
	}

	out := make([]any, 0, len(records))
	for i, rec := range records {
		obj, err := m.hydrateOne(rec, t, md, joins)
		if err != nil {
			m.logger.WarnContext(ctx, "skip record that cannot be mapped",
				"type", t.String(), "index", i, "id", rec.ID.Key(), "error", err)
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

func (m *Manager) hydrateOne(rec wire.Record, t reflect.Type, md *relation.Metadata, joins []query.Join) (any, error) {
	obj, err := m.mapper.MapToObject(rec, t)
	if err != nil {
		return nil, err
	}
	for _, j := range joins {
		rel, ok := md.Lookup(j.As())
		if !ok {
			continue
		}
		joined, ok := rec.Fields[j.As()]
		if !ok {
			continue
		}
		if err := m.populate(obj, md.Entity, rel, joined); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// populate 按关系基数写入关系字段，集合关系写入切片，单个引用写入第一个结果
func (m *Manager) populate(obj any, entity string, rel *relation.Relation, joined wire.Value) error {
	var items []wire.Value
	switch joined.Kind() {
	case wire.KindNull:
	case wire.KindArray:
		items, _ = joined.AsArray()
	case wire.KindObject:
		items = []wire.Value{joined}
	default:
		return errs.NewMappingError(entity, "join %s: expected object or array, got %s", rel.Property, joined.Kind())
	}

	targets := make([]reflect.Value, 0, len(items))
	for _, item := range items {
		rec, ok := joinedRecord(item)
		if !ok {
			return errs.NewMappingError(entity, "join %s: malformed related record", rel.Property)
		}
		target, err := m.mapper.MapToObject(rec, rel.Target)
		if err != nil {
			return err
		}
		targets = append(targets, reflect.ValueOf(target))
	}

	fv := reflect.ValueOf(obj).Elem().FieldByIndex(rel.Index)
	if fv.Kind() == reflect.Slice {
		slice := reflect.MakeSlice(fv.Type(), 0, len(targets))
		for _, target := range targets {
			slice = reflect.Append(slice, adapt(target, fv.Type().Elem()))
		}
		fv.Set(slice)
		return nil
	}
	if len(targets) == 0 {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	fv.Set(adapt(targets[0], fv.Type()))
	return nil
}

// adapt target 总是结构体指针，字段类型是结构体时取值
func adapt(target reflect.Value, t reflect.Type) reflect.Value {
	if t.Kind() == reflect.Ptr {
		return target
	}
	return target.Elem()
}

// joinedRecord 解析 {"id","fields"} 形式的关联记录，没有 fields 时其余键都视为字段
func joinedRecord(v wire.Value) (wire.Record, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return wire.Record{}, false
	}
	rec := wire.Record{ID: obj["id"], Fields: map[string]wire.Value{}}
	if fields, ok := obj["fields"].AsObject(); ok {
		for k, fv := range fields {
			rec.Fields[k] = fv
		}
		return rec, true
	}
	for k, fv := range obj {
		if k != "id" {
			rec.Fields[k] = fv
		}
	}
	return rec, true
}
