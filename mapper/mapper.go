package mapper

import (
	"reflect"
	"sync"
	"time"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/schema"
	"github.com/hatlonely/odm/wire"
)

// Mapper 实体对象与线上记录之间的转换
// 每个类型的字段表只解析一次，之后只读
type Mapper struct {
	mu     sync.RWMutex
	models map[reflect.Type]*schema.Model
	nested map[reflect.Type][]schema.Field
}

func New() *Mapper {
	return &Mapper{
		models: map[reflect.Type]*schema.Model{},
		nested: map[reflect.Type][]schema.Field{},
	}
}

var defaultMapper = New()

func Default() *Mapper {
	return defaultMapper
}

// Model 返回类型的字段表，第一次访问时解析
func (m *Mapper) Model(t reflect.Type) (*schema.Model, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	m.mu.RLock()
	model, ok := m.models[t]
	m.mu.RUnlock()
	if ok {
		return model, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if model, ok := m.models[t]; ok {
		return model, nil
	}
	model, err := schema.Parse(t)
	if err != nil {
		return nil, err
	}
	m.models[t] = model
	return model, nil
}

func (m *Mapper) nestedFields(t reflect.Type) ([]schema.Field, error) {
	m.mu.RLock()
	fields, ok := m.nested[t]
	m.mu.RUnlock()
	if ok {
		return fields, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fields, ok := m.nested[t]; ok {
		return fields, nil
	}
	fields, err := schema.ParseFields(t)
	if err != nil {
		return nil, err
	}
	m.nested[t] = fields
	return fields, nil
}

// Definition 从实体类型提取 EntityDefinition
func (m *Mapper) Definition(t reflect.Type) (*schema.EntityDefinition, error) {
	model, err := m.Model(t)
	if err != nil {
		return nil, err
	}
	def := model.Definition
	def.Fields = append([]schema.FieldDefinition(nil), model.Definition.Fields...)
	return &def, nil
}

// MapToObject 分配新的实例（不调用任何构造函数）并用记录填充，返回指向实例的指针
func (m *Mapper) MapToObject(rec wire.Record, t reflect.Type) (any, error) {
	model, err := m.Model(t)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(model.Type)
	if err := m.populate(rec, model, ptr.Elem()); err != nil {
		return nil, err
	}
	return ptr.Interface(), nil
}

// To 泛型版本的 MapToObject
func To[T any](m *Mapper, rec wire.Record) (*T, error) {
	obj, err := m.MapToObject(rec, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return obj.(*T), nil
}

// MapInto 用记录填充已有实例，记录中不存在的字段保持原值
func (m *Mapper) MapInto(rec wire.Record, dst any) error {
	rv, model, err := m.addressable(dst)
	if err != nil {
		return err
	}
	return m.populate(rec, model, rv)
}

func (m *Mapper) populate(rec wire.Record, model *schema.Model, rv reflect.Value) error {
	name := model.Definition.Name
	if rec.ID.IsNull() {
		return errs.NewMappingError(name, "record has no id")
	}
	if err := decodeValue(m, rec.ID, idFieldType(model.IDType), rv.FieldByIndex(model.IDIndex)); err != nil {
		return errs.NewMappingError(name, "id: %v", err)
	}
	for _, f := range model.Fields {
		v, ok := rec.Fields[f.Definition.Name]
		if !ok {
			continue
		}
		if err := decodeValue(m, v, f.Definition.Type, rv.FieldByIndex(f.Index)); err != nil {
			return errs.NewMappingError(name, "field %s: %v", f.Definition.Name, err)
		}
	}
	return nil
}

// MapFromObject 将实例转换为线上记录
// 值为 null 且非必填的字段不输出，id 未设置时记录不带 id
func (m *Mapper) MapFromObject(obj any) (wire.Record, error) {
	rv, model, err := m.readable(obj)
	if err != nil {
		return wire.Record{}, err
	}

	id, err := idValue(rv.FieldByIndex(model.IDIndex))
	if err != nil {
		return wire.Record{}, errs.NewMappingError(model.Definition.Name, "id: %v", err)
	}

	fields, err := m.encodeFields(model.Fields, rv)
	if err != nil {
		return wire.Record{}, errs.NewMappingError(model.Definition.Name, "%v", err)
	}
	return wire.Record{ID: id, Fields: fields}, nil
}

func (m *Mapper) encodeFields(fields []schema.Field, rv reflect.Value) (map[string]wire.Value, error) {
	out := make(map[string]wire.Value, len(fields))
	for _, f := range fields {
		v, err := encodeValue(m, rv.FieldByIndex(f.Index), f.Definition.Type)
		if err != nil {
			return nil, fieldError(f.Definition.Name, err)
		}
		if v.IsNull() && !f.Definition.Required {
			continue
		}
		out[f.Definition.Name] = v
	}
	return out, nil
}

// Validate 检查必填和非空约束，一次返回所有违规字段
func (m *Mapper) Validate(obj any) error {
	rv, model, err := m.readable(obj)
	if err != nil {
		return err
	}

	violations := map[string]string{}
	for _, f := range model.Fields {
		fv := rv.FieldByIndex(f.Index)
		switch {
		case f.Definition.Required && isUnset(fv):
			violations[f.Definition.Name] = "is required"
		case !f.Definition.Nullable && isNil(fv):
			violations[f.Definition.Name] = "must not be null"
		}
	}
	if len(violations) != 0 {
		return &errs.ValidationError{EntityType: model.Definition.Name, Fields: violations}
	}
	return nil
}

// ID 读取实例的 id，空字符串或 0 视为未设置
func (m *Mapper) ID(obj any) (wire.Value, error) {
	rv, model, err := m.readable(obj)
	if err != nil {
		return wire.Null(), err
	}
	return idValue(rv.FieldByIndex(model.IDIndex))
}

// SetID 写入实例的 id
func (m *Mapper) SetID(obj any, id wire.Value) error {
	rv, model, err := m.addressable(obj)
	if err != nil {
		return err
	}
	if err := decodeValue(m, id, idFieldType(model.IDType), rv.FieldByIndex(model.IDIndex)); err != nil {
		return errs.NewMappingError(model.Definition.Name, "id: %v", err)
	}
	return nil
}

// FieldValue 按线上字段名读取实例的字段值，name 为 "id" 时返回 id
func (m *Mapper) FieldValue(obj any, name string) (wire.Value, bool, error) {
	rv, model, err := m.readable(obj)
	if err != nil {
		return wire.Null(), false, err
	}
	if name == "id" {
		v, err := idValue(rv.FieldByIndex(model.IDIndex))
		return v, true, err
	}
	f, ok := model.FieldByName(name)
	if !ok {
		return wire.Null(), false, nil
	}
	v, err := encodeValue(m, rv.FieldByIndex(f.Index), f.Definition.Type)
	return v, true, err
}

func (m *Mapper) readable(obj any) (reflect.Value, *schema.Model, error) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, nil, errs.NewArgumentError("entity is a nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, nil, errs.NewArgumentError("expected entity struct, got %T", obj)
	}
	model, err := m.Model(rv.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return rv, model, nil
}

func (m *Mapper) addressable(obj any) (reflect.Value, *schema.Model, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return reflect.Value{}, nil, errs.NewArgumentError("expected non-nil pointer to entity, got %T", obj)
	}
	return m.readable(obj)
}

func idFieldType(t reflect.Type) schema.FieldType {
	return schema.InferFieldType(t)
}

func idValue(fv reflect.Value) (wire.Value, error) {
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return wire.Null(), nil
		}
		fv = fv.Elem()
	}
	if fv.IsZero() {
		return wire.Null(), nil
	}
	return wire.FromInterface(fv.Interface())
}

// isUnset 必填检查：nil、空字符串和零值时间视为未设置，数值和布尔总是视为已设置
func isUnset(fv reflect.Value) bool {
	if isNil(fv) {
		return true
	}
	if fv.Kind() == reflect.String {
		return fv.Len() == 0
	}
	if fv.Type() == timeType {
		return fv.Interface().(time.Time).IsZero()
	}
	return false
}

func isNil(fv reflect.Value) bool {
	switch fv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return fv.IsNil()
	}
	return false
}
