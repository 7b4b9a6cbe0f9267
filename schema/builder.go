package schema

import (
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/errs"
)

// Entity 实体声明标记，嵌入到结构体中并通过 tag 声明实体名
//
//	type Product struct {
//		schema.Entity `odm:"product,id=uuid,desc=商品"`
//		ID    string  `odm:"id"`
//		Name  string  `odm:"name,required,indexed"`
//		SKU   string  `odm:"sku,unique"`
//		Price float64 `odm:"price"`
//	}
type Entity struct{}

const (
	TagName = "odm"
	RelTag  = "rel"
	idTag   = "id"
)

var (
	entityType = reflect.TypeOf(Entity{})
	timeType   = reflect.TypeOf(time.Time{})
)

// Field 结构体字段与线上字段的绑定
type Field struct {
	Definition FieldDefinition
	GoName     string
	Index      []int
	Type       reflect.Type
}

// Model 解析后的实体结构
type Model struct {
	Type       reflect.Type
	Definition EntityDefinition
	IDField    string
	IDIndex    []int
	IDType     reflect.Type
	Fields     []Field
}

func (m *Model) FieldByName(name string) (*Field, bool) {
	for i := range m.Fields {
		if m.Fields[i].Definition.Name == name {
			return &m.Fields[i], true
		}
	}
	return nil, false
}

// Builder 从结构体构建实体定义
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// FromStruct 从结构体或结构体指针构建 EntityDefinition
func (b *Builder) FromStruct(v any) (*EntityDefinition, error) {
	model, err := Parse(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}
	return &model.Definition, nil
}

// Parse 解析实体类型，没有嵌入 Entity 标记的类型返回 DefinitionError
func Parse(t reflect.Type) (*Model, error) {
	if t == nil {
		return nil, errs.NewDefinitionError("<nil>", "type is nil")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errs.NewDefinitionError(t.String(), "expected struct, got %s", t.Kind())
	}

	marker, ok := findMarker(t)
	if !ok {
		return nil, errs.NewDefinitionError(t.String(), "missing schema.Entity declaration")
	}

	model := &Model{Type: t}
	if err := parseMarker(t, marker, &model.Definition); err != nil {
		return nil, err
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Type == entityType {
			continue
		}
		if _, ok := sf.Tag.Lookup(RelTag); ok {
			continue
		}
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}

		if tag == idTag {
			if model.IDIndex != nil {
				return nil, errs.NewDefinitionError(t.String(), "duplicate id field %s", sf.Name)
			}
			if !isIDKind(sf.Type) {
				return nil, errs.NewDefinitionError(t.String(), "id field %s must be string or integer, got %s", sf.Name, sf.Type)
			}
			model.IDField = sf.Name
			model.IDIndex = sf.Index
			model.IDType = sf.Type
			continue
		}

		def, err := parseFieldTag(sf, tag)
		if err != nil {
			return nil, errs.NewDefinitionError(t.String(), "field %s: %v", sf.Name, err)
		}
		if _, exists := model.FieldByName(def.Name); exists {
			return nil, errs.NewDefinitionError(t.String(), "duplicate field name %q", def.Name)
		}
		model.Fields = append(model.Fields, Field{
			Definition: def,
			GoName:     sf.Name,
			Index:      sf.Index,
			Type:       sf.Type,
		})
		model.Definition.Fields = append(model.Definition.Fields, def)
	}

	if model.IDIndex == nil {
		return nil, errs.NewDefinitionError(t.String(), "missing id field, declare one with `odm:\"id\"`")
	}

	return model, nil
}

// ParseFields 解析非实体结构体（嵌套对象）上声明的字段
func ParseFields(t reflect.Type) ([]Field, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}
		def, err := parseFieldTag(sf, tag)
		if err != nil {
			return nil, errs.NewDefinitionError(t.String(), "field %s: %v", sf.Name, err)
		}
		fields = append(fields, Field{Definition: def, GoName: sf.Name, Index: sf.Index, Type: sf.Type})
	}
	return fields, nil
}

// IsMappable 结构体上至少有一个 odm tag 字段时视为可映射的嵌套对象
func IsMappable(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeType {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if tag, ok := sf.Tag.Lookup(TagName); ok && tag != "-" && sf.IsExported() {
			return true
		}
	}
	return false
}

// IsEntity 判断类型是否嵌入了 Entity 标记
func IsEntity(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	_, ok := findMarker(t)
	return ok
}

func findMarker(t reflect.Type) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && sf.Type == entityType {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

// parseMarker 解析 `odm:"<name>,id=<generator>,desc=<text>"`
func parseMarker(t reflect.Type, marker reflect.StructField, def *EntityDefinition) error {
	def.Name = strings.ToLower(t.Name())
	def.IDGenerator = IDGeneratorUUID

	parts := strings.Split(marker.Tag.Get(TagName), ",")
	if parts[0] != "" && !strings.Contains(parts[0], "=") {
		def.Name = strings.TrimSpace(parts[0])
		parts = parts[1:]
	}
	for i := 0; i < len(parts); i++ {
		part := strings.TrimSpace(parts[i])
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "id":
			def.IDGenerator = IDGenerator(value)
			if !def.IDGenerator.Valid() {
				return errs.NewDefinitionError(t.String(), "unknown id generator %q", value)
			}
		case "desc":
			// 描述里允许出现逗号
			def.Description = strings.Join(append([]string{value}, parts[i+1:]...), ",")
			i = len(parts)
		default:
			return errs.NewDefinitionError(t.String(), "unknown entity option %q", key)
		}
	}
	if def.Name == "" {
		return errs.NewDefinitionError(t.String(), "empty entity name")
	}
	return nil
}

// parseFieldTag 解析 `odm:"<name>,type=<t>,required,nullable,notnull,indexed,unique"`
func parseFieldTag(sf reflect.StructField, tag string) (FieldDefinition, error) {
	def := FieldDefinition{
		Name:     lowerFirst(sf.Name),
		Type:     InferFieldType(sf.Type),
		Nullable: isNilable(sf.Type),
	}

	parts := strings.Split(tag, ",")
	if !strings.Contains(parts[0], "=") {
		if parts[0] != "" {
			def.Name = strings.TrimSpace(parts[0])
		}
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, value, ok := strings.Cut(part, "="); ok {
			switch key {
			case "type":
				def.Type = FieldType(value)
				if !def.Type.Valid() {
					return def, errors.Errorf("unknown field type %q", value)
				}
			default:
				return def, errors.Errorf("unknown option %q", key)
			}
			continue
		}
		switch part {
		case "required":
			def.Required = true
		case "nullable":
			def.Nullable = true
		case "notnull":
			def.Nullable = false
		case "indexed", "index":
			def.Indexed = true
		case "unique":
			def.Unique = true
		default:
			return def, errors.Errorf("unknown option %q", part)
		}
	}

	if strings.HasPrefix(def.Name, ReservedPrefix) {
		return def, errors.Errorf("field name %q uses reserved prefix %q", def.Name, ReservedPrefix)
	}
	return def, nil
}

// InferFieldType 从 Go 类型推断字段类型
func InferFieldType(t reflect.Type) FieldType {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return FieldTypeDateTime
	}

	switch t.Kind() {
	case reflect.String:
		return FieldTypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return FieldTypeInteger
	case reflect.Float32, reflect.Float64:
		return FieldTypeFloat
	case reflect.Bool:
		return FieldTypeBoolean
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return FieldTypeJSON
	}
	return FieldTypeString
}

func isNilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}

func isIDKind(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
