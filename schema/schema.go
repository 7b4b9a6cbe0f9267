package schema

import (
	"strings"

	"github.com/hatlonely/odm/wire"
)

// FieldType 存储端字段类型
type FieldType string

const (
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
	FieldTypeJSON     FieldType = "json"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeFloat    FieldType = "float"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeBoolean, FieldTypeDate, FieldTypeDateTime, FieldTypeString,
		FieldTypeText, FieldTypeJSON, FieldTypeInteger, FieldTypeFloat:
		return true
	}
	return false
}

// IDGenerator 存储端的主键生成策略
type IDGenerator string

const (
	IDGeneratorAutoIncrement IDGenerator = "auto_increment"
	IDGeneratorUUID          IDGenerator = "uuid"
	IDGeneratorCUID          IDGenerator = "cuid"
	IDGeneratorCustom        IDGenerator = "custom"
)

func (g IDGenerator) Valid() bool {
	switch g {
	case IDGeneratorAutoIncrement, IDGeneratorUUID, IDGeneratorCUID, IDGeneratorCustom:
		return true
	}
	return false
}

// ReservedPrefix 存储端内部字段前缀，不出现在 schema 中
const ReservedPrefix = "_"

// FieldDefinition 字段定义
type FieldDefinition struct {
	Name     string
	Type     FieldType
	Indexed  bool
	Required bool
	Nullable bool
	Unique   bool
}

// EntityDefinition 实体类型定义
type EntityDefinition struct {
	Name        string
	IDGenerator IDGenerator
	Description string
	Fields      []FieldDefinition
}

func (d *EntityDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// UniqueFields 返回所有声明为 unique 的字段名
func (d *EntityDefinition) UniqueFields() []string {
	var names []string
	for _, f := range d.Fields {
		if f.Unique {
			names = append(names, f.Name)
		}
	}
	return names
}

func (d *EntityDefinition) ToWire() wire.EntityTypeResponse {
	fields := make([]wire.FieldSpec, 0, len(d.Fields))
	for _, f := range d.Fields {
		fields = append(fields, wire.FieldSpec{
			Name:     f.Name,
			Type:     string(f.Type),
			Indexed:  f.Indexed,
			Required: f.Required,
			Nullable: f.Nullable,
			Unique:   f.Unique,
		})
	}
	return wire.EntityTypeResponse{
		Name:        d.Name,
		Description: d.Description,
		IDGenerator: string(d.IDGenerator),
		Fields:      fields,
	}
}

// FromWire 从存储端的 schema 响应重建实体定义，丢弃内部保留字段
func FromWire(resp wire.EntityTypeResponse) *EntityDefinition {
	def := &EntityDefinition{
		Name:        resp.Name,
		IDGenerator: IDGenerator(resp.IDGenerator),
		Description: resp.Description,
		Fields:      make([]FieldDefinition, 0, len(resp.Fields)),
	}
	if !def.IDGenerator.Valid() {
		def.IDGenerator = IDGeneratorUUID
	}
	for _, f := range resp.Fields {
		if strings.HasPrefix(f.Name, ReservedPrefix) {
			continue
		}
		def.Fields = append(def.Fields, FieldDefinition{
			Name:     f.Name,
			Type:     FieldType(f.Type),
			Indexed:  f.Indexed,
			Required: f.Required,
			Nullable: f.Nullable,
			Unique:   f.Unique,
		})
	}
	return def
}
