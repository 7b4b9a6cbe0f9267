package schema

import (
	"errors"
	"reflect"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/wire"
)

type product struct {
	Entity    `odm:"product,id=uuid,desc=商品, 含库存"`
	ID        string            `odm:"id"`
	Name      string            `odm:"name,required,indexed"`
	SKU       string            `odm:"sku,unique"`
	Price     float64           `odm:"price"`
	Stock     int               `odm:"stock"`
	Active    bool              `odm:"active"`
	Body      string            `odm:"body,type=text"`
	Tags      []string          `odm:"tags,notnull"`
	Meta      map[string]string `odm:"meta"`
	CreatedAt time.Time         `odm:"createdAt"`
	Birthday  *time.Time        `odm:",type=date"`
	Internal  string            `odm:"-"`
	Untagged  string
}

type noMarker struct {
	ID string `odm:"id"`
}

type noID struct {
	Entity `odm:"noid"`
	Name   string `odm:"name"`
}

type badType struct {
	Entity `odm:"bad"`
	ID     int64  `odm:"id"`
	Name   string `odm:"name,type=varchar"`
}

func TestBuilderFromStruct(t *testing.T) {
	Convey("从结构体构建实体定义", t, func() {
		def, err := NewBuilder().FromStruct(&product{})
		So(err, ShouldBeNil)
		So(def.Name, ShouldEqual, "product")
		So(def.IDGenerator, ShouldEqual, IDGeneratorUUID)
		So(def.Description, ShouldEqual, "商品, 含库存")
		So(def.Fields, ShouldHaveLength, 10)

		Convey("字段类型推断", func() {
			expected := map[string]FieldType{
				"name":      FieldTypeString,
				"sku":       FieldTypeString,
				"price":     FieldTypeFloat,
				"stock":     FieldTypeInteger,
				"active":    FieldTypeBoolean,
				"body":      FieldTypeText,
				"tags":      FieldTypeJSON,
				"meta":      FieldTypeJSON,
				"createdAt": FieldTypeDateTime,
				"birthday":  FieldTypeDate,
			}
			for name, typ := range expected {
				f, ok := def.Field(name)
				So(ok, ShouldBeTrue)
				So(f.Type, ShouldEqual, typ)
			}
		})

		Convey("字段标记", func() {
			name, _ := def.Field("name")
			So(name.Required, ShouldBeTrue)
			So(name.Indexed, ShouldBeTrue)
			So(name.Nullable, ShouldBeFalse)

			sku, _ := def.Field("sku")
			So(sku.Unique, ShouldBeTrue)
			So(def.UniqueFields(), ShouldResemble, []string{"sku"})

			tags, _ := def.Field("tags")
			So(tags.Nullable, ShouldBeFalse)

			meta, _ := def.Field("meta")
			So(meta.Nullable, ShouldBeTrue)

			_, ok := def.Field("Internal")
			So(ok, ShouldBeFalse)
			_, ok = def.Field("untagged")
			So(ok, ShouldBeFalse)
		})

		Convey("id 字段", func() {
			model, err := Parse(reflect.TypeOf(product{}))
			So(err, ShouldBeNil)
			So(model.IDField, ShouldEqual, "ID")
			So(model.IDType.Kind(), ShouldEqual, reflect.String)
		})
	})

	Convey("声明错误", t, func() {
		var de *errs.DefinitionError

		_, err := NewBuilder().FromStruct(noMarker{})
		So(errors.As(err, &de), ShouldBeTrue)

		_, err = NewBuilder().FromStruct(noID{})
		So(errors.As(err, &de), ShouldBeTrue)

		_, err = NewBuilder().FromStruct(badType{})
		So(errors.As(err, &de), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "varchar")

		_, err = NewBuilder().FromStruct(42)
		So(errors.As(err, &de), ShouldBeTrue)
	})
}

func TestFromWire(t *testing.T) {
	Convey("从线上 schema 重建实体定义", t, func() {
		def := FromWire(wire.EntityTypeResponse{
			Name:        "product",
			IDGenerator: "auto_increment",
			Fields: []wire.FieldSpec{
				{Name: "_version", Type: "integer"},
				{Name: "name", Type: "string", Required: true},
				{Name: "_createdAt", Type: "datetime"},
			},
		})
		So(def.IDGenerator, ShouldEqual, IDGeneratorAutoIncrement)
		So(def.Fields, ShouldHaveLength, 1)
		So(def.Fields[0].Name, ShouldEqual, "name")
		So(def.Fields[0].Required, ShouldBeTrue)

		Convey("与 ToWire 互逆", func() {
			So(FromWire(def.ToWire()), ShouldResemble, def)
		})
	})
}
