package query

import (
	"reflect"

	"github.com/hatlonely/odm/wire"
)

// Operator 过滤条件的比较操作符
type Operator string

const (
	OpEq               Operator = "eq"
	OpNeq              Operator = "neq"
	OpGt               Operator = "gt"
	OpGte              Operator = "gte"
	OpLt               Operator = "lt"
	OpLte              Operator = "lte"
	OpContains         Operator = "contains"
	OpStartsWith       Operator = "startswith"
	OpEndsWith         Operator = "endswith"
	OpIn               Operator = "in"
	OpFuzzy            Operator = "fuzzy"
	OpArrayContains    Operator = "array_contains"
	OpArrayContainsAny Operator = "array_contains_any"
	OpArrayContainsAll Operator = "array_contains_all"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpStartsWith, OpEndsWith,
		OpIn, OpFuzzy, OpArrayContains, OpArrayContainsAny, OpArrayContainsAll:
		return true
	}
	return false
}

// RequiresSequence 需要集合类型参数的操作符
func (o Operator) RequiresSequence() bool {
	return o == OpIn || o == OpArrayContainsAny || o == OpArrayContainsAll
}

// Filter 单个比较条件
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

func NewFilter(field string, op Operator, value any) Filter {
	return Filter{Field: field, Operator: op, Value: value}
}

func Eq(field string, value any) Filter  { return NewFilter(field, OpEq, value) }
func Neq(field string, value any) Filter { return NewFilter(field, OpNeq, value) }
func Gt(field string, value any) Filter  { return NewFilter(field, OpGt, value) }
func Gte(field string, value any) Filter { return NewFilter(field, OpGte, value) }
func Lt(field string, value any) Filter  { return NewFilter(field, OpLt, value) }
func Lte(field string, value any) Filter { return NewFilter(field, OpLte, value) }
func In(field string, value any) Filter  { return NewFilter(field, OpIn, value) }

func (f Filter) ToWire() map[string]any {
	return map[string]any{
		"field":    f.Field,
		"operator": string(f.Operator),
		"value":    f.Value,
	}
}

// problems 返回过滤条件的所有问题
func (f Filter) problems(prefix string) []string {
	var out []string
	if f.Field == "" {
		out = append(out, prefix+": field is empty")
	}
	if f.Operator == "" {
		out = append(out, prefix+": operator is empty")
	} else if !f.Operator.Valid() {
		out = append(out, prefix+": unknown operator "+string(f.Operator))
	} else if f.Operator.RequiresSequence() && !isSequence(f.Value) {
		out = append(out, prefix+": operator "+string(f.Operator)+" requires a sequence value")
	}
	return out
}

func isSequence(v any) bool {
	if v == nil {
		return false
	}
	if wv, ok := v.(wire.Value); ok {
		return wv.Kind() == wire.KindArray
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
}

func filtersToWire(filters []Filter) []any {
	out := make([]any, 0, len(filters))
	for _, f := range filters {
		out = append(out, f.ToWire())
	}
	return out
}
