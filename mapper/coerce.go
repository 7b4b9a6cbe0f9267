package mapper

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/schema"
	"github.com/hatlonely/odm/wire"
)

var timeType = reflect.TypeOf(time.Time{})

const dateLayout = "2006-01-02"

// 按顺序尝试的时间格式
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	dateLayout,
}

func fieldError(name string, err error) error {
	return errors.WithMessagef(err, "field %s", name)
}

// decodeValue 按声明的字段类型把线上值写入目标字段
func decodeValue(m *Mapper, v wire.Value, typ schema.FieldType, target reflect.Value) error {
	if v.IsNull() {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	switch target.Kind() {
	case reflect.Ptr:
		elem := reflect.New(target.Type().Elem())
		if err := decodeValue(m, v, typ, elem.Elem()); err != nil {
			return err
		}
		target.Set(elem)
		return nil
	case reflect.Interface:
		if target.Type().NumMethod() != 0 {
			return errors.Errorf("cannot decode into non-empty interface %s", target.Type())
		}
		if typ == schema.FieldTypeDate || typ == schema.FieldTypeDateTime {
			if t, err := parseTime(v); err == nil {
				target.Set(reflect.ValueOf(t))
				return nil
			}
		}
		if iface := v.Interface(); iface != nil {
			target.Set(reflect.ValueOf(iface))
		}
		return nil
	}

	if target.Type() == timeType {
		t, err := parseTime(v)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(t))
		return nil
	}

	switch target.Kind() {
	case reflect.Bool:
		b, err := toBool(v)
		if err != nil {
			return err
		}
		target.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt(v)
		if err != nil {
			return err
		}
		if target.OverflowInt(i) {
			return errors.Errorf("value %d overflows %s", i, target.Type())
		}
		target.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := toInt(v)
		if err != nil {
			return err
		}
		if i < 0 || target.OverflowUint(uint64(i)) {
			return errors.Errorf("value %d overflows %s", i, target.Type())
		}
		target.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		if target.OverflowFloat(f) {
			return errors.Errorf("value %v overflows %s", f, target.Type())
		}
		target.SetFloat(f)
	case reflect.String:
		s, err := toString(v)
		if err != nil {
			return err
		}
		target.SetString(s)
	case reflect.Slice:
		if target.Type().Elem().Kind() == reflect.Uint8 {
			return decodeJSON(v, target)
		}
		items, ok := v.AsArray()
		if !ok {
			return decodeJSON(v, target)
		}
		elemType := schema.InferFieldType(target.Type().Elem())
		out := reflect.MakeSlice(target.Type(), len(items), len(items))
		for i, item := range items {
			if err := decodeValue(m, item, elemType, out.Index(i)); err != nil {
				return errors.WithMessagef(err, "index %d", i)
			}
		}
		target.Set(out)
	case reflect.Array:
		items, ok := v.AsArray()
		if !ok {
			return errors.Errorf("expected array, got %s", v.Kind())
		}
		if len(items) > target.Len() {
			return errors.Errorf("array length %d exceeds %d", len(items), target.Len())
		}
		elemType := schema.InferFieldType(target.Type().Elem())
		for i, item := range items {
			if err := decodeValue(m, item, elemType, target.Index(i)); err != nil {
				return errors.WithMessagef(err, "index %d", i)
			}
		}
	case reflect.Map:
		obj, ok := v.AsObject()
		if !ok || target.Type().Key().Kind() != reflect.String {
			return decodeJSON(v, target)
		}
		elemType := schema.InferFieldType(target.Type().Elem())
		out := reflect.MakeMapWithSize(target.Type(), len(obj))
		for k, item := range obj {
			elem := reflect.New(target.Type().Elem()).Elem()
			if err := decodeValue(m, item, elemType, elem); err != nil {
				return errors.WithMessagef(err, "key %s", k)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(target.Type().Key()), elem)
		}
		target.Set(out)
	case reflect.Struct:
		obj, ok := v.AsObject()
		if !ok || !schema.IsMappable(target.Type()) {
			return decodeJSON(v, target)
		}
		fields, err := m.nestedFields(target.Type())
		if err != nil {
			return err
		}
		for _, f := range fields {
			item, ok := obj[f.Definition.Name]
			if !ok {
				continue
			}
			if err := decodeValue(m, item, f.Definition.Type, target.FieldByIndex(f.Index)); err != nil {
				return fieldError(f.Definition.Name, err)
			}
		}
	default:
		return errors.Errorf("unsupported target type %s", target.Type())
	}
	return nil
}

// decodeJSON 其他类型交给 encoding/json
func decodeJSON(v wire.Value, target reflect.Value) error {
	if s, ok := v.AsString(); ok && target.Kind() != reflect.Slice {
		// json 字段可能以字符串形式存储
		if err := json.Unmarshal([]byte(s), target.Addr().Interface()); err == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "json.Marshal failed")
	}
	if err := json.Unmarshal(data, target.Addr().Interface()); err != nil {
		return errors.Wrapf(err, "cannot decode %s into %s", v.Kind(), target.Type())
	}
	return nil
}

func parseTime(v wire.Value) (time.Time, error) {
	if s, ok := v.AsString(); ok {
		var lastErr error
		for _, layout := range timeLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				return t, nil
			}
			lastErr = err
		}
		return time.Time{}, errors.Wrapf(lastErr, "cannot parse time string %q", s)
	}
	if i, ok := v.AsInt(); ok {
		return unixTime(float64(i)), nil
	}
	if f, ok := v.AsFloat(); ok {
		return unixTime(f), nil
	}
	return time.Time{}, errors.Errorf("cannot convert %s to time", v.Kind())
}

// unixTime 超过 1e12 的数值按毫秒处理
func unixTime(f float64) time.Time {
	if math.Abs(f) >= 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func toBool(v wire.Value) (bool, error) {
	switch v.Kind() {
	case wire.KindBool:
		b, _ := v.AsBool()
		return b, nil
	case wire.KindInt, wire.KindFloat:
		f, _ := v.Number()
		if f == 0 || f == 1 {
			return f == 1, nil
		}
	case wire.KindString:
		s, _ := v.AsString()
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, nil
		}
	}
	return false, errors.Errorf("cannot convert %s %s to boolean", v.Kind(), v.Key())
}

func toInt(v wire.Value) (int64, error) {
	switch v.Kind() {
	case wire.KindInt:
		i, _ := v.AsInt()
		return i, nil
	case wire.KindFloat:
		f, _ := v.AsFloat()
		return floatToInt(f)
	case wire.KindString:
		s, _ := v.AsString()
		s = strings.TrimSpace(s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if i, err := floatToInt(f); err == nil {
				return i, nil
			}
		}
		return 0, errors.Errorf("string %q is not an integer", s)
	case wire.KindBool:
		if b, _ := v.AsBool(); b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.Errorf("cannot convert %s to integer", v.Kind())
}

// floatToInt int64 的范围是 [-2^63, 2^63)
func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, errors.Errorf("float %v is not an integer in int64 range", f)
	}
	return int64(f), nil
}

func toFloat(v wire.Value) (float64, error) {
	if f, ok := v.Number(); ok {
		return f, nil
	}
	if s, ok := v.AsString(); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, errors.Errorf("string %q is not a number", s)
		}
		return f, nil
	}
	return 0, errors.Errorf("cannot convert %s to float", v.Kind())
}

func toString(v wire.Value) (string, error) {
	switch v.Kind() {
	case wire.KindString, wire.KindInt, wire.KindFloat, wire.KindBool:
		return v.Key(), nil
	case wire.KindArray, wire.KindObject:
		data, err := json.Marshal(v)
		if err != nil {
			return "", errors.Wrap(err, "json.Marshal failed")
		}
		return string(data), nil
	}
	return "", errors.Errorf("cannot convert %s to string", v.Kind())
}

// encodeValue 把字段值转换为线上值
// 时间按声明类型输出 ISO-8601，可映射的嵌套结构体递归转换
func encodeValue(m *Mapper, fv reflect.Value, typ schema.FieldType) (wire.Value, error) {
	for fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface {
		if fv.IsNil() {
			return wire.Null(), nil
		}
		fv = fv.Elem()
	}

	if fv.Type() == timeType {
		t := fv.Interface().(time.Time)
		if typ == schema.FieldTypeDate {
			return wire.String(t.Format(dateLayout)), nil
		}
		return wire.String(t.Format(time.RFC3339Nano)), nil
	}

	switch fv.Kind() {
	case reflect.Slice:
		if fv.IsNil() {
			return wire.Null(), nil
		}
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			return encodeJSON(fv)
		}
		fallthrough
	case reflect.Array:
		elemType := schema.InferFieldType(fv.Type().Elem())
		items := make([]wire.Value, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			item, err := encodeValue(m, fv.Index(i), elemType)
			if err != nil {
				return wire.Null(), errors.WithMessagef(err, "index %d", i)
			}
			items[i] = item
		}
		return wire.Array(items...), nil
	case reflect.Map:
		if fv.IsNil() {
			return wire.Null(), nil
		}
		if fv.Type().Key().Kind() != reflect.String {
			return encodeJSON(fv)
		}
		elemType := schema.InferFieldType(fv.Type().Elem())
		obj := make(map[string]wire.Value, fv.Len())
		iter := fv.MapRange()
		for iter.Next() {
			item, err := encodeValue(m, iter.Value(), elemType)
			if err != nil {
				return wire.Null(), errors.WithMessagef(err, "key %s", iter.Key().String())
			}
			obj[iter.Key().String()] = item
		}
		return wire.Object(obj), nil
	case reflect.Struct:
		if !schema.IsMappable(fv.Type()) {
			return encodeJSON(fv)
		}
		fields, err := m.nestedFields(fv.Type())
		if err != nil {
			return wire.Null(), err
		}
		obj, err := m.encodeFields(fields, fv)
		if err != nil {
			return wire.Null(), err
		}
		return wire.Object(obj), nil
	}

	return wire.FromInterface(fv.Interface())
}

func encodeJSON(fv reflect.Value) (wire.Value, error) {
	data, err := json.Marshal(fv.Interface())
	if err != nil {
		return wire.Null(), errors.Wrapf(err, "cannot encode %s", fv.Type())
	}
	var v wire.Value
	if err := v.UnmarshalJSON(data); err != nil {
		return wire.Null(), err
	}
	return v, nil
}
