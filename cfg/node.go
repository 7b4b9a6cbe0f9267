package cfg

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Node 解码后的配置树的一个节点，实现 ref.Convertable
// 目标字段为 any 时保留为 *Node，由 ref.New 按构造函数的参数类型再转换
// ConvertTo 之后会依次设置默认值并校验
type Node struct {
	value any
}

func NewNode(value any) *Node {
	return &Node{value: value}
}

func (n *Node) Value() any {
	if n == nil {
		return nil
	}
	return n.value
}

// Sub 按 . 分隔的路径取子节点，不存在时返回 nil
func (n *Node) Sub(path string) *Node {
	if n == nil {
		return nil
	}
	cur := n.value
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = lookup(m, key); !ok {
			return nil
		}
	}
	return &Node{value: cur}
}

func (n *Node) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("object must be a non-nil pointer, got %T", object)
	}
	if err := convert(n.Value(), rv.Elem(), ""); err != nil {
		return err
	}
	if err := SetDefaults(object); err != nil {
		return err
	}
	return Validate(object)
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// fieldKey cfg tag 优先，其次 json tag，最后是字段名
func fieldKey(sf reflect.StructField) string {
	for _, tag := range []string{"cfg", "json"} {
		if v, ok := sf.Tag.Lookup(tag); ok {
			name, _, _ := strings.Cut(v, ",")
			if name != "" {
				return name
			}
		}
	}
	return sf.Name
}

func convert(raw any, target reflect.Value, path string) error {
	if raw == nil {
		return nil
	}
	if n, ok := raw.(*Node); ok {
		return convert(n.Value(), target, path)
	}

	switch target.Kind() {
	case reflect.Ptr:
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		return convert(raw, target.Elem(), path)
	case reflect.Interface:
		switch raw.(type) {
		case map[string]any, []any:
			target.Set(reflect.ValueOf(NewNode(raw)))
		default:
			target.Set(reflect.ValueOf(raw))
		}
		return nil
	}

	switch target.Type() {
	case durationType:
		switch x := raw.(type) {
		case string:
			d, err := time.ParseDuration(x)
			if err != nil {
				return errors.Wrapf(err, "%s: invalid duration", path)
			}
			target.SetInt(int64(d))
			return nil
		}
	case timeType:
		s, ok := raw.(string)
		if !ok {
			if t, ok := raw.(time.Time); ok {
				target.Set(reflect.ValueOf(t))
				return nil
			}
			return errors.Errorf("%s: expected time string, got %T", path, raw)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return errors.Wrapf(err, "%s: invalid time", path)
		}
		target.Set(reflect.ValueOf(t))
		return nil
	}

	switch target.Kind() {
	case reflect.Struct:
		m, ok := raw.(map[string]any)
		if !ok {
			return errors.Errorf("%s: expected object, got %T", path, raw)
		}
		t := target.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			if sf.Anonymous && sf.Tag.Get("cfg") == "" && sf.Type.Kind() == reflect.Struct {
				if err := convert(m, target.Field(i), path); err != nil {
					return err
				}
				continue
			}
			key := fieldKey(sf)
			if key == "-" {
				continue
			}
			v, ok := lookup(m, key)
			if !ok {
				continue
			}
			if err := convert(v, target.Field(i), join(path, key)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		m, ok := raw.(map[string]any)
		if !ok || target.Type().Key().Kind() != reflect.String {
			return errors.Errorf("%s: expected object, got %T", path, raw)
		}
		out := reflect.MakeMapWithSize(target.Type(), len(m))
		for k, v := range m {
			elem := reflect.New(target.Type().Elem()).Elem()
			if err := convert(v, elem, join(path, k)); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(target.Type().Key()), elem)
		}
		target.Set(out)
		return nil
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok {
			s, isString := raw.(string)
			if !isString {
				return errors.Errorf("%s: expected array, got %T", path, raw)
			}
			for _, part := range strings.Split(s, ",") {
				items = append(items, strings.TrimSpace(part))
			}
		}
		out := reflect.MakeSlice(target.Type(), len(items), len(items))
		for i, item := range items {
			if err := convert(item, out.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		target.Set(out)
		return nil
	case reflect.String:
		target.SetString(fmt.Sprint(raw))
		return nil
	case reflect.Bool:
		switch x := raw.(type) {
		case bool:
			target.SetBool(x)
			return nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return errors.Wrapf(err, "%s: invalid bool", path)
			}
			target.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt64(raw)
		if err != nil {
			return errors.WithMessage(err, path)
		}
		if target.OverflowInt(i) {
			return errors.Errorf("%s: %d overflows %s", path, i, target.Type())
		}
		target.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := toInt64(raw)
		if err != nil {
			return errors.WithMessage(err, path)
		}
		if i < 0 || target.OverflowUint(uint64(i)) {
			return errors.Errorf("%s: %d overflows %s", path, i, target.Type())
		}
		target.SetUint(uint64(i))
		return nil
	case reflect.Float32, reflect.Float64:
		switch x := raw.(type) {
		case float64:
			target.SetFloat(x)
			return nil
		case int64:
			target.SetFloat(float64(x))
			return nil
		case int:
			target.SetFloat(float64(x))
			return nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return errors.Wrapf(err, "%s: invalid float", path)
			}
			target.SetFloat(f)
			return nil
		}
	}
	return errors.Errorf("%s: cannot convert %T to %s", path, raw, target.Type())
}

func toInt64(raw any) (int64, error) {
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "invalid integer")
		}
		return i, nil
	}
	return 0, errors.Errorf("cannot convert %T to integer", raw)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
