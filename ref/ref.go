package ref

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Convertable 配置节点，可以按构造函数的参数类型自行转换
// cfg 解析出的 any 字段会以 Convertable 的形式传递给 New
type Convertable interface {
	ConvertTo(object any) error
}

// TypeOptions 通过配置描述一个需要动态构造的组件
//
//	transport:
//	  namespace: github.com/hatlonely/odm/transport
//	  type: HTTPTransport
//	  options:
//	    baseURL: http://localhost:8080
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

func (o *TypeOptions) Empty() bool {
	return o == nil || o.Type == ""
}

type constructor struct {
	fn           reflect.Value
	hasOptions   bool
	returnsError bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newConstructor(fn any) (*constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, errors.Errorf("constructor must be a function, got %T", fn)
	}
	t := v.Type()
	if t.NumIn() > 1 {
		return nil, errors.Errorf("constructor must have 0 or 1 input parameters, got %d", t.NumIn())
	}
	if t.NumOut() != 1 && t.NumOut() != 2 {
		return nil, errors.Errorf("constructor must have 1 or 2 return values, got %d", t.NumOut())
	}
	if t.NumOut() == 2 && !t.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be error")
	}
	return &constructor{fn: v, hasOptions: t.NumIn() == 1, returnsError: t.NumOut() == 2}, nil
}

func (c *constructor) call(options any) (any, error) {
	var args []reflect.Value
	if c.hasOptions {
		arg, err := c.convert(options)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	out := c.fn.Call(args)
	if c.returnsError && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// convert 把 options 转换为构造函数需要的参数类型
// nil 传入指针参数时分配一个零值，交给构造函数处理默认值
func (c *constructor) convert(options any) (reflect.Value, error) {
	paramType := c.fn.Type().In(0)

	if conv, ok := options.(Convertable); ok {
		elemType := paramType
		if paramType.Kind() == reflect.Ptr {
			elemType = paramType.Elem()
		}
		target := reflect.New(elemType)
		if err := conv.ConvertTo(target.Interface()); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "convert options to %v failed", paramType)
		}
		if paramType.Kind() == reflect.Ptr {
			return target, nil
		}
		return target.Elem(), nil
	}

	if options == nil {
		if paramType.Kind() == reflect.Ptr {
			return reflect.New(paramType.Elem()), nil
		}
		return reflect.Zero(paramType), nil
	}

	v := reflect.ValueOf(options)
	switch {
	case v.Type().AssignableTo(paramType):
		return v, nil
	case paramType.Kind() == reflect.Ptr && v.Type().AssignableTo(paramType.Elem()):
		p := reflect.New(paramType.Elem())
		p.Elem().Set(v)
		return p, nil
	case v.Kind() == reflect.Ptr && !v.IsNil() && v.Elem().Type().AssignableTo(paramType):
		return v.Elem(), nil
	}
	return reflect.Value{}, errors.Errorf("options type %T is not assignable to %v", options, paramType)
}

var constructors sync.Map

func key(namespace, typ string) string {
	return namespace + ":" + typ
}

// Register 注册构造函数，构造函数的形式为
// func() T, func() (T, error), func(*Options) T, func(*Options) (T, error)
// 同一个 key 重复注册同一个函数是幂等的
func Register(namespace string, typ string, fn any) error {
	c, err := newConstructor(fn)
	if err != nil {
		return errors.WithMessagef(err, "register %s failed", key(namespace, typ))
	}
	if v, ok := constructors.Load(key(namespace, typ)); ok {
		if v.(*constructor).fn.Pointer() == c.fn.Pointer() {
			return nil
		}
		return errors.Errorf("constructor for %s already registered with different function", key(namespace, typ))
	}
	constructors.Store(key(namespace, typ), c)
	return nil
}

func MustRegister(namespace string, typ string, fn any) {
	if err := Register(namespace, typ, fn); err != nil {
		panic(err)
	}
}

// RegisterT 以 T 的包路径和类型名作为 namespace 和 type
func RegisterT[T any](fn any) error {
	namespace, typ, err := typeKey[T]()
	if err != nil {
		return err
	}
	return Register(namespace, typ, fn)
}

func MustRegisterT[T any](fn any) {
	if err := RegisterT[T](fn); err != nil {
		panic(err)
	}
}

func typeKey[T any]() (string, string, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return "", "", errors.Errorf("cannot determine package path or type name for %v", t)
	}
	return t.PkgPath(), t.Name(), nil
}

func New(namespace string, typ string, options any) (any, error) {
	v, ok := constructors.Load(key(namespace, typ))
	if !ok {
		return nil, errors.Errorf("constructor not found for %s", key(namespace, typ))
	}
	obj, err := v.(*constructor).call(options)
	if err != nil {
		return nil, errors.WithMessagef(err, "new %s failed", key(namespace, typ))
	}
	return obj, nil
}

func NewT[T any](options any) (T, error) {
	var zero T
	namespace, typ, err := typeKey[T]()
	if err != nil {
		return zero, err
	}
	obj, err := New(namespace, typ, options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(T)
	if !ok {
		return zero, errors.Errorf("created object %T is not %T", obj, zero)
	}
	return result, nil
}

// Build 按 TypeOptions 构造组件并断言为接口 I
// namespace 为空时使用 defaultNamespace
func Build[I any](options *TypeOptions, defaultNamespace string) (I, error) {
	var zero I
	if options.Empty() {
		return zero, errors.New("type is required")
	}
	namespace := options.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	obj, err := New(namespace, options.Type, options.Options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(I)
	if !ok {
		return zero, errors.Errorf("%s does not implement %v", key(namespace, options.Type), reflect.TypeOf((*I)(nil)).Elem())
	}
	return result, nil
}
