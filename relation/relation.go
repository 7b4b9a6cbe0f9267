package relation

import (
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/schema"
)

// Kind 关系基数
type Kind string

const (
	OneToOne   Kind = "one_to_one"
	OneToMany  Kind = "one_to_many"
	ManyToOne  Kind = "many_to_one"
	ManyToMany Kind = "many_to_many"
)

// CascadePolicy 删除时的级联策略
type CascadePolicy string

const (
	CascadeNone   CascadePolicy = "none"
	CascadeRemove CascadePolicy = "remove"
)

// Relation 单个关系属性的声明
//
//	type Post struct {
//		schema.Entity `odm:"post"`
//		ID       string     `odm:"id"`
//		Comments []*Comment `rel:"one_to_many,mappedBy=post,cascade=remove"`
//	}
type Relation struct {
	Property     string
	GoName       string
	Index        []int
	Kind         Kind
	Target       reflect.Type
	TargetEntity string
	JoinColumn   string
	JoinTable    string
	MappedBy     string
	InversedBy   string
	Cascade      CascadePolicy
}

func (r *Relation) IsCollection() bool {
	return r.Kind == OneToMany || r.Kind == ManyToMany
}

func (r *Relation) CascadeRemove() bool {
	return r.Cascade == CascadeRemove
}

// Metadata 一个实体类型的所有关系，按声明顺序排列
type Metadata struct {
	Type      reflect.Type
	Entity    string
	Relations []*Relation
}

func (m *Metadata) Get(property string) (*Relation, bool) {
	for _, r := range m.Relations {
		if r.Property == property {
			return r, true
		}
	}
	return nil, false
}

// Lookup 按属性名或 Go 字段名查找，不区分大小写
func (m *Metadata) Lookup(name string) (*Relation, bool) {
	for _, r := range m.Relations {
		if strings.EqualFold(r.Property, name) || strings.EqualFold(r.GoName, name) {
			return r, true
		}
	}
	return nil, false
}

// Registry 按类型缓存关系声明，解析后只读
type Registry struct {
	mu    sync.RWMutex
	cache map[reflect.Type]*Metadata
}

func NewRegistry() *Registry {
	return &Registry{cache: map[reflect.Type]*Metadata{}}
}

var defaultRegistry = NewRegistry()

func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) Metadata(t reflect.Type) (*Metadata, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.RLock()
	md, ok := r.cache[t]
	r.mu.RUnlock()
	if ok {
		return md, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if md, ok := r.cache[t]; ok {
		return md, nil
	}
	md, err := parse(t)
	if err != nil {
		return nil, err
	}
	r.cache[t] = md
	return md, nil
}

func parse(t reflect.Type) (*Metadata, error) {
	model, err := schema.Parse(t)
	if err != nil {
		return nil, err
	}
	md := &Metadata{Type: model.Type, Entity: model.Definition.Name}
	for i := 0; i < model.Type.NumField(); i++ {
		sf := model.Type.Field(i)
		tag, ok := sf.Tag.Lookup(schema.RelTag)
		if !ok || tag == "-" {
			continue
		}
		rel, err := parseField(model, sf, tag)
		if err != nil {
			return nil, err
		}
		md.Relations = append(md.Relations, rel)
	}
	return md, nil
}

// parseField 解析 `rel:"<kind>,mappedBy=..,inversedBy=..,joinColumn=..,joinTable=..,cascade=none|remove"`
func parseField(model *schema.Model, sf reflect.StructField, tag string) (*Relation, error) {
	owner := model.Type.String()
	if !sf.IsExported() {
		return nil, errs.NewDefinitionError(owner, "relation field %s must be exported", sf.Name)
	}

	parts := strings.Split(tag, ",")
	rel := &Relation{
		Property: lowerFirst(sf.Name),
		GoName:   sf.Name,
		Index:    sf.Index,
		Kind:     Kind(strings.TrimSpace(parts[0])),
		Cascade:  CascadeNone,
	}
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "mappedBy":
			rel.MappedBy = value
		case "inversedBy":
			rel.InversedBy = value
		case "joinColumn":
			rel.JoinColumn = value
		case "joinTable":
			rel.JoinTable = value
		case "cascade":
			rel.Cascade = CascadePolicy(value)
		default:
			return nil, errs.NewDefinitionError(owner, "relation %s: unknown option %q", sf.Name, key)
		}
	}

	ft := sf.Type
	switch rel.Kind {
	case OneToMany, ManyToMany:
		if ft.Kind() != reflect.Slice {
			return nil, errs.NewDefinitionError(owner, "relation %s: %s requires a slice field, got %s", sf.Name, rel.Kind, ft)
		}
		ft = ft.Elem()
	case OneToOne, ManyToOne:
		if ft.Kind() == reflect.Slice {
			return nil, errs.NewDefinitionError(owner, "relation %s: %s requires a single reference, got %s", sf.Name, rel.Kind, ft)
		}
	default:
		return nil, errs.NewDefinitionError(owner, "relation %s: unknown relation type %q", sf.Name, rel.Kind)
	}
	for ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}
	if !schema.IsEntity(ft) {
		return nil, errs.NewDefinitionError(owner, "relation %s: target %s is not an entity", sf.Name, ft)
	}
	rel.Target = ft

	if ft == model.Type {
		rel.TargetEntity = model.Definition.Name
	} else {
		target, err := schema.Parse(ft)
		if err != nil {
			return nil, err
		}
		rel.TargetEntity = target.Definition.Name
	}

	switch rel.Cascade {
	case CascadeNone, CascadeRemove:
	default:
		return nil, errs.NewDefinitionError(owner, "relation %s: unknown cascade policy %q", sf.Name, rel.Cascade)
	}

	switch rel.Kind {
	case OneToMany:
		if rel.MappedBy == "" {
			return nil, errs.NewDefinitionError(owner, "relation %s: one_to_many requires mappedBy", sf.Name)
		}
	case ManyToOne:
		if rel.JoinColumn == "" {
			rel.JoinColumn = rel.Property + "Id"
		}
	case OneToOne:
		if rel.MappedBy != "" && rel.InversedBy != "" {
			return nil, errs.NewDefinitionError(owner, "relation %s: mappedBy and inversedBy are exclusive", sf.Name)
		}
		if rel.MappedBy == "" && rel.JoinColumn == "" {
			rel.JoinColumn = rel.Property + "Id"
		}
	case ManyToMany:
		if rel.CascadeRemove() {
			return nil, errs.NewDefinitionError(owner, "relation %s: cascade remove is not supported for many_to_many", sf.Name)
		}
	}

	return rel, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
