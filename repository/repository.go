package repository

import (
	"context"
	"reflect"

	"github.com/hatlonely/odm/query"
)

// Repository 单个实体类型的类型化入口
//
//	products, err := repository.New[Product](manager)
//	p, err := products.Create(ctx, &Product{Name: "Widget", Price: 19.99})
type Repository[T any] struct {
	manager    *Manager
	typ        reflect.Type
	entityType string
}

func New[T any](m *Manager) (*Repository[T], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	et, err := m.EntityType(typ)
	if err != nil {
		return nil, err
	}
	return &Repository[T]{manager: m, typ: typ, entityType: et}, nil
}

func MustNew[T any](m *Manager) *Repository[T] {
	r, err := New[T](m)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Repository[T]) EntityType() string {
	return r.entityType
}

// NewQuery 返回目标为本实体类型的空查询
func (r *Repository[T]) NewQuery() query.Options {
	return query.New(r.entityType)
}

func (r *Repository[T]) Create(ctx context.Context, entity *T) (*T, error) {
	if err := r.manager.Create(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *Repository[T]) GetByID(ctx context.Context, id any) (*T, error) {
	obj, err := r.manager.GetByID(ctx, r.typ, id)
	if err != nil {
		return nil, err
	}
	return obj.(*T), nil
}

func (r *Repository[T]) Update(ctx context.Context, entity *T) (*T, error) {
	if err := r.manager.Update(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *Repository[T]) Delete(ctx context.Context, entity *T, opts ...DeleteOption) (bool, error) {
	return r.manager.Delete(ctx, entity, opts...)
}

func (r *Repository[T]) DeleteByID(ctx context.Context, id any) (bool, error) {
	return r.manager.DeleteByID(ctx, r.typ, id)
}

func (r *Repository[T]) FindBy(ctx context.Context, criteria map[string]any, opts ...FindOption) ([]*T, error) {
	objs, err := r.manager.FindBy(ctx, r.typ, criteria, opts...)
	if err != nil {
		return nil, err
	}
	return cast[T](objs), nil
}

func (r *Repository[T]) Count(ctx context.Context, criteria map[string]any) (int64, error) {
	return r.manager.Count(ctx, r.typ, criteria)
}

func (r *Repository[T]) Query(ctx context.Context, q query.Options) ([]*T, error) {
	objs, err := r.manager.Query(ctx, r.typ, q)
	if err != nil {
		return nil, err
	}
	return cast[T](objs), nil
}

func (r *Repository[T]) JoinQuery(ctx context.Context, jq query.JoinOptions) ([]*T, error) {
	objs, err := r.manager.JoinQuery(ctx, r.typ, jq)
	if err != nil {
		return nil, err
	}
	return cast[T](objs), nil
}

func cast[T any](objs []any) []*T {
	out := make([]*T, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.(*T))
	}
	return out
}
