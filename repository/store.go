package repository

import (
	"context"

	"github.com/hatlonely/odm/query"
	"github.com/hatlonely/odm/wire"
)

// recordStore 以记录为单位访问存储端，供级联删除使用
type recordStore struct {
	m *Manager
}

func (s *recordStore) Query(ctx context.Context, q query.Options) ([]wire.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	resp, err := s.m.page(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (s *recordStore) Get(ctx context.Context, entityType string, id wire.Value) (wire.Record, error) {
	return s.m.getRecord(ctx, entityType, id)
}

func (s *recordStore) Delete(ctx context.Context, entityType string, id wire.Value) (bool, error) {
	return s.m.deleteRecord(ctx, entityType, id)
}
