package repository

import (
	"context"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/cascade"
	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/log"
	"github.com/hatlonely/odm/log/logger"
	"github.com/hatlonely/odm/mapper"
	"github.com/hatlonely/odm/metacache"
	"github.com/hatlonely/odm/query"
	"github.com/hatlonely/odm/relation"
	"github.com/hatlonely/odm/schema"
	"github.com/hatlonely/odm/transport"
	"github.com/hatlonely/odm/wire"
)

const (
	apiPrefix        = "/api/v1"
	DefaultBatchSize = 25
)

type Options struct {
	// findBy/query/joinQuery 自动分页时每页的条数
	BatchSize int             `cfg:"batchSize" def:"25" validate:"gte=1"`
	Cascade   cascade.Options `cfg:"cascade"`
}

type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMapper(mp *mapper.Mapper) Option {
	return func(m *Manager) { m.mapper = mp }
}

func WithRegistry(r *relation.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithCache 实体类型定义的读缓存
func WithCache(c *metacache.Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// Manager 通过 Transport 读写实体，负责对象和线上记录之间的转换
// 除了 mapper 和 relation 的类型缓存之外没有共享的可变状态，可以并发使用
type Manager struct {
	transport transport.Transport
	mapper    *mapper.Mapper
	registry  *relation.Registry
	cache     *metacache.Cache
	logger    logger.Logger
	engine    *cascade.Engine
	batchSize atomic.Int64
}

func NewManagerWithOptions(t transport.Transport, options *Options, opts ...Option) *Manager {
	m := &Manager{
		transport: t,
		mapper:    mapper.Default(),
		registry:  relation.Default(),
		logger:    log.Default(),
	}
	m.batchSize.Store(DefaultBatchSize)
	var cascadeOptions *cascade.Options
	if options != nil {
		if options.BatchSize > 0 {
			m.batchSize.Store(int64(options.BatchSize))
		}
		cascadeOptions = &options.Cascade
	}
	for _, opt := range opts {
		opt(m)
	}
	m.engine = cascade.NewEngineWithOptions(&recordStore{m: m}, cascadeOptions,
		cascade.WithLogger(m.logger),
		cascade.WithMapper(m.mapper),
		cascade.WithRegistry(m.registry),
	)
	return m
}

func (m *Manager) Transport() transport.Transport {
	return m.transport
}

func (m *Manager) Mapper() *mapper.Mapper {
	return m.mapper
}

func (m *Manager) BatchSize() int {
	return int(m.batchSize.Load())
}

func (m *Manager) CascadeBatchSize() int {
	return m.engine.BatchSize()
}

// Reload 应用运行中可以修改的配置，只包括分页和级联的批大小
// 进行中的分页和级联继续使用开始时的批大小
func (m *Manager) Reload(options *Options) {
	if options == nil {
		return
	}
	if options.BatchSize > 0 {
		m.batchSize.Store(int64(options.BatchSize))
	}
	m.engine.SetBatchSize(options.Cascade.BatchSize)
}

// EntityType 返回 Go 类型对应的实体类型名
func (m *Manager) EntityType(t reflect.Type) (string, error) {
	model, err := m.mapper.Model(t)
	if err != nil {
		return "", err
	}
	return model.Definition.Name, nil
}

// Create 校验并写入 entity，写入后重新读取记录回填到 entity 中
func (m *Manager) Create(ctx context.Context, entity any) error {
	et, err := m.EntityType(reflect.TypeOf(entity))
	if err != nil {
		return err
	}
	if err := m.mapper.Validate(entity); err != nil {
		return err
	}
	rec, err := m.mapper.MapFromObject(entity)
	if err != nil {
		return err
	}

	var created wire.Record
	if err := m.call(ctx, http.MethodPost, recordsPath(et), rec, &created); err != nil {
		return err
	}
	if created.ID.IsNull() {
		return &errs.ApiError{
			Status:   http.StatusOK,
			Code:     errs.CodeInternal,
			Category: errs.CategoryOf(errs.CodeInternal),
			Message:  "create response has no id",
			Details:  map[string]any{"entityType": et},
		}
	}
	m.logger.DebugContext(ctx, "entity created", "entityType", et, "id", created.ID.Key())

	fetched, err := m.getRecord(ctx, et, created.ID)
	if err != nil {
		return err
	}
	return m.mapper.MapInto(fetched, entity)
}

// GetByID 读取一条记录并转换为 t 类型的实例指针
func (m *Manager) GetByID(ctx context.Context, t reflect.Type, id any) (any, error) {
	et, err := m.EntityType(t)
	if err != nil {
		return nil, err
	}
	idv, err := toID(et, id)
	if err != nil {
		return nil, err
	}
	rec, err := m.getRecord(ctx, et, idv)
	if err != nil {
		return nil, err
	}
	return m.mapper.MapToObject(rec, t)
}

// Update 只发送字段部分，更新后重新读取记录回填到 entity 中
func (m *Manager) Update(ctx context.Context, entity any) error {
	et, err := m.EntityType(reflect.TypeOf(entity))
	if err != nil {
		return err
	}
	if err := m.mapper.Validate(entity); err != nil {
		return err
	}
	rec, err := m.mapper.MapFromObject(entity)
	if err != nil {
		return err
	}
	if rec.ID.IsNull() {
		return &errs.ValidationError{EntityType: et, Fields: map[string]string{"id": "is required"}}
	}

	if err := m.call(ctx, http.MethodPut, recordPath(et, rec.ID), wire.Record{Fields: rec.Fields}, nil); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "entity updated", "entityType", et, "id", rec.ID.Key())

	fetched, err := m.getRecord(ctx, et, rec.ID)
	if err != nil {
		return err
	}
	return m.mapper.MapInto(fetched, entity)
}

type deleteOptions struct {
	cascade bool
	report  *cascade.Report
}

type DeleteOption func(*deleteOptions)

// WithoutCascade 只删除实体本身
func WithoutCascade() DeleteOption {
	return func(o *deleteOptions) { o.cascade = false }
}

// WithReport 收集级联删除的每一步结果
func WithReport(report *cascade.Report) DeleteOption {
	return func(o *deleteOptions) { o.report = report }
}

// Delete 默认先级联删除依赖实体，返回存储端是否确认删除了 entity
// 依赖实体删除失败不影响返回值，通过 WithReport 查看
func (m *Manager) Delete(ctx context.Context, entity any, opts ...DeleteOption) (bool, error) {
	o := deleteOptions{cascade: true}
	for _, opt := range opts {
		opt(&o)
	}

	et, err := m.EntityType(reflect.TypeOf(entity))
	if err != nil {
		return false, err
	}
	if o.cascade {
		report := o.report
		if report == nil {
			report = &cascade.Report{}
		}
		deleted, err := m.engine.Delete(ctx, entity, report)
		if failed := report.Failed(); len(failed) != 0 {
			m.logger.WarnContext(ctx, "cascade finished with failures", "entityType", et, "failed", len(failed))
		}
		return deleted, err
	}

	id, err := m.mapper.ID(entity)
	if err != nil {
		return false, err
	}
	if id.IsNull() {
		return false, &errs.ValidationError{EntityType: et, Fields: map[string]string{"id": "is required"}}
	}
	return m.deleteRecord(ctx, et, id)
}

// DeleteByID 不级联，需要级联时先 GetByID 再 Delete
func (m *Manager) DeleteByID(ctx context.Context, t reflect.Type, id any) (bool, error) {
	et, err := m.EntityType(t)
	if err != nil {
		return false, err
	}
	idv, err := toID(et, id)
	if err != nil {
		return false, err
	}
	return m.deleteRecord(ctx, et, idv)
}

type findOptions struct {
	orderBy   string
	orderDesc bool
	limit     *int
	offset    int
}

type FindOption func(*findOptions)

// OrderBy 只支持单个字段排序
func OrderBy(field string, desc bool) FindOption {
	return func(o *findOptions) {
		o.orderBy = field
		o.orderDesc = desc
	}
}

func Limit(n int) FindOption {
	return func(o *findOptions) { o.limit = &n }
}

func Offset(n int) FindOption {
	return func(o *findOptions) { o.offset = n }
}

// FindBy 按字段相等条件查询，未指定 limit 时分批读取全部结果
func (m *Manager) FindBy(ctx context.Context, t reflect.Type, criteria map[string]any, opts ...FindOption) ([]any, error) {
	o := findOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	et, err := m.EntityType(t)
	if err != nil {
		return nil, err
	}

	q := criteriaQuery(et, criteria).WithOffset(o.offset)
	if o.orderBy != "" {
		q = q.WithOrder(o.orderBy, o.orderDesc)
	}
	if o.limit != nil {
		q = q.WithLimit(*o.limit)
	}
	return m.Query(ctx, t, q)
}

// Count 使用独立的 count 请求，不读取记录
func (m *Manager) Count(ctx context.Context, t reflect.Type, criteria map[string]any) (int64, error) {
	et, err := m.EntityType(t)
	if err != nil {
		return 0, err
	}
	return m.RawCount(ctx, criteriaQuery(et, criteria))
}

// Query q 的实体类型必须和 t 一致
func (m *Manager) Query(ctx context.Context, t reflect.Type, q query.Options) ([]any, error) {
	et, err := m.EntityType(t)
	if err != nil {
		return nil, err
	}
	if q.EntityType() != et {
		return nil, errs.NewArgumentError("query targets entity type %q but %s maps to %q", q.EntityType(), t, et)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	records, err := m.fetch(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	return m.hydrate(ctx, records, t, nil)
}

// JoinQuery 在 Query 的基础上用 join 结果填充同名的关系字段
func (m *Manager) JoinQuery(ctx context.Context, t reflect.Type, jq query.JoinOptions) ([]any, error) {
	model, err := m.mapper.Model(t)
	if err != nil {
		return nil, err
	}
	et := model.Definition.Name
	if jq.EntityType() != et {
		return nil, errs.NewArgumentError("join query targets entity type %q but %s maps to %q", jq.EntityType(), t, et)
	}
	if err := jq.Validate(); err != nil {
		return nil, err
	}
	joins := jq.Joins()
	for _, j := range joins {
		if _, ok := model.FieldByName(j.As()); ok || j.As() == "id" {
			return nil, errs.NewArgumentError("join alias %q collides with field of entity type %s", j.As(), et)
		}
	}

	records, err := m.fetch(ctx, jq.Query(), joins)
	if err != nil {
		return nil, err
	}
	return m.hydrate(ctx, records, t, joins)
}

// RawQuery 只发送一次请求，不做自动分页和对象转换
func (m *Manager) RawQuery(ctx context.Context, q query.Options, joins ...query.Join) (*wire.QueryResponse, error) {
	if len(joins) == 0 {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	} else if err := query.NewJoinQuery(q).WithJoin(joins...).Validate(); err != nil {
		return nil, err
	}
	return m.page(ctx, q, joins)
}

func (m *Manager) RawCount(ctx context.Context, q query.Options) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	var resp wire.CountResponse
	if err := m.call(ctx, http.MethodPost, apiPrefix+"/count", q.ToWire(), &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Migrate 将实体结构体的定义推送到存储端
func (m *Manager) Migrate(ctx context.Context, entities ...any) error {
	for _, entity := range entities {
		def, err := m.mapper.Definition(reflect.TypeOf(entity))
		if err != nil {
			return err
		}
		if err := m.call(ctx, http.MethodPost, apiPrefix+"/entities", def.ToWire(), nil); err != nil {
			return errors.WithMessagef(err, "migrate entity type %s", def.Name)
		}
		if m.cache != nil {
			if err := m.cache.Put(ctx, def); err != nil {
				m.logger.WarnContext(ctx, "cache entity definition failed", "entityType", def.Name, "error", err)
			}
		}
		m.logger.InfoContext(ctx, "entity type migrated", "entityType", def.Name, "fields", len(def.Fields))
	}
	return nil
}

// EntityDefinition 读取存储端的实体类型定义，配置了缓存时优先读缓存
func (m *Manager) EntityDefinition(ctx context.Context, name string) (*schema.EntityDefinition, error) {
	if m.cache == nil {
		return m.loadDefinition(ctx, name)
	}
	return m.cache.Get(ctx, name, m.loadDefinition)
}

func (m *Manager) loadDefinition(ctx context.Context, name string) (*schema.EntityDefinition, error) {
	var resp wire.EntityTypeResponse
	if err := m.call(ctx, http.MethodGet, apiPrefix+"/entities/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return schema.FromWire(resp), nil
}

func (m *Manager) ListEntityTypes(ctx context.Context) ([]*schema.EntityDefinition, error) {
	var resp wire.EntityTypeList
	if err := m.call(ctx, http.MethodGet, apiPrefix+"/entities", nil, &resp); err != nil {
		return nil, err
	}
	defs := make([]*schema.EntityDefinition, 0, len(resp.Data))
	for _, d := range resp.Data {
		defs = append(defs, schema.FromWire(d))
	}
	return defs, nil
}

// fetch 按 BatchSize 分页读取，每次请求 min(剩余条数, BatchSize) 条
// 某一页不足请求的条数或者剩余条数为 0 时结束
func (m *Manager) fetch(ctx context.Context, q query.Options, joins []query.Join) ([]wire.Record, error) {
	limit, bounded := q.Limit()
	offset := q.Offset()

	batch := m.BatchSize()
	var out []wire.Record
	for {
		size := batch
		if bounded && limit < size {
			size = limit
		}
		resp, err := m.page(ctx, q.WithOffset(offset).WithLimit(size), joins)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		offset += len(resp.Data)
		if bounded {
			limit -= len(resp.Data)
		}
		if len(resp.Data) < size || (bounded && limit <= 0) {
			return out, nil
		}
	}
}

func (m *Manager) page(ctx context.Context, q query.Options, joins []query.Join) (*wire.QueryResponse, error) {
	path, body := apiPrefix+"/query", q.ToWire()
	if len(joins) != 0 {
		path, body = apiPrefix+"/query/join", query.NewJoinQuery(q).WithJoin(joins...).ToWire()
	}
	var resp wire.QueryResponse
	if err := m.call(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (m *Manager) getRecord(ctx context.Context, et string, id wire.Value) (wire.Record, error) {
	var rec wire.Record
	if err := m.call(ctx, http.MethodGet, recordPath(et, id), nil, &rec); err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			if nf.EntityType == "" {
				nf.EntityType = et
			}
			if nf.ID == nil {
				nf.ID = id.Interface()
			}
		}
		return wire.Record{}, err
	}
	return rec, nil
}

func (m *Manager) deleteRecord(ctx context.Context, et string, id wire.Value) (bool, error) {
	var resp wire.DeleteResponse
	if err := m.call(ctx, http.MethodDelete, recordPath(et, id), nil, &resp); err != nil {
		return false, err
	}
	m.logger.DebugContext(ctx, "entity deleted", "entityType", et, "id", id.Key(), "deleted", resp.Deleted)
	return resp.Deleted, nil
}

func (m *Manager) call(ctx context.Context, method, path string, body any, out any) error {
	data, err := m.transport.Request(ctx, method, path, body, nil)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := wire.Decode(data, out); err != nil {
		return &errs.ApiError{
			Status:   http.StatusOK,
			Code:     errs.CodeInternal,
			Category: errs.CategoryOf(errs.CodeInternal),
			Message:  errors.Wrapf(err, "decode %s %s response", method, path).Error(),
		}
	}
	return nil
}

func recordsPath(et string) string {
	return apiPrefix + "/entities/" + url.PathEscape(et) + "/records"
}

func recordPath(et string, id wire.Value) string {
	return recordsPath(et) + "/" + url.PathEscape(id.Key())
}

// criteriaQuery 按字段名排序生成 eq 过滤条件，保证请求内容稳定
func criteriaQuery(et string, criteria map[string]any) query.Options {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := query.New(et)
	for _, k := range keys {
		q = q.WithFilter(k, query.OpEq, criteria[k])
	}
	return q
}

func toID(et string, id any) (wire.Value, error) {
	v, err := wire.FromInterface(id)
	if err != nil {
		return wire.Null(), errs.NewArgumentError("invalid %s id %v: %v", et, id, err)
	}
	switch v.Kind() {
	case wire.KindInt:
		return v, nil
	case wire.KindString:
		if s, _ := v.AsString(); s != "" {
			return v, nil
		}
	}
	return wire.Null(), errs.NewArgumentError("invalid %s id %v", et, id)
}
