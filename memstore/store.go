package memstore

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/ref"
	"github.com/hatlonely/odm/schema"
	"github.com/hatlonely/odm/uid"
	"github.com/hatlonely/odm/uid/intgen"
	"github.com/hatlonely/odm/uid/strgen"
	"github.com/hatlonely/odm/wire"
)

// Error 存储端的错误响应
type Error struct {
	Status int
	errs.ErrorResponse
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %d: %s", e.Status, e.Code, e.Message)
}

func newError(status, code int, details map[string]any, format string, args ...any) *Error {
	return &Error{Status: status, ErrorResponse: errs.ErrorResponse{
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Details: details,
	}}
}

type Options struct {
	// 自动创建的实体类型使用的主键生成策略
	IDGenerator string `cfg:"idGenerator" def:"uuid" validate:"omitempty,oneof=auto_increment uuid cuid custom"`

	// Sequence auto_increment 使用的整数序列，为空时每个实体类型一个从 1 开始的序列
	Sequence *ref.TypeOptions `cfg:"sequence"`

	// UUID uuid 生成策略的配置，为空时使用 v4
	UUID *ref.TypeOptions `cfg:"uuid"`
}

type table struct {
	def      wire.EntityTypeResponse
	records  []wire.Record
	sequence intgen.IntGenerator
}

func (t *table) index(id string) int {
	for i, rec := range t.records {
		if rec.ID.Key() == id {
			return i
		}
	}
	return -1
}

// Store 进程内的文档存储，实现和远端存储相同的接口语义
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	// 保持实体类型的定义顺序
	names []string

	idGenerator schema.IDGenerator
	sequence    intgen.IntGenerator
	uuid        strgen.StrGenerator
	cuid        strgen.StrGenerator
}

func NewStoreWithOptions(options *Options) (*Store, error) {
	if options == nil {
		options = &Options{}
	}
	s := &Store{
		tables:      map[string]*table{},
		idGenerator: schema.IDGeneratorUUID,
		uuid:        strgen.NewUUIDGeneratorWithOptions(&strgen.UUIDOptions{Version: "v4", WithHyphens: true}),
		cuid:        strgen.NewULIDGenerator(),
	}
	if options.IDGenerator != "" {
		g := schema.IDGenerator(options.IDGenerator)
		if !g.Valid() {
			return nil, errors.Errorf("unsupported id generator %q", options.IDGenerator)
		}
		s.idGenerator = g
	}
	if !options.Sequence.Empty() {
		sequence, err := uid.NewIntGeneratorWithOptions(options.Sequence)
		if err != nil {
			return nil, errors.WithMessage(err, "create sequence failed")
		}
		s.sequence = sequence
	}
	if !options.UUID.Empty() {
		g, err := uid.NewStrGeneratorWithOptions(options.UUID)
		if err != nil {
			return nil, errors.WithMessage(err, "create uuid generator failed")
		}
		s.uuid = g
	}
	return s, nil
}

func New() *Store {
	s, _ := NewStoreWithOptions(nil)
	return s
}

func (s *Store) newTable(def wire.EntityTypeResponse) *table {
	t := &table{def: def, sequence: s.sequence}
	if t.sequence == nil {
		t.sequence = intgen.NewSequenceGeneratorWithOptions(&intgen.SequenceOptions{Start: 1})
	}
	return t
}

// Define 创建或替换实体类型定义，已有记录保留
func (s *Store) Define(def wire.EntityTypeResponse) (wire.EntityTypeResponse, error) {
	if def.Name == "" {
		return def, newError(http.StatusBadRequest, errs.CodeInvalidRequest, map[string]any{"field": "name"}, "entity type name is required")
	}
	if def.IDGenerator == "" {
		def.IDGenerator = string(s.idGenerator)
	}
	if !schema.IDGenerator(def.IDGenerator).Valid() {
		return def, newError(http.StatusBadRequest, errs.CodeInvalidRequest, map[string]any{"field": "idGenerator"}, "unsupported id generator %q", def.IDGenerator)
	}
	for _, f := range def.Fields {
		if !schema.FieldType(f.Type).Valid() {
			return def, newError(http.StatusBadRequest, errs.CodeInvalidRequest, map[string]any{"field": f.Name}, "unsupported field type %q", f.Type)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[def.Name]; ok {
		t.def = def
		return def, nil
	}
	s.tables[def.Name] = s.newTable(def)
	s.names = append(s.names, def.Name)
	return def, nil
}

func (s *Store) EntityTypes() wire.EntityTypeList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := wire.EntityTypeList{Data: make([]wire.EntityTypeResponse, 0, len(s.names))}
	for _, name := range s.names {
		list.Data = append(list.Data, s.tables[name].def)
	}
	return list
}

func (s *Store) EntityType(name string) (wire.EntityTypeResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return wire.EntityTypeResponse{}, newError(http.StatusNotFound, errs.CodeEntityTypeNotFound,
			map[string]any{"entityType": name}, "entity type %s not found", name)
	}
	return t.def, nil
}

// ensure 调用方需要持有写锁
func (s *Store) ensure(entityType string) *table {
	t, ok := s.tables[entityType]
	if !ok {
		t = s.newTable(wire.EntityTypeResponse{Name: entityType, IDGenerator: string(s.idGenerator), Fields: []wire.FieldSpec{}})
		s.tables[entityType] = t
		s.names = append(s.names, entityType)
	}
	return t
}

func (s *Store) Create(entityType string, rec wire.Record) (wire.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.ensure(entityType)
	fields := cloneFields(rec.Fields)
	if err := checkRequired(t.def, fields); err != nil {
		return wire.Record{}, err
	}

	id := rec.ID
	if id.IsNull() {
		var err error
		if id, err = s.nextID(t); err != nil {
			return wire.Record{}, err
		}
	} else {
		if i, ok := id.AsInt(); ok {
			if o, ok := t.sequence.(interface{ Observe(int64) }); ok {
				o.Observe(i)
			}
		}
	}
	if t.index(id.Key()) >= 0 {
		return wire.Record{}, newError(http.StatusConflict, errs.CodeUniqueViolation,
			map[string]any{"field": "id", "value": id.Interface()}, "duplicate id %s", id.Key())
	}
	if err := checkUnique(t, "", fields); err != nil {
		return wire.Record{}, err
	}

	created := wire.Record{ID: id, Fields: fields}
	t.records = append(t.records, created)
	return cloneRecord(created), nil
}

func (s *Store) nextID(t *table) (wire.Value, error) {
	switch schema.IDGenerator(t.def.IDGenerator) {
	case schema.IDGeneratorAutoIncrement:
		v, err := t.sequence.Generate()
		if err != nil {
			return wire.Null(), newError(http.StatusInternalServerError, errs.CodeInternal, nil, "generate id failed: %v", err)
		}
		return wire.Int(v), nil
	case schema.IDGeneratorCUID:
		return wire.String(s.cuid.Generate()), nil
	case schema.IDGeneratorCustom:
		return wire.Null(), newError(http.StatusBadRequest, errs.CodeInvalidRequest,
			map[string]any{"field": "id"}, "id is required for entity type %s", t.def.Name)
	}
	return wire.String(s.uuid.Generate()), nil
}

func (s *Store) Get(entityType, id string) (wire.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[entityType]
	if !ok {
		return wire.Record{}, recordNotFound(entityType, id)
	}
	i := t.index(id)
	if i < 0 {
		return wire.Record{}, recordNotFound(entityType, id)
	}
	return cloneRecord(t.records[i]), nil
}

// Update 合并字段，值为 null 的字段被删除
func (s *Store) Update(entityType, id string, rec wire.Record) (wire.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[entityType]
	if !ok {
		return wire.Record{}, recordNotFound(entityType, id)
	}
	i := t.index(id)
	if i < 0 {
		return wire.Record{}, recordNotFound(entityType, id)
	}

	fields := cloneFields(t.records[i].Fields)
	for k, v := range rec.Fields {
		if v.IsNull() {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	if err := checkRequired(t.def, fields); err != nil {
		return wire.Record{}, err
	}
	if err := checkUnique(t, id, fields); err != nil {
		return wire.Record{}, err
	}
	t.records[i].Fields = fields
	return cloneRecord(t.records[i]), nil
}

func (s *Store) Delete(entityType, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[entityType]
	if !ok {
		return false, nil
	}
	i := t.index(id)
	if i < 0 {
		return false, nil
	}
	t.records = append(t.records[:i:i], t.records[i+1:]...)
	return true, nil
}

func (s *Store) Query(req wire.QueryRequest) (wire.QueryResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(req)
	if err != nil {
		return wire.QueryResponse{}, err
	}
	total := int64(len(matched))
	return wire.QueryResponse{Data: paginate(matched, req.Offset, req.Limit), Total: &total}, nil
}

func (s *Store) Count(req wire.QueryRequest) (wire.CountResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(req)
	if err != nil {
		return wire.CountResponse{}, err
	}
	return wire.CountResponse{Count: int64(len(matched))}, nil
}

// match 调用方需要持有读锁，返回过滤、join、排序后的完整结果
func (s *Store) match(req wire.QueryRequest) ([]wire.Record, error) {
	if req.EntityType == "" {
		return nil, newError(http.StatusBadRequest, errs.CodeInvalidRequest, map[string]any{"field": "entityType"}, "entityType is required")
	}
	if req.Offset < 0 || (req.Limit != nil && *req.Limit < 0) {
		return nil, newError(http.StatusBadRequest, errs.CodeInvalidRequest, nil, "offset and limit must not be negative")
	}
	t, ok := s.tables[req.EntityType]
	if !ok {
		return nil, nil
	}

	var matched []wire.Record
	for _, rec := range t.records {
		ok, err := matchAll(rec, req.Filters, req.FuzzyOpts)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, cloneRecord(rec))
		}
	}

	if len(req.Joins) > 0 {
		var err error
		if matched, err = s.join(matched, req.Joins, req.FuzzyOpts); err != nil {
			return nil, err
		}
	}

	if req.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(fieldOf(matched[i], req.OrderBy), fieldOf(matched[j], req.OrderBy), req.OrderDesc)
		})
	}
	return matched, nil
}

func paginate(records []wire.Record, offset int, limit *int) []wire.Record {
	out := []wire.Record{}
	if offset >= len(records) {
		return out
	}
	records = records[offset:]
	if limit != nil && *limit < len(records) {
		records = records[:*limit]
	}
	return append(out, records...)
}

// less null 和不可比较的值总是排在最后
func less(a, b wire.Value, desc bool) bool {
	if a.IsNull() || b.IsNull() {
		return !a.IsNull() && b.IsNull()
	}
	c, ok := wire.Compare(a, b)
	if !ok {
		return false
	}
	if desc {
		return c > 0
	}
	return c < 0
}

func fieldOf(rec wire.Record, name string) wire.Value {
	if name == "id" {
		return rec.ID
	}
	v, _ := rec.Field(name)
	return v
}

func checkRequired(def wire.EntityTypeResponse, fields map[string]wire.Value) error {
	var missing []string
	for _, f := range def.Fields {
		if !f.Required {
			continue
		}
		if v, ok := fields[f.Name]; !ok || v.IsNull() {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return newError(http.StatusBadRequest, errs.CodeInvalidRequest,
		map[string]any{"field": missing[0], "fields": missing}, "required field %s is missing", missing[0])
}

// checkUnique selfID 为正在更新的记录
func checkUnique(t *table, selfID string, fields map[string]wire.Value) error {
	for _, f := range t.def.Fields {
		if !f.Unique {
			continue
		}
		v, ok := fields[f.Name]
		if !ok || v.IsNull() {
			continue
		}
		for _, rec := range t.records {
			if selfID != "" && rec.ID.Key() == selfID {
				continue
			}
			if other, ok := rec.Field(f.Name); ok && other.Equal(v) {
				return newError(http.StatusConflict, errs.CodeUniqueViolation,
					map[string]any{"field": f.Name, "value": v.Interface()},
					"duplicate value %s for unique field %s", v.Key(), f.Name)
			}
		}
	}
	return nil
}

func recordNotFound(entityType, id string) *Error {
	return newError(http.StatusNotFound, errs.CodeRecordNotFound,
		map[string]any{"entityType": entityType, "id": id}, "%s %s not found", entityType, id)
}

func cloneFields(fields map[string]wire.Value) map[string]wire.Value {
	out := make(map[string]wire.Value, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRecord(rec wire.Record) wire.Record {
	return wire.Record{ID: rec.ID, Fields: cloneFields(rec.Fields)}
}
