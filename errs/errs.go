package errs

import (
	"fmt"
	"sort"
	"strings"
)

// Category 存储端错误码的分类，由错误码的千位前缀决定
type Category int

const (
	CategoryUnknown    Category = 0
	CategoryValidation Category = 1
	CategoryIntegrity  Category = 2
	CategoryNotFound   Category = 3
	CategoryAuth       Category = 4
	CategoryInternal   Category = 5
)

// 存储端约定的错误码
const (
	CodeInvalidRequest     = 1001
	CodeUniqueViolation    = 2001
	CodeRecordNotFound     = 3001
	CodeEntityTypeNotFound = 3002
	CodeInternal           = 5001
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryIntegrity:
		return "integrity"
	case CategoryNotFound:
		return "not_found"
	case CategoryAuth:
		return "auth"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// CategoryOf 根据错误码的数字前缀推导分类
func CategoryOf(code int) Category {
	if code <= 0 {
		return CategoryUnknown
	}
	for code >= 10 {
		code /= 10
	}
	if code > int(CategoryInternal) {
		return CategoryUnknown
	}
	return Category(code)
}

// DefinitionError 实体类型缺少必要的声明
type DefinitionError struct {
	Type   string
	Reason string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid entity definition for %s: %s", e.Type, e.Reason)
}

func NewDefinitionError(typ string, format string, args ...any) *DefinitionError {
	return &DefinitionError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

// MappingError 线上记录的结构不符合预期
type MappingError struct {
	EntityType string
	Reason     string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map record of %s: %s", e.EntityType, e.Reason)
}

func NewMappingError(entityType string, format string, args ...any) *MappingError {
	return &MappingError{EntityType: entityType, Reason: fmt.Sprintf(format, args...)}
}

// ValidationError 本地校验失败，Fields 中每个字段对应一条违规信息
type ValidationError struct {
	EntityType string
	Fields     map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("validation failed for %s: %s", e.EntityType, strings.Join(parts, "; "))
}

// ArgumentError 查询参数不合法或者实体类型不匹配
type ArgumentError struct {
	Problems []string
}

func (e *ArgumentError) Error() string {
	return "invalid argument: " + strings.Join(e.Problems, "; ")
}

func NewArgumentError(format string, args ...any) *ArgumentError {
	return &ArgumentError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// NotFoundError 存储端找不到对应的记录或实体类型
type NotFoundError struct {
	EntityType string
	ID         any
	Message    string
}

func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s %v not found", e.EntityType, e.ID)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s not found", e.EntityType)
}

// IntegrityConstraintError 唯一性约束冲突，重试不会成功
type IntegrityConstraintError struct {
	Field   string
	Value   any
	Message string
}

func (e *IntegrityConstraintError) Error() string {
	return fmt.Sprintf("integrity constraint violated on %s=%v: %s", e.Field, e.Value, e.Message)
}

// ApiError 其他存储端返回的错误
type ApiError struct {
	Status   int
	Code     int
	DBCode   string
	Category Category
	Message  string
	Details  map[string]any
}

func (e *ApiError) Error() string {
	if e.DBCode != "" {
		return fmt.Sprintf("store error (status=%d code=%d db_code=%s category=%s): %s", e.Status, e.Code, e.DBCode, e.Category, e.Message)
	}
	return fmt.Sprintf("store error (status=%d code=%d category=%s): %s", e.Status, e.Code, e.Category, e.Message)
}

// TransportError 网络或传输层失败
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
