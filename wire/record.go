package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Record 存储端的实体记录 {"id": ..., "fields": {...}}
// ID 为 Null 时序列化结果不包含 id，表示创建
type Record struct {
	ID     Value
	Fields map[string]Value
}

type recordJSON struct {
	ID     *Value           `json:"id,omitempty"`
	Fields map[string]Value `json:"fields"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{Fields: r.Fields}
	if out.Fields == nil {
		out.Fields = map[string]Value{}
	}
	if !r.ID.IsNull() {
		id := r.ID
		out.ID = &id
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.ID = Null()
	if in.ID != nil {
		r.ID = *in.ID
	}
	r.Fields = in.Fields
	if r.Fields == nil {
		r.Fields = map[string]Value{}
	}
	return nil
}

// Field 读取字段值，不存在时返回 Null
func (r Record) Field(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// QueryResponse {"data": [...], "total"?: int}
type QueryResponse struct {
	Data  []Record `json:"data"`
	Total *int64   `json:"total,omitempty"`
}

// CountResponse {"count": int}
type CountResponse struct {
	Count int64 `json:"count"`
}

// DeleteResponse {"deleted": bool}
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// FieldSpec 实体类型 schema 中的单个字段
type FieldSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Indexed  bool   `json:"indexed"`
	Required bool   `json:"required"`
	Nullable bool   `json:"nullable"`
	Unique   bool   `json:"unique"`
}

// EntityTypeResponse 实体类型 schema {"name","fields","idGenerator"}
type EntityTypeResponse struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	IDGenerator string      `json:"idGenerator"`
	Fields      []FieldSpec `json:"fields"`
}

// EntityTypeList GET /api/v1/entities 的响应
type EntityTypeList struct {
	Data []EntityTypeResponse `json:"data"`
}

// Decode 解析响应体，空响应体视为错误
func Decode(body []byte, v any) error {
	if len(body) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "json.Unmarshal failed")
	}
	return nil
}
