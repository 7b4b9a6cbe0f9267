package errs

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse 存储端错误响应 {"message","code","db_code","details"}
type ErrorResponse struct {
	Message string         `json:"message"`
	Code    int            `json:"code"`
	DBCode  string         `json:"db_code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// FromResponse 将非 2xx 响应归类为最具体的错误类型
func FromResponse(status int, body []byte) error {
	var resp ErrorResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			resp.Message = string(body)
		}
	}
	if resp.Message == "" {
		resp.Message = http.StatusText(status)
	}

	category := CategoryOf(resp.Code)

	switch {
	case category == CategoryIntegrity:
		field, _ := resp.Details["field"].(string)
		return &IntegrityConstraintError{
			Field:   field,
			Value:   resp.Details["value"],
			Message: resp.Message,
		}
	case category == CategoryNotFound || status == http.StatusNotFound:
		entityType, _ := resp.Details["entityType"].(string)
		return &NotFoundError{
			EntityType: entityType,
			ID:         resp.Details["id"],
			Message:    resp.Message,
		}
	}

	return &ApiError{
		Status:   status,
		Code:     resp.Code,
		DBCode:   resp.DBCode,
		Category: category,
		Message:  resp.Message,
		Details:  resp.Details,
	}
}
