package wire

// FilterSpec 查询条件 {"field","operator","value"}
type FilterSpec struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    Value  `json:"value"`
}

type FuzzySpec struct {
	Threshold   float64 `json:"threshold"`
	MaxDistance int     `json:"maxDistance"`
}

// JoinSpec join 子句
type JoinSpec struct {
	EntityType     string       `json:"entityType"`
	LocalField     string       `json:"localField"`
	ForeignField   string       `json:"foreignField"`
	As             string       `json:"as"`
	Type           string       `json:"type"`
	SelectStrategy string       `json:"selectStrategy"`
	Filters        []FilterSpec `json:"filters,omitempty"`
	IncludeFields  []string     `json:"includeFields,omitempty"`
	ExcludeFields  []string     `json:"excludeFields,omitempty"`
}

// QueryRequest 查询请求体，同时用于 count 和 join 查询
type QueryRequest struct {
	EntityType string       `json:"entityType"`
	Filters    []FilterSpec `json:"filters"`
	Offset     int          `json:"offset"`
	Limit      *int         `json:"limit,omitempty"`
	OrderBy    string       `json:"orderBy,omitempty"`
	OrderDesc  bool         `json:"orderDesc,omitempty"`
	FuzzyOpts  *FuzzySpec   `json:"fuzzyOpts,omitempty"`
	Joins      []JoinSpec   `json:"joins,omitempty"`
}
