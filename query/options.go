package query

import (
	"fmt"

	"github.com/hatlonely/odm/errs"
)

// FuzzyOptions 模糊匹配参数
type FuzzyOptions struct {
	Threshold   float64
	MaxDistance int
}

// Options 单实体类型查询，值类型，With* 方法返回修改后的副本
type Options struct {
	entityType string
	filters    []Filter
	limit      *int
	offset     int
	orderBy    string
	orderDesc  bool
	fuzzy      *FuzzyOptions
}

func New(entityType string) Options {
	return Options{entityType: entityType}
}

func (o Options) clone() Options {
	c := o
	c.filters = append([]Filter(nil), o.filters...)
	if o.limit != nil {
		limit := *o.limit
		c.limit = &limit
	}
	if o.fuzzy != nil {
		fuzzy := *o.fuzzy
		c.fuzzy = &fuzzy
	}
	return c
}

func (o Options) WithFilter(field string, op Operator, value any) Options {
	c := o.clone()
	c.filters = append(c.filters, NewFilter(field, op, value))
	return c
}

func (o Options) WithFilters(filters ...Filter) Options {
	c := o.clone()
	c.filters = append(c.filters, filters...)
	return c
}

func (o Options) WithLimit(limit int) Options {
	c := o.clone()
	c.limit = &limit
	return c
}

// WithoutLimit 去掉 limit，表示不限制返回数量
func (o Options) WithoutLimit() Options {
	c := o.clone()
	c.limit = nil
	return c
}

func (o Options) WithOffset(offset int) Options {
	c := o.clone()
	c.offset = offset
	return c
}

func (o Options) WithOrder(field string, desc bool) Options {
	c := o.clone()
	c.orderBy = field
	c.orderDesc = desc
	return c
}

func (o Options) WithFuzzy(threshold float64, maxDistance int) Options {
	c := o.clone()
	c.fuzzy = &FuzzyOptions{Threshold: threshold, MaxDistance: maxDistance}
	return c
}

func (o Options) EntityType() string { return o.entityType }
func (o Options) Offset() int        { return o.offset }
func (o Options) OrderBy() string    { return o.orderBy }
func (o Options) OrderDesc() bool    { return o.orderDesc }

func (o Options) Filters() []Filter {
	return append([]Filter(nil), o.filters...)
}

func (o Options) Limit() (int, bool) {
	if o.limit == nil {
		return 0, false
	}
	return *o.limit, true
}

func (o Options) Fuzzy() (FuzzyOptions, bool) {
	if o.fuzzy == nil {
		return FuzzyOptions{}, false
	}
	return *o.fuzzy, true
}

// ToWire 可选字段未设置时不输出
func (o Options) ToWire() map[string]any {
	out := map[string]any{
		"entityType": o.entityType,
		"filters":    filtersToWire(o.filters),
		"offset":     o.offset,
	}
	if o.limit != nil {
		out["limit"] = *o.limit
	}
	if o.orderBy != "" {
		out["orderBy"] = o.orderBy
	}
	if o.orderDesc {
		out["orderDesc"] = true
	}
	if o.fuzzy != nil {
		out["fuzzyOpts"] = map[string]any{
			"threshold":   o.fuzzy.Threshold,
			"maxDistance": o.fuzzy.MaxDistance,
		}
	}
	return out
}

// Validate 发送前的参数检查，返回包含所有问题的 ArgumentError
func (o Options) Validate() error {
	if problems := o.problems(); len(problems) != 0 {
		return &errs.ArgumentError{Problems: problems}
	}
	return nil
}

func (o Options) problems() []string {
	var out []string
	if o.entityType == "" {
		out = append(out, "entityType is empty")
	}
	for i, f := range o.filters {
		out = append(out, f.problems(fmt.Sprintf("filters[%d]", i))...)
	}
	if o.limit != nil && *o.limit < 0 {
		out = append(out, "limit must not be negative")
	}
	if o.offset < 0 {
		out = append(out, "offset must not be negative")
	}
	return out
}
