package query

import (
	"fmt"
	"sort"

	"github.com/hatlonely/odm/errs"
)

type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
)

// SelectStrategy 每行根记录挂载一条还是全部关联记录
type SelectStrategy string

const (
	SelectFirst SelectStrategy = "first"
	SelectAll   SelectStrategy = "all"
)

// Join 单个 join 子句，值类型
type Join struct {
	entityType     string
	localField     string
	foreignField   string
	as             string
	typ            JoinType
	selectStrategy SelectStrategy
	filters        []Filter
	include        map[string]struct{}
	exclude        map[string]struct{}
}

// NewJoin 默认 left join，挂载全部关联记录
func NewJoin(entityType, localField, foreignField, as string) Join {
	return Join{
		entityType:     entityType,
		localField:     localField,
		foreignField:   foreignField,
		as:             as,
		typ:            JoinLeft,
		selectStrategy: SelectAll,
	}
}

func (j Join) clone() Join {
	c := j
	c.filters = append([]Filter(nil), j.filters...)
	c.include = copySet(j.include)
	c.exclude = copySet(j.exclude)
	return c
}

func (j Join) WithType(typ JoinType) Join {
	c := j.clone()
	c.typ = typ
	return c
}

func (j Join) WithSelect(strategy SelectStrategy) Join {
	c := j.clone()
	c.selectStrategy = strategy
	return c
}

func (j Join) WithFilter(field string, op Operator, value any) Join {
	c := j.clone()
	c.filters = append(c.filters, NewFilter(field, op, value))
	return c
}

func (j Join) WithInclude(fields ...string) Join {
	c := j.clone()
	if c.include == nil {
		c.include = map[string]struct{}{}
	}
	for _, f := range fields {
		c.include[f] = struct{}{}
	}
	return c
}

func (j Join) WithExclude(fields ...string) Join {
	c := j.clone()
	if c.exclude == nil {
		c.exclude = map[string]struct{}{}
	}
	for _, f := range fields {
		c.exclude[f] = struct{}{}
	}
	return c
}

func (j Join) EntityType() string             { return j.entityType }
func (j Join) LocalField() string             { return j.localField }
func (j Join) ForeignField() string           { return j.foreignField }
func (j Join) As() string                     { return j.as }
func (j Join) Type() JoinType                 { return j.typ }
func (j Join) SelectStrategy() SelectStrategy { return j.selectStrategy }
func (j Join) Filters() []Filter              { return append([]Filter(nil), j.filters...) }
func (j Join) IncludeFields() []string        { return sortedSet(j.include) }
func (j Join) ExcludeFields() []string        { return sortedSet(j.exclude) }

func (j Join) ToWire() map[string]any {
	out := map[string]any{
		"entityType":     j.entityType,
		"localField":     j.localField,
		"foreignField":   j.foreignField,
		"as":             j.as,
		"type":           string(j.typ),
		"selectStrategy": string(j.selectStrategy),
	}
	if len(j.filters) != 0 {
		out["filters"] = filtersToWire(j.filters)
	}
	if len(j.include) != 0 {
		out["includeFields"] = sortedSet(j.include)
	}
	if len(j.exclude) != 0 {
		out["excludeFields"] = sortedSet(j.exclude)
	}
	return out
}

func (j Join) problems(prefix string) []string {
	var out []string
	if j.entityType == "" {
		out = append(out, prefix+": entityType is empty")
	}
	if j.localField == "" {
		out = append(out, prefix+": localField is empty")
	}
	if j.foreignField == "" {
		out = append(out, prefix+": foreignField is empty")
	}
	if j.as == "" {
		out = append(out, prefix+": as is empty")
	}
	if j.typ != JoinInner && j.typ != JoinLeft {
		out = append(out, prefix+": unknown join type "+string(j.typ))
	}
	if j.selectStrategy != SelectFirst && j.selectStrategy != SelectAll {
		out = append(out, prefix+": unknown select strategy "+string(j.selectStrategy))
	}
	for i, f := range j.filters {
		out = append(out, f.problems(fmt.Sprintf("%s.filters[%d]", prefix, i))...)
	}
	return out
}

// JoinOptions 带 join 子句的查询
type JoinOptions struct {
	root  Options
	joins []Join
}

func NewJoinQuery(options Options) JoinOptions {
	return JoinOptions{root: options.clone()}
}

func (o JoinOptions) clone() JoinOptions {
	c := JoinOptions{root: o.root.clone(), joins: make([]Join, 0, len(o.joins))}
	for _, j := range o.joins {
		c.joins = append(c.joins, j.clone())
	}
	return c
}

func (o JoinOptions) WithJoin(joins ...Join) JoinOptions {
	c := o.clone()
	c.joins = append(c.joins, joins...)
	return c
}

// WithQuery 替换根查询部分，保留 join 子句
func (o JoinOptions) WithQuery(options Options) JoinOptions {
	c := o.clone()
	c.root = options.clone()
	return c
}

// Query 返回根查询部分
func (o JoinOptions) Query() Options {
	return o.root.clone()
}

func (o JoinOptions) EntityType() string { return o.root.entityType }

func (o JoinOptions) Joins() []Join {
	return append([]Join(nil), o.joins...)
}

func (o JoinOptions) ToWire() map[string]any {
	out := o.root.ToWire()
	joins := make([]any, 0, len(o.joins))
	for _, j := range o.joins {
		joins = append(joins, j.ToWire())
	}
	out["joins"] = joins
	return out
}

// Validate 检查根查询和所有 join 子句，alias 重复也视为错误
func (o JoinOptions) Validate() error {
	problems := o.root.problems()
	seen := map[string]struct{}{}
	for i, j := range o.joins {
		prefix := fmt.Sprintf("joins[%d]", i)
		problems = append(problems, j.problems(prefix)...)
		if j.as == "" {
			continue
		}
		if _, ok := seen[j.as]; ok {
			problems = append(problems, prefix+": duplicate alias "+j.as)
		}
		seen[j.as] = struct{}{}
	}
	if len(problems) != 0 {
		return &errs.ArgumentError{Problems: problems}
	}
	return nil
}

func copySet(s map[string]struct{}) map[string]struct{} {
	if s == nil {
		return nil
	}
	c := make(map[string]struct{}, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

func sortedSet(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
