package memstore

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/wire"
)

// 未指定 fuzzyOpts 时的默认值
const (
	defaultFuzzyThreshold   = 0.6
	defaultFuzzyMaxDistance = 2
)

func matchAll(rec wire.Record, filters []wire.FilterSpec, fuzzy *wire.FuzzySpec) (bool, error) {
	for _, f := range filters {
		ok, err := matchOne(fieldOf(rec, f.Field), f, fuzzy)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func invalidFilter(f wire.FilterSpec, format string, args ...any) *Error {
	return newError(http.StatusBadRequest, errs.CodeInvalidRequest,
		map[string]any{"field": f.Field, "operator": f.Operator}, format, args...)
}

func matchOne(v wire.Value, f wire.FilterSpec, fuzzy *wire.FuzzySpec) (bool, error) {
	if f.Field == "" || f.Operator == "" {
		return false, invalidFilter(f, "filter field and operator are required")
	}

	switch f.Operator {
	case "eq":
		return v.Equal(f.Value), nil
	case "neq":
		return !v.Equal(f.Value), nil
	case "gt", "gte", "lt", "lte":
		c, ok := wire.Compare(v, f.Value)
		if !ok {
			return false, nil
		}
		switch f.Operator {
		case "gt":
			return c > 0, nil
		case "gte":
			return c >= 0, nil
		case "lt":
			return c < 0, nil
		}
		return c <= 0, nil
	case "contains":
		if items, ok := v.AsArray(); ok {
			return containsValue(items, f.Value), nil
		}
		s, ok1 := v.AsString()
		sub, ok2 := f.Value.AsString()
		return ok1 && ok2 && strings.Contains(s, sub), nil
	case "startswith":
		s, ok1 := v.AsString()
		prefix, ok2 := f.Value.AsString()
		return ok1 && ok2 && strings.HasPrefix(s, prefix), nil
	case "endswith":
		s, ok1 := v.AsString()
		suffix, ok2 := f.Value.AsString()
		return ok1 && ok2 && strings.HasSuffix(s, suffix), nil
	case "in":
		candidates, ok := f.Value.AsArray()
		if !ok {
			return false, invalidFilter(f, "operator in requires an array value")
		}
		return containsValue(candidates, v), nil
	case "fuzzy":
		s, ok1 := v.AsString()
		pattern, ok2 := f.Value.AsString()
		return ok1 && ok2 && fuzzyMatch(s, pattern, fuzzy), nil
	case "array_contains":
		items, ok := v.AsArray()
		return ok && containsValue(items, f.Value), nil
	case "array_contains_any", "array_contains_all":
		wanted, ok := f.Value.AsArray()
		if !ok {
			return false, invalidFilter(f, "operator %s requires an array value", f.Operator)
		}
		items, ok := v.AsArray()
		if !ok {
			return false, nil
		}
		for _, w := range wanted {
			found := containsValue(items, w)
			if f.Operator == "array_contains_any" && found {
				return true, nil
			}
			if f.Operator == "array_contains_all" && !found {
				return false, nil
			}
		}
		return f.Operator == "array_contains_all", nil
	}
	return false, invalidFilter(f, "unsupported operator %q", f.Operator)
}

func containsValue(items []wire.Value, v wire.Value) bool {
	for _, item := range items {
		if item.Equal(v) {
			return true
		}
	}
	return false
}

// fuzzyMatch 忽略大小写，包含子串或者编辑距离在阈值内都算匹配
func fuzzyMatch(s, pattern string, opts *wire.FuzzySpec) bool {
	threshold, maxDistance := defaultFuzzyThreshold, defaultFuzzyMaxDistance
	if opts != nil {
		threshold, maxDistance = opts.Threshold, opts.MaxDistance
	}
	s, pattern = strings.ToLower(s), strings.ToLower(pattern)
	if strings.Contains(s, pattern) {
		return true
	}

	d := levenshtein(s, pattern)
	if d > maxDistance {
		return false
	}
	n := utf8.RuneCountInString(s)
	if m := utf8.RuneCountInString(pattern); m > n {
		n = m
	}
	if n == 0 {
		return true
	}
	return 1-float64(d)/float64(n) >= threshold
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// join 调用方需要持有读锁
// 关联结果以 {"id","fields"} 的形式写入根记录的 as 字段，first 为单个对象，all 为数组
func (s *Store) join(roots []wire.Record, joins []wire.JoinSpec, fuzzy *wire.FuzzySpec) ([]wire.Record, error) {
	for _, j := range joins {
		if j.EntityType == "" || j.LocalField == "" || j.ForeignField == "" || j.As == "" {
			return nil, newError(http.StatusBadRequest, errs.CodeInvalidRequest,
				map[string]any{"as": j.As}, "join entityType, localField, foreignField and as are required")
		}
	}

	out := make([]wire.Record, 0, len(roots))
	for _, root := range roots {
		keep := true
		for _, j := range joins {
			related, err := s.related(root, j, fuzzy)
			if err != nil {
				return nil, err
			}
			if len(related) == 0 && j.Type == "inner" {
				keep = false
				break
			}
			if j.SelectStrategy == "first" {
				if len(related) == 0 {
					root.Fields[j.As] = wire.Null()
				} else {
					root.Fields[j.As] = related[0]
				}
				continue
			}
			root.Fields[j.As] = wire.Array(related...)
		}
		if keep {
			out = append(out, root)
		}
	}
	return out, nil
}

func (s *Store) related(root wire.Record, j wire.JoinSpec, fuzzy *wire.FuzzySpec) ([]wire.Value, error) {
	local := fieldOf(root, j.LocalField)
	if local.IsNull() {
		return nil, nil
	}
	t, ok := s.tables[j.EntityType]
	if !ok {
		return nil, nil
	}

	var related []wire.Value
	for _, rec := range t.records {
		if !fieldOf(rec, j.ForeignField).Equal(local) {
			continue
		}
		ok, err := matchAll(rec, j.Filters, fuzzy)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		related = append(related, project(rec, j.IncludeFields, j.ExcludeFields))
		if j.SelectStrategy == "first" {
			break
		}
	}
	return related, nil
}

func project(rec wire.Record, include, exclude []string) wire.Value {
	fields := make(map[string]wire.Value, len(rec.Fields))
	if len(include) > 0 {
		for _, name := range include {
			if v, ok := rec.Fields[name]; ok {
				fields[name] = v
			}
		}
	} else {
		for k, v := range rec.Fields {
			fields[k] = v
		}
	}
	for _, name := range exclude {
		delete(fields, name)
	}
	return wire.Object(map[string]wire.Value{"id": rec.ID, "fields": wire.Object(fields)})
}
