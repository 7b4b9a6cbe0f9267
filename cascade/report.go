package cascade

import (
	"strings"
	"sync"

	"github.com/hatlonely/odm/wire"
)

// Visited 一次级联删除中已经访问过的 (entityType, id)，值表示是否已经从存储中删除
type Visited map[string]bool

func NewVisited() Visited {
	return Visited{}
}

func visitKey(entityType string, id wire.Value) string {
	return entityType + ":" + id.Key()
}

// Add 返回 false 表示已经访问过
func (v Visited) Add(entityType string, id wire.Value) bool {
	k := visitKey(entityType, id)
	if _, ok := v[k]; ok {
		return false
	}
	v[k] = false
	return true
}

func (v Visited) Has(entityType string, id wire.Value) bool {
	_, ok := v[visitKey(entityType, id)]
	return ok
}

func (v Visited) MarkDeleted(entityType string, id wire.Value) {
	v[visitKey(entityType, id)] = true
}

func (v Visited) Deleted(entityType string, id wire.Value) bool {
	return v[visitKey(entityType, id)]
}

// Step 对一个依赖实体的处理结果
type Step struct {
	// 触发这一步的实体和关系属性
	Parent   string
	Property string

	EntityType string
	ID         wire.Value

	Deleted bool
	// 已经在本次级联中访问过
	Skipped bool
	Err     error
}

// Report 累积级联删除的每一步，失败的步骤不会中断其他分支
type Report struct {
	mu    sync.Mutex
	steps []Step
}

func (r *Report) add(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *Report) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.steps...)
}

func (r *Report) Deleted() []Step {
	return r.filter(func(s Step) bool { return s.Deleted })
}

func (r *Report) Failed() []Step {
	return r.filter(func(s Step) bool { return s.Err != nil })
}

func (r *Report) filter(fn func(Step) bool) []Step {
	var out []Step
	for _, s := range r.Steps() {
		if fn(s) {
			out = append(out, s)
		}
	}
	return out
}

// Err 汇总失败的步骤，全部成功时返回 nil
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &Error{Failed: failed}
}

// Error 级联删除中部分依赖删除失败
type Error struct {
	Failed []Step
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, s := range e.Failed {
		parts = append(parts, s.EntityType+" "+s.ID.Key()+": "+s.Err.Error())
	}
	return "cascade delete partially failed: " + strings.Join(parts, "; ")
}
