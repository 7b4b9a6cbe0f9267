package intgen

import (
	"sync/atomic"
)

type SequenceOptions struct {
	// 第一个生成的值
	Start int64 `cfg:"start" def:"1"`
}

// SequenceGenerator 进程内自增序列
type SequenceGenerator struct {
	next atomic.Int64
}

func NewSequenceGeneratorWithOptions(options *SequenceOptions) *SequenceGenerator {
	g := &SequenceGenerator{}
	start := int64(1)
	if options != nil && options.Start != 0 {
		start = options.Start
	}
	g.next.Store(start - 1)
	return g
}

func (g *SequenceGenerator) Generate() (int64, error) {
	return g.next.Add(1), nil
}

// Observe 保证后续生成的值大于 v，用于写入了显式 id 的场景
func (g *SequenceGenerator) Observe(v int64) {
	for {
		cur := g.next.Load()
		if v <= cur || g.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
