package pathfind

import "voxelpilot.ai/internal/world"

// node lives in the per-search arena; parent is an arena index, -1 for the start.
type node struct {
	pos    world.Position
	g      int
	h      int
	parent int
	build  int
	time   int
}

func (n node) f() int { return n.g + n.h }

// entry is what the heap orders. Only f and seq carry ordering semantics.
type entry struct {
	idx int
	f   int
	seq int
}

// less orders by ascending f, then by insertion order.
func less(a, b entry) bool {
	if a.f != b.f {
		return a.f < b.f
	}
	return a.seq < b.seq
}

type openSet []entry

func (o openSet) Len() int           { return len(o) }
func (o openSet) Less(i, j int) bool { return less(o[i], o[j]) }
func (o openSet) Swap(i, j int)      { o[i], o[j] = o[j], o[i] }

func (o *openSet) Push(x any) { *o = append(*o, x.(entry)) }

func (o *openSet) Pop() any {
	old := *o
	n := len(old)
	e := old[n-1]
	*o = old[:n-1]
	return e
}
