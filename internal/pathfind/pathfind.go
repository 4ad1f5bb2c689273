// Package pathfind plans routes through a voxel snapshot.
//
// The search is best-first on f = g + h with a Manhattan heuristic. Routes are optimal only
// on the plain unit-cost grid; once build or break surcharges apply they may not be.
package pathfind

import (
	"container/heap"
	"errors"

	"voxelpilot.ai/internal/world"
)

// ErrNoRoute reports that no route exists under the current obstruction and clearance rules.
var ErrNoRoute = errors.New("pathfind: no route")

// DefaultMaxExpansions caps a single search.
const DefaultMaxExpansions = 10_000_000

// Route is an ordered start..goal sequence of cells plus its cost breakdown.
type Route struct {
	Positions []world.Position `json:"positions"`
	BuildCost int              `json:"build_cost"`
	TimeCost  int              `json:"time_cost"`
	TotalCost int              `json:"total_cost"`
}

// Steps returns the number of moves in the route.
func (r Route) Steps() int {
	if len(r.Positions) == 0 {
		return 0
	}
	return len(r.Positions) - 1
}

func (r Route) Start() world.Position { return r.Positions[0] }
func (r Route) Goal() world.Position  { return r.Positions[len(r.Positions)-1] }

// Step is the surcharge for entering one cell.
type Step struct {
	Build int
	Time  int
}

// Cost is the scalar charge: one move plus surcharges.
func (s Step) Cost() int { return 1 + s.Build + s.Time }

// StepCost returns the charge for entering to, or false when the cell lacks head clearance.
//
// An air cell costs one build unit if it has no footing below. A solid cell costs one time
// unit for breaking it and never a build unit.
func StepCost(snap *world.Snapshot, to world.Position) (Step, bool) {
	if !snap.IsAir(to.Up()) {
		return Step{}, false
	}
	if snap.IsAir(to) {
		if snap.IsAir(to.Down()) {
			return Step{Build: 1}, true
		}
		return Step{}, true
	}
	return Step{Time: 1}, true
}

// Options bound a search. Zero values mean defaults.
type Options struct {
	// MaxRadius limits candidates to this Manhattan distance from the start; 0 disables.
	MaxRadius int
	// MaxExpansions caps the number of expanded nodes; 0 means DefaultMaxExpansions.
	MaxExpansions int
}

// Stats describes the work one search did.
type Stats struct {
	Expanded int  `json:"expanded"`
	Pushed   int  `json:"pushed"`
	Stale    int  `json:"stale"`
	Capped   bool `json:"capped,omitempty"`
}

type Result struct {
	Route Route
	Found bool
	Stats Stats
}

type Planner struct {
	opts Options
}

func New(opts Options) *Planner {
	if opts.MaxExpansions <= 0 {
		opts.MaxExpansions = DefaultMaxExpansions
	}
	if opts.MaxRadius < 0 {
		opts.MaxRadius = 0
	}
	return &Planner{opts: opts}
}

func (p *Planner) Options() Options { return p.opts }

// FindRoute plans with default options.
func FindRoute(snap *world.Snapshot, start, goal world.Position) (Route, bool) {
	res := New(Options{}).Search(snap, start, goal)
	return res.Route, res.Found
}

// FindRoute plans from start to goal. The snapshot is only read.
func (p *Planner) FindRoute(snap *world.Snapshot, start, goal world.Position) (Route, bool) {
	res := p.Search(snap, start, goal)
	return res.Route, res.Found
}

// Fixed expansion order keeps ties deterministic.
var moves = [6]world.Position{
	{X: 1}, {X: -1}, {Z: 1}, {Z: -1}, {Y: 1}, {Y: -1},
}

// Search runs one planning call and reports search stats alongside the route.
func (p *Planner) Search(snap *world.Snapshot, start, goal world.Position) Result {
	var res Result

	arena := make([]node, 0, 256)
	best := make(map[world.Position]int, 256)
	open := &openSet{}

	push := func(n node) {
		idx := len(arena)
		arena = append(arena, n)
		heap.Push(open, entry{idx: idx, f: n.f(), seq: idx})
		res.Stats.Pushed++
	}

	best[start] = 0
	push(node{pos: start, g: 0, h: start.Manhattan(goal), parent: -1})

	for open.Len() > 0 {
		e := heap.Pop(open).(entry)
		cur := arena[e.idx]
		if cur.g > best[cur.pos] {
			res.Stats.Stale++
			continue
		}
		if cur.pos == goal {
			res.Found = true
			res.Route = reconstruct(arena, e.idx)
			return res
		}
		if res.Stats.Expanded >= p.opts.MaxExpansions {
			res.Stats.Capped = true
			return res
		}
		res.Stats.Expanded++

		for _, d := range moves {
			np := cur.pos.Add(d.X, d.Y, d.Z)
			if !snap.InBounds(np) {
				continue
			}
			if p.opts.MaxRadius > 0 && np.Manhattan(start) > p.opts.MaxRadius {
				continue
			}
			step, ok := StepCost(snap, np)
			if !ok {
				continue
			}
			ng := cur.g + step.Cost()
			if old, seen := best[np]; seen && ng >= old {
				continue
			}
			best[np] = ng
			push(node{
				pos:    np,
				g:      ng,
				h:      np.Manhattan(goal),
				parent: e.idx,
				build:  cur.build + step.Build,
				time:   cur.time + step.Time,
			})
		}
	}
	return res
}

func reconstruct(arena []node, idx int) Route {
	last := arena[idx]
	var path []world.Position
	for i := idx; i >= 0; i = arena[i].parent {
		path = append(path, arena[i].pos)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return Route{
		Positions: path,
		BuildCost: last.build,
		TimeCost:  last.time,
		TotalCost: last.g,
	}
}
