// Package navigate drives an agent along a planned route, one waypoint at a time.
package navigate

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/world"
)

// Phase is a waypoint controller state.
type Phase int

const (
	Approaching Phase = iota
	Clearing
	Securing
	Arrived
	TimedOut
)

func (p Phase) String() string {
	switch p {
	case Approaching:
		return "APPROACHING"
	case Clearing:
		return "OBSTACLE_CLEARING"
	case Securing:
		return "FOOTING_SECURING"
	case Arrived:
		return "ARRIVED"
	case TimedOut:
		return "TIMED_OUT"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

// Terminal reports whether the phase ends a waypoint.
func (p Phase) Terminal() bool { return p == Arrived || p == TimedOut }

// Outcome reports how one waypoint ended.
type Outcome struct {
	Index      int            `json:"index"`
	Target     world.Position `json:"target"`
	Phase      Phase          `json:"-"`
	Result     string         `json:"result"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
	Iterations int            `json:"iterations"`
	Cleared    int            `json:"cleared"`
	Secured    int            `json:"secured"`
	Final      world.Vec3     `json:"final"`
}

// Summary totals a whole route execution.
type Summary struct {
	Waypoints int           `json:"waypoints"`
	Arrived   int           `json:"arrived"`
	TimedOut  int           `json:"timed_out"`
	Cleared   int           `json:"cleared"`
	Secured   int           `json:"secured"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Recorder observes finished waypoints. Implementations must not block.
type Recorder interface {
	RecordWaypoint(Outcome)
}

// Recorders fans one outcome out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordWaypoint(o Outcome) {
	for _, r := range rs {
		if r != nil {
			r.RecordWaypoint(o)
		}
	}
}

type Option func(*Navigator)

func WithClock(c Clock) Option { return func(n *Navigator) { n.clock = c } }

func WithLogger(l *log.Logger) Option { return func(n *Navigator) { n.log = l } }

func WithRecorder(r Recorder) Option {
	return func(n *Navigator) {
		if r != nil {
			n.rec = r
		}
	}
}

// Navigator steers the agent through waypoints using synchronous world-control calls.
// It is not safe for concurrent use; one Navigator drives one agent.
type Navigator struct {
	ctl   control.WorldControl
	cfg   Config
	clock Clock
	log   *log.Logger
	rec   Recorder
}

func New(ctl control.WorldControl, cfg Config, opts ...Option) *Navigator {
	n := &Navigator{
		ctl:   ctl,
		cfg:   cfg.withDefaults(),
		clock: SystemClock(),
		log:   log.New(io.Discard, "", 0),
		rec:   Recorders(nil),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Navigator) Config() Config { return n.cfg }

// Execute visits every route position in order. Timed-out waypoints are skipped, not
// fatal; only world-control failures abort the run.
func (n *Navigator) Execute(ctx context.Context, route pathfind.Route) (Summary, error) {
	var sum Summary
	began := n.clock.Now()
	for i, target := range route.Positions {
		out, err := n.Waypoint(ctx, i, target)
		if err != nil {
			sum.Elapsed = n.clock.Now().Sub(began)
			return sum, fmt.Errorf("waypoint %d (%s): %w", i, target, err)
		}
		sum.Waypoints++
		sum.Cleared += out.Cleared
		sum.Secured += out.Secured
		if out.Phase == Arrived {
			sum.Arrived++
		} else {
			sum.TimedOut++
		}
	}
	sum.Elapsed = n.clock.Now().Sub(began)
	return sum, nil
}

// state is owned by one Waypoint call.
type state struct {
	phase    Phase
	started  time.Time
	deadline time.Time
	target   world.Position

	// cell is the block being cleared or secured.
	cell world.Position

	last     world.Vec3
	haveLast bool
}

// Waypoint runs the per-waypoint state machine until the agent arrives or the waypoint
// budget runs out.
func (n *Navigator) Waypoint(ctx context.Context, index int, target world.Position) (Outcome, error) {
	now := n.clock.Now()
	st := &state{
		phase:    Approaching,
		started:  now,
		deadline: now.Add(n.cfg.WaypointTimeout),
		target:   target,
	}
	out := Outcome{Index: index, Target: target}

	if err := n.ctl.SetForward(ctx, false); err != nil {
		return out, err
	}

	for !st.phase.Terminal() {
		var err error
		switch st.phase {
		case Approaching:
			out.Iterations++
			st.phase, err = n.approach(ctx, st)
		case Clearing:
			st.phase, err = n.clearCell(ctx, st)
			if err == nil && st.phase == Approaching {
				out.Cleared++
			}
		case Securing:
			st.phase, err = n.secureCell(ctx, st)
			if err == nil && st.phase == Approaching {
				out.Secured++
			}
		}
		if err != nil {
			return out, err
		}
	}

	if err := n.finish(ctx, st); err != nil {
		return out, err
	}

	out.Phase = st.phase
	out.Result = st.phase.String()
	out.Elapsed = n.clock.Now().Sub(st.started)
	out.Final = st.last
	if st.phase == TimedOut {
		n.log.Printf("waypoint %d %s timed out after %s (last=%s); moving on", index, target, out.Elapsed.Round(time.Millisecond), st.last)
	}
	n.rec.RecordWaypoint(out)
	return out, nil
}

func (n *Navigator) approach(ctx context.Context, st *state) (Phase, error) {
	pos, err := n.ctl.Position(ctx)
	if err != nil {
		return st.phase, err
	}
	st.last, st.haveLast = pos, true

	for _, c := range [2]world.Position{st.target, st.target.Up()} {
		id, err := n.ctl.BlockAt(ctx, c)
		if err != nil {
			return st.phase, err
		}
		if !id.IsAir() {
			st.cell = c
			return Clearing, nil
		}
	}

	below := st.target.Down()
	id, err := n.ctl.BlockAt(ctx, below)
	if err != nil {
		return st.phase, err
	}
	if id.IsAir() {
		st.cell = below
		return Securing, nil
	}

	aim := AimAt(pos, st.target)
	if aim.Within(n.cfg.HorizontalTolerance, n.cfg.VerticalTolerance) {
		return Arrived, nil
	}

	if err := n.ctl.Look(ctx, aim.Yaw, aim.Pitch); err != nil {
		return st.phase, err
	}
	if err := n.ctl.SetForward(ctx, true); err != nil {
		return st.phase, err
	}
	if err := n.ctl.SetJump(ctx, aim.DY > n.cfg.JumpThreshold); err != nil {
		return st.phase, err
	}

	if n.clock.Now().Sub(st.started) > n.cfg.WaypointTimeout {
		return TimedOut, nil
	}
	return Approaching, nil
}

func (n *Navigator) clearCell(ctx context.Context, st *state) (Phase, error) {
	if n.expired(st) {
		return TimedOut, nil
	}
	if err := n.ctl.BreakBlock(ctx, st.cell); err != nil {
		return st.phase, err
	}
	ok, err := n.await(ctx, st, func(id world.BlockID) bool { return id.IsAir() })
	if err != nil {
		return st.phase, err
	}
	if !ok {
		n.log.Printf("waypoint %s: break at %s not confirmed before deadline", st.target, st.cell)
		return TimedOut, nil
	}
	return Approaching, nil
}

func (n *Navigator) secureCell(ctx context.Context, st *state) (Phase, error) {
	if n.expired(st) {
		return TimedOut, nil
	}
	want := n.cfg.SupportBlock
	if err := n.ctl.PlaceBlock(ctx, st.cell, want); err != nil {
		return st.phase, err
	}
	ok, err := n.await(ctx, st, func(id world.BlockID) bool { return id == want })
	if err != nil {
		return st.phase, err
	}
	if !ok {
		n.log.Printf("waypoint %s: place %s at %s not confirmed before deadline", st.target, want, st.cell)
		return TimedOut, nil
	}
	return Approaching, nil
}

// await polls the pending cell until done accepts its block or the waypoint deadline passes.
func (n *Navigator) await(ctx context.Context, st *state, done func(world.BlockID) bool) (bool, error) {
	for {
		id, err := n.ctl.BlockAt(ctx, st.cell)
		if err != nil {
			return false, err
		}
		if done(id) {
			return true, nil
		}
		if n.expired(st) {
			return false, nil
		}
		if err := n.clock.Sleep(ctx, n.cfg.PollInterval); err != nil {
			return false, control.Wrap(control.OpBlockAt, control.At(st.cell), err)
		}
	}
}

func (n *Navigator) expired(st *state) bool {
	return n.clock.Now().After(st.deadline)
}

// finish releases movement keys and makes one last look correction.
func (n *Navigator) finish(ctx context.Context, st *state) error {
	if err := n.ctl.SetForward(ctx, false); err != nil {
		return err
	}
	if err := n.ctl.SetJump(ctx, false); err != nil {
		return err
	}
	if !st.haveLast {
		return nil
	}
	aim := AimAt(st.last, st.target)
	return n.ctl.Look(ctx, aim.Yaw, aim.Pitch)
}
