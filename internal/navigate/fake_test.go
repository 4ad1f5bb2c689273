package navigate

import (
	"context"
	"errors"
	"time"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/world"
)

type manualClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type pendingEdit struct {
	to        world.BlockID
	remaining int
}

// scriptedWorld replays agent positions and applies block edits after a number of polls.
type scriptedWorld struct {
	clock *manualClock
	// tick is added to the clock on every Position call.
	tick time.Duration

	positions []world.Vec3
	posIdx    int

	// Cells at or below groundY read as stone unless overridden.
	groundY int
	blocks  map[world.Position]world.BlockID

	editDelay   int
	pending     map[world.Position]pendingEdit
	unbreakable map[world.BlockID]bool
	// placeAs, when set, is the block that lands instead of the one requested.
	placeAs world.BlockID
	// dropPlaces accepts place requests without ever applying them.
	dropPlaces bool

	failOp  string
	failErr error

	looks   [][2]float64
	forward []bool
	jump    []bool
	breaks  []world.Position
	places  []world.Position
	placed  []world.BlockID
}

func newScriptedWorld(clock *manualClock, positions ...world.Vec3) *scriptedWorld {
	return &scriptedWorld{
		clock:       clock,
		positions:   positions,
		groundY:     63,
		blocks:      map[world.Position]world.BlockID{},
		editDelay:   1,
		pending:     map[world.Position]pendingEdit{},
		unbreakable: map[world.BlockID]bool{world.Bedrock: true},
	}
}

func (w *scriptedWorld) fail(op string) error {
	if w.failOp == op {
		if w.failErr == nil {
			w.failErr = errors.New("boom")
		}
		return w.failErr
	}
	return nil
}

func (w *scriptedWorld) block(p world.Position) world.BlockID {
	if id, ok := w.blocks[p]; ok {
		return id
	}
	if p.Y <= w.groundY {
		return world.Stone
	}
	return world.Air
}

func (w *scriptedWorld) Position(ctx context.Context) (world.Vec3, error) {
	if err := w.fail(control.OpPosition); err != nil {
		return world.Vec3{}, control.Wrap(control.OpPosition, nil, err)
	}
	w.clock.now = w.clock.now.Add(w.tick)
	p := w.positions[w.posIdx]
	if w.posIdx < len(w.positions)-1 {
		w.posIdx++
	}
	return p, nil
}

func (w *scriptedWorld) BlockAt(ctx context.Context, pos world.Position) (world.BlockID, error) {
	if err := w.fail(control.OpBlockAt); err != nil {
		return "", control.Wrap(control.OpBlockAt, control.At(pos), err)
	}
	if e, ok := w.pending[pos]; ok {
		e.remaining--
		if e.remaining <= 0 {
			w.blocks[pos] = e.to
			delete(w.pending, pos)
		} else {
			w.pending[pos] = e
		}
	}
	return w.block(pos), nil
}

func (w *scriptedWorld) BreakBlock(ctx context.Context, pos world.Position) error {
	if err := w.fail(control.OpBreakBlock); err != nil {
		return control.Wrap(control.OpBreakBlock, control.At(pos), err)
	}
	w.breaks = append(w.breaks, pos)
	if w.unbreakable[w.block(pos)] {
		return nil
	}
	w.pending[pos] = pendingEdit{to: world.Air, remaining: w.editDelay}
	return nil
}

func (w *scriptedWorld) PlaceBlock(ctx context.Context, pos world.Position, block world.BlockID) error {
	if err := w.fail(control.OpPlaceBlock); err != nil {
		return control.Wrap(control.OpPlaceBlock, control.At(pos), err)
	}
	w.places = append(w.places, pos)
	w.placed = append(w.placed, block)
	if w.dropPlaces {
		return nil
	}
	if w.placeAs != "" {
		block = w.placeAs
	}
	w.pending[pos] = pendingEdit{to: block, remaining: w.editDelay}
	return nil
}

func (w *scriptedWorld) SetForward(ctx context.Context, pressed bool) error {
	if err := w.fail(control.OpForward); err != nil {
		return control.Wrap(control.OpForward, nil, err)
	}
	w.forward = append(w.forward, pressed)
	return nil
}

func (w *scriptedWorld) SetJump(ctx context.Context, pressed bool) error {
	if err := w.fail(control.OpJump); err != nil {
		return control.Wrap(control.OpJump, nil, err)
	}
	w.jump = append(w.jump, pressed)
	return nil
}

func (w *scriptedWorld) Look(ctx context.Context, yaw, pitch float64) error {
	if err := w.fail(control.OpLook); err != nil {
		return control.Wrap(control.OpLook, nil, err)
	}
	w.looks = append(w.looks, [2]float64{yaw, pitch})
	return nil
}

func (w *scriptedWorld) Snapshot(ctx context.Context, center world.Position, radius int) (*world.Snapshot, error) {
	return world.NewSnapshotWithBounds(w.blocks, world.Cube(center, radius)), nil
}

type outcomeLog struct{ got []Outcome }

func (l *outcomeLog) RecordWaypoint(o Outcome) { l.got = append(l.got, o) }
