package sim

import (
	"math"

	"voxelpilot.ai/internal/world"
)

// advanceLocked runs one tick: due edits land, then the agent moves and falls.
func (w *World) advanceLocked() {
	w.tick++

	kept := w.pending[:0]
	for _, e := range w.pending {
		if e.due <= w.tick {
			w.applyLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	w.pending = kept

	if w.forward {
		w.walkLocked()
	}
	w.fallLocked()
}

func (w *World) applyLocked(e edit) {
	w.setLocked(e.pos, e.to)
	// A block placed into the agent's feet lifts it on top.
	for !w.passable(w.agent.Cell()) {
		w.agent.Y = math.Floor(w.agent.Y) + 1
	}
}

func (w *World) passable(feet world.Position) bool {
	return w.blockLocked(feet).IsAir() && w.blockLocked(feet.Up()).IsAir()
}

// walkLocked moves the agent one step along its yaw. Yaw 0 faces +Z and yaw 90 faces -X.
func (w *World) walkLocked() {
	rad := w.yaw * math.Pi / 180
	next := world.Vec3{
		X: w.agent.X - math.Sin(rad)*w.cfg.Speed,
		Y: w.agent.Y,
		Z: w.agent.Z + math.Cos(rad)*w.cfg.Speed,
	}
	cell := next.Cell()
	if w.passable(cell) {
		w.agent = next
		return
	}
	// One-block step: climbable when jumping with room above both the step and the agent.
	if w.jump && w.passable(cell.Up()) && w.blockLocked(w.agent.Cell().Up().Up()).IsAir() {
		next.Y = math.Floor(next.Y) + 1
		w.agent = next
	}
}

func (w *World) fallLocked() {
	feet := w.agent.Cell()
	if feet.Y <= w.cfg.VoidY {
		return
	}
	if w.blockLocked(feet.Down()).IsAir() {
		w.agent.Y = math.Floor(w.agent.Y) - 1
	}
}
