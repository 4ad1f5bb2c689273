package sim

import (
	"fmt"

	"voxelpilot.ai/internal/persistence/snapshot"
	"voxelpilot.ai/internal/world"
)

// ExportSnapshot captures blocks, agent pose and tick without advancing time. Pending
// edits are not captured.
func (w *World) ExportSnapshot() (snapshot.SnapshotV1, error) {
	w.mu.Lock()
	blocks := world.NewSnapshot(w.blocks)
	tick := w.tick
	agent := &snapshot.AgentV1{
		Pos:   [3]float64{w.agent.X, w.agent.Y, w.agent.Z},
		Yaw:   w.yaw,
		Pitch: w.pitch,
	}
	w.mu.Unlock()

	snap, err := snapshot.FromWorld(w.cfg.ID, tick, blocks)
	if err != nil {
		return snap, err
	}
	snap.Agent = agent
	return snap, nil
}

// ImportSnapshot replaces the world state with snap.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world id mismatch: world=%s snap=%s", w.cfg.ID, snap.Header.WorldID)
	}
	blocks, err := snap.World()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks = map[world.Position]world.BlockID{}
	w.pending = nil
	blocks.Each(func(p world.Position, id world.BlockID) { w.setLocked(p, id) })
	w.tick = snap.Header.Tick
	w.forward, w.jump = false, false
	if a := snap.Agent; a != nil {
		w.agent = world.Vec3{X: a.Pos[0], Y: a.Pos[1], Z: a.Pos[2]}
		w.yaw, w.pitch = a.Yaw, a.Pitch
	}
	w.log.Printf("imported snapshot tick=%d cells=%d", snap.Header.Tick, snap.Header.Cells)
	return nil
}
