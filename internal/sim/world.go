// Package sim is a deterministic in-memory voxel world that serves the world-control API.
// Every call advances the world by one tick, so polling loops observe edits and motion
// exactly as they would against a live server.
package sim

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/world"
)

type WorldConfig struct {
	ID string

	// Speed is the horizontal distance covered per tick while forward is held.
	Speed float64
	// EditDelayTicks is how many ticks a break or place takes to land.
	EditDelayTicks int
	// BoundaryR rejects edits and snapshots beyond this |x| or |z|; 0 disables the check.
	BoundaryR int
	// VoidY is the lowest height the agent can fall to.
	VoidY int

	Spawn       world.Vec3
	Unbreakable []world.BlockID

	Logger *log.Logger
}

func DefaultConfig() WorldConfig {
	return WorldConfig{
		ID:             "sim",
		Speed:          0.025,
		EditDelayTicks: 2,
		VoidY:          -64,
		Spawn:          world.Vec3{X: 0.5, Y: 65, Z: 0.5},
		Unbreakable:    []world.BlockID{world.Bedrock},
	}
}

type edit struct {
	due uint64
	pos world.Position
	to  world.BlockID
}

// World implements control.WorldControl and control.Facer. It is safe for concurrent use.
type World struct {
	mu sync.Mutex

	cfg         WorldConfig
	log         *log.Logger
	unbreakable map[world.BlockID]bool

	tick    uint64
	blocks  map[world.Position]world.BlockID
	pending []edit

	agent   world.Vec3
	yaw     float64
	pitch   float64
	forward bool
	jump    bool
}

var _ control.WorldControl = (*World)(nil)
var _ control.Facer = (*World)(nil)

func New(cfg WorldConfig) (*World, error) {
	d := DefaultConfig()
	if cfg.ID == "" {
		cfg.ID = d.ID
	}
	if cfg.Speed == 0 {
		cfg.Speed = d.Speed
	}
	if cfg.Speed < 0 || cfg.Speed >= 1 {
		return nil, fmt.Errorf("sim: speed must be in (0,1), got %v", cfg.Speed)
	}
	if cfg.EditDelayTicks < 0 {
		return nil, fmt.Errorf("sim: negative edit delay %d", cfg.EditDelayTicks)
	}
	if cfg.BoundaryR < 0 {
		return nil, fmt.Errorf("sim: negative boundary %d", cfg.BoundaryR)
	}
	if cfg.Unbreakable == nil {
		cfg.Unbreakable = d.Unbreakable
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		cfg:         cfg,
		log:         logger,
		unbreakable: map[world.BlockID]bool{},
		blocks:      map[world.Position]world.BlockID{},
		agent:       cfg.Spawn,
	}
	for _, id := range cfg.Unbreakable {
		w.unbreakable[id] = true
	}
	return w, nil
}

func (w *World) Config() WorldConfig { return w.cfg }

// Tick returns the number of ticks simulated so far.
func (w *World) Tick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Agent returns the agent position without advancing time.
func (w *World) Agent() world.Vec3 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.agent
}

// Teleport moves the agent without advancing time.
func (w *World) Teleport(v world.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agent = v
}

// Keys reports the held movement keys.
func (w *World) Keys() (forward, jump bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.forward, w.jump
}

// SetBlock writes a block immediately. Air ids clear the cell.
func (w *World) SetBlock(p world.Position, id world.BlockID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setLocked(p, id)
}

// Fill writes id into every cell of b.
func (w *World) Fill(b world.Bounds, id world.BlockID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for x := b.Min.X; x <= b.Max.X; x++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for z := b.Min.Z; z <= b.Max.Z; z++ {
				w.setLocked(world.Position{X: x, Y: y, Z: z}, id)
			}
		}
	}
}

// FlatFloor lays a stone floor at floorY over a square of the given radius with bedrock
// beneath it, and puts the agent on top of the floor's centre.
func (w *World) FlatFloor(radius, floorY int) {
	w.Fill(world.Bounds{
		Min: world.Position{X: -radius, Y: floorY, Z: -radius},
		Max: world.Position{X: radius, Y: floorY, Z: radius},
	}, world.Stone)
	w.Fill(world.Bounds{
		Min: world.Position{X: -radius, Y: floorY - 1, Z: -radius},
		Max: world.Position{X: radius, Y: floorY - 1, Z: radius},
	}, world.Bedrock)
	w.Teleport(world.Vec3{X: 0.5, Y: float64(floorY + 1), Z: 0.5})
}

// Load replaces the world's blocks.
func (w *World) Load(s *world.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks = map[world.Position]world.BlockID{}
	w.pending = nil
	s.Each(func(p world.Position, id world.BlockID) { w.setLocked(p, id) })
}

// Blocks returns a snapshot of every non-air block without advancing time.
func (w *World) Blocks() *world.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return world.NewSnapshot(w.blocks)
}

func (w *World) setLocked(p world.Position, id world.BlockID) {
	if id.IsAir() {
		delete(w.blocks, p)
		return
	}
	w.blocks[p] = id
}

func (w *World) blockLocked(p world.Position) world.BlockID {
	if id, ok := w.blocks[p]; ok {
		return id
	}
	return world.Air
}

func (w *World) inBoundary(p world.Position) bool {
	r := w.cfg.BoundaryR
	if r <= 0 {
		return true
	}
	return p.X >= -r && p.X <= r && p.Z >= -r && p.Z <= r
}

func (w *World) checkBoundary(p world.Position) error {
	if !w.inBoundary(p) {
		return fmt.Errorf("%w: %s outside boundary %d", control.ErrRejected, p, w.cfg.BoundaryR)
	}
	return nil
}

func (w *World) Position(ctx context.Context) (world.Vec3, error) {
	if err := ctx.Err(); err != nil {
		return world.Vec3{}, control.Wrap(control.OpPosition, nil, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	return w.agent, nil
}

func (w *World) Facing(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, control.Wrap(control.OpPosition, nil, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.yaw, w.pitch, nil
}

func (w *World) BlockAt(ctx context.Context, pos world.Position) (world.BlockID, error) {
	if err := ctx.Err(); err != nil {
		return "", control.Wrap(control.OpBlockAt, control.At(pos), err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	return w.blockLocked(pos), nil
}

func (w *World) BreakBlock(ctx context.Context, pos world.Position) error {
	if err := ctx.Err(); err != nil {
		return control.Wrap(control.OpBreakBlock, control.At(pos), err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkBoundary(pos); err != nil {
		return control.Wrap(control.OpBreakBlock, control.At(pos), err)
	}
	w.advanceLocked()
	id := w.blockLocked(pos)
	if w.unbreakable[id] {
		w.log.Printf("world=%s tick=%d break %s ignored: %s is unbreakable", w.cfg.ID, w.tick, pos, id)
		return nil
	}
	w.scheduleLocked(pos, world.Air)
	return nil
}

func (w *World) PlaceBlock(ctx context.Context, pos world.Position, block world.BlockID) error {
	if err := ctx.Err(); err != nil {
		return control.Wrap(control.OpPlaceBlock, control.At(pos), err)
	}
	if block.IsAir() {
		return control.Wrap(control.OpPlaceBlock, control.At(pos), fmt.Errorf("%w: cannot place %q", control.ErrRejected, block))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkBoundary(pos); err != nil {
		return control.Wrap(control.OpPlaceBlock, control.At(pos), err)
	}
	w.advanceLocked()
	w.scheduleLocked(pos, block)
	return nil
}

func (w *World) SetForward(ctx context.Context, pressed bool) error {
	if err := ctx.Err(); err != nil {
		return control.Wrap(control.OpForward, nil, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	w.forward = pressed
	return nil
}

func (w *World) SetJump(ctx context.Context, pressed bool) error {
	if err := ctx.Err(); err != nil {
		return control.Wrap(control.OpJump, nil, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	w.jump = pressed
	return nil
}

func (w *World) Look(ctx context.Context, yaw, pitch float64) error {
	if err := ctx.Err(); err != nil {
		return control.Wrap(control.OpLook, nil, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	w.yaw, w.pitch = yaw, pitch
	return nil
}

// Snapshot captures every cell of the cube around center, air included, so the result's
// bounds survive the "x,y,z" wire form.
func (w *World) Snapshot(ctx context.Context, center world.Position, radius int) (*world.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, control.Wrap(control.OpSnapshot, control.At(center), err)
	}
	if radius < 0 {
		return nil, control.Wrap(control.OpSnapshot, control.At(center), fmt.Errorf("%w: negative radius %d", control.ErrRejected, radius))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	b := world.Cube(center, radius)
	cells := make(map[world.Position]world.BlockID, (2*radius+1)*(2*radius+1)*(2*radius+1))
	for x := b.Min.X; x <= b.Max.X; x++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for z := b.Min.Z; z <= b.Max.Z; z++ {
				p := world.Position{X: x, Y: y, Z: z}
				cells[p] = w.blockLocked(p)
			}
		}
	}
	return world.NewSnapshotWithBounds(cells, b), nil
}

func (w *World) scheduleLocked(pos world.Position, to world.BlockID) {
	e := edit{due: w.tick + uint64(w.cfg.EditDelayTicks), pos: pos, to: to}
	if w.cfg.EditDelayTicks == 0 {
		w.applyLocked(e)
		return
	}
	w.pending = append(w.pending, e)
}
