package world

import (
	"fmt"
	"sort"
)

// BlockID names a block type, e.g. "minecraft:stone".
type BlockID string

const (
	Air     BlockID = "minecraft:air"
	CaveAir BlockID = "minecraft:cave_air"
	VoidAir BlockID = "minecraft:void_air"
	Dirt    BlockID = "minecraft:dirt"
	Stone   BlockID = "minecraft:stone"
	Bedrock BlockID = "minecraft:bedrock"
)

// IsAir reports whether the block is traversable empty space.
// The empty id counts as air so zero values read like absent cells.
func (b BlockID) IsAir() bool {
	switch b {
	case "", Air, CaveAir, VoidAir:
		return true
	}
	return false
}

// Bounds is an inclusive axis-aligned box of cells.
type Bounds struct {
	Min Position
	Max Position
}

func (b Bounds) Contains(p Position) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Empty reports whether the box holds no cells.
func (b Bounds) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Cube returns the box of cells within radius of center on every axis.
func Cube(center Position, radius int) Bounds {
	if radius < 0 {
		radius = 0
	}
	return Bounds{
		Min: center.Add(-radius, -radius, -radius),
		Max: center.Add(radius, radius, radius),
	}
}

// Snapshot is an immutable point-in-time view of block ids. Positions absent from the
// mapping read as air. A bounded snapshot also records the box it was captured from and
// reports every cell outside it as out of bounds.
type Snapshot struct {
	blocks  map[Position]BlockID
	bounds  Bounds
	bounded bool
}

// NewSnapshot copies blocks into an unbounded snapshot. Bounds reports the extent of the
// entries.
func NewSnapshot(blocks map[Position]BlockID) *Snapshot {
	s := &Snapshot{blocks: make(map[Position]BlockID, len(blocks))}
	first := true
	for p, id := range blocks {
		s.blocks[p] = id
		if first {
			s.bounds = Bounds{Min: p, Max: p}
			first = false
			continue
		}
		s.bounds.Min = Position{X: min(s.bounds.Min.X, p.X), Y: min(s.bounds.Min.Y, p.Y), Z: min(s.bounds.Min.Z, p.Z)}
		s.bounds.Max = Position{X: max(s.bounds.Max.X, p.X), Y: max(s.bounds.Max.Y, p.Y), Z: max(s.bounds.Max.Z, p.Z)}
	}
	if first {
		s.bounds = Bounds{Min: Position{X: 1}, Max: Position{}}
	}
	return s
}

// NewSnapshotWithBounds copies blocks into a snapshot bounded by the given box; entries
// outside are dropped.
func NewSnapshotWithBounds(blocks map[Position]BlockID, bounds Bounds) *Snapshot {
	s := &Snapshot{blocks: make(map[Position]BlockID, len(blocks)), bounds: bounds, bounded: true}
	for p, id := range blocks {
		if bounds.Contains(p) {
			s.blocks[p] = id
		}
	}
	return s
}

// FromWire builds an unbounded snapshot from the "x,y,z" -> id mapping served by the
// world API.
func FromWire(m map[string]string) (*Snapshot, error) {
	blocks, err := parseWire(m)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(blocks), nil
}

// FromWireWithBounds is FromWire for a capture of a known box, such as the cube a
// snapshot request asked for.
func FromWireWithBounds(m map[string]string, bounds Bounds) (*Snapshot, error) {
	blocks, err := parseWire(m)
	if err != nil {
		return nil, err
	}
	return NewSnapshotWithBounds(blocks, bounds), nil
}

func parseWire(m map[string]string) (map[Position]BlockID, error) {
	blocks := make(map[Position]BlockID, len(m))
	for k, v := range m {
		p, err := ParsePosition(k)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		blocks[p] = BlockID(v)
	}
	return blocks, nil
}

func (s *Snapshot) Block(p Position) BlockID {
	if s == nil {
		return Air
	}
	if id, ok := s.blocks[p]; ok && id != "" {
		return id
	}
	return Air
}

func (s *Snapshot) IsAir(p Position) bool   { return s.Block(p).IsAir() }
func (s *Snapshot) IsSolid(p Position) bool { return !s.IsAir(p) }

func (s *Snapshot) Bounds() Bounds {
	if s == nil {
		return Bounds{Min: Position{X: 1}}
	}
	return s.bounds
}

// Bounded reports whether the snapshot limits which cells are in bounds.
func (s *Snapshot) Bounded() bool { return s != nil && s.bounded }

// InBounds reports whether p lies in the captured region. Every cell is in bounds for an
// unbounded snapshot.
func (s *Snapshot) InBounds(p Position) bool {
	if s == nil {
		return false
	}
	return !s.bounded || s.bounds.Contains(p)
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.blocks)
}

// Each visits every stored entry in x, y, z order.
func (s *Snapshot) Each(fn func(Position, BlockID)) {
	if s == nil {
		return
	}
	keys := make([]Position, 0, len(s.blocks))
	for p := range s.blocks {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	for _, p := range keys {
		fn(p, s.blocks[p])
	}
}

// Wire renders the snapshot in the "x,y,z" -> id form.
func (s *Snapshot) Wire() map[string]string {
	out := make(map[string]string, s.Len())
	s.Each(func(p Position, id BlockID) {
		out[p.String()] = string(id)
	})
	return out
}
