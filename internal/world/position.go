package world

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Position identifies one grid cell.
type Position struct {
	X int
	Y int
	Z int
}

func (p Position) Add(dx, dy, dz int) Position {
	return Position{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

func (p Position) Up() Position   { return p.Add(0, 1, 0) }
func (p Position) Down() Position { return p.Add(0, -1, 0) }

// Manhattan returns |dx|+|dy|+|dz| between p and q.
func (p Position) Manhattan(q Position) int {
	return abs(p.X-q.X) + abs(p.Y-q.Y) + abs(p.Z-q.Z)
}

// Adjacent reports whether p and q differ by exactly one unit on exactly one axis.
func (p Position) Adjacent(q Position) bool {
	return p.Manhattan(q) == 1
}

// Center returns the real-valued centre of the cell's floor (x+0.5, y, z+0.5).
func (p Position) Center() Vec3 {
	return Vec3{X: float64(p.X) + 0.5, Y: float64(p.Y), Z: float64(p.Z) + 0.5}
}

// String renders the "x,y,z" key used on the wire.
func (p Position) String() string {
	return strconv.Itoa(p.X) + "," + strconv.Itoa(p.Y) + "," + strconv.Itoa(p.Z)
}

func (p Position) Array() [3]int { return [3]int{p.X, p.Y, p.Z} }

func FromArray(a [3]int) Position { return Position{X: a[0], Y: a[1], Z: a[2]} }

// MarshalJSON encodes a position as [x,y,z].
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Array())
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var a [3]int
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	*p = FromArray(a)
	return nil
}

// ParsePosition parses an "x,y,z" key.
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Position{}, fmt.Errorf("bad position %q: want x,y,z", s)
	}
	var out [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Position{}, fmt.Errorf("bad position %q: %w", s, err)
		}
		out[i] = v
	}
	return FromArray(out), nil
}

// Vec3 is a real-valued world position; the agent can stand mid-cell.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Cell returns the grid cell containing v.
func (v Vec3) Cell() Position {
	return Position{
		X: int(math.Floor(v.X)),
		Y: int(math.Floor(v.Y)),
		Z: int(math.Floor(v.Z)),
	}
}

func (v Vec3) String() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f", v.X, v.Y, v.Z)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
