package navigate

import (
	"math"

	"voxelpilot.ai/internal/world"
)

// Aim is the steering solution from an agent position to a waypoint.
type Aim struct {
	Yaw   float64
	Pitch float64

	DX float64
	DY float64
	DZ float64

	// Horizontal is the x/z distance to the cell centre.
	Horizontal float64
}

// AimAt points from the agent at the waypoint's floor centre. Yaw 0 faces +Z and yaw 90
// faces -X; negative pitch looks up.
func AimAt(from world.Vec3, target world.Position) Aim {
	c := target.Center()
	dx := c.X - from.X
	dy := c.Y - from.Y
	dz := c.Z - from.Z
	h := math.Hypot(dx, dz)
	return Aim{
		Yaw:        degrees(math.Atan2(-dx, dz)),
		Pitch:      degrees(-math.Atan2(dy, h)),
		DX:         dx,
		DY:         dy,
		DZ:         dz,
		Horizontal: h,
	}
}

// Within reports whether the agent is close enough to count as arrived.
func (a Aim) Within(horizontal, vertical float64) bool {
	return a.Horizontal < horizontal && math.Abs(a.DY) < vertical
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
