package navigate

import (
	"context"
	"time"

	"voxelpilot.ai/internal/world"
)

// Config holds the controller's tolerances and time budgets.
type Config struct {
	// Arrival tolerances, in blocks. Horizontal is measured to the cell centre.
	HorizontalTolerance float64
	VerticalTolerance   float64
	// Jump is held while the target is more than this many blocks above the agent.
	JumpThreshold float64
	// WaypointTimeout bounds one waypoint, inner confirmation polls included.
	WaypointTimeout time.Duration
	// PollInterval separates block-status polls after a break or place request.
	PollInterval time.Duration
	// SupportBlock is placed under a waypoint that has no footing.
	SupportBlock world.BlockID
}

func DefaultConfig() Config {
	return Config{
		HorizontalTolerance: 0.2,
		VerticalTolerance:   0.5,
		JumpThreshold:       0.5,
		WaypointTimeout:     30 * time.Second,
		PollInterval:        200 * time.Millisecond,
		SupportBlock:        world.Dirt,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HorizontalTolerance <= 0 {
		c.HorizontalTolerance = d.HorizontalTolerance
	}
	if c.VerticalTolerance <= 0 {
		c.VerticalTolerance = d.VerticalTolerance
	}
	if c.JumpThreshold <= 0 {
		c.JumpThreshold = d.JumpThreshold
	}
	if c.WaypointTimeout <= 0 {
		c.WaypointTimeout = d.WaypointTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SupportBlock == "" {
		c.SupportBlock = d.SupportBlock
	}
	return c
}

// Clock is the navigator's source of time; tests substitute a manual one.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
