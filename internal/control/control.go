// Package control defines the synchronous world-control surface the navigator drives.
package control

import (
	"context"
	"errors"
	"fmt"

	"voxelpilot.ai/internal/world"
)

// Operation names, shared by transports for error context.
const (
	OpPosition   = "position"
	OpBlockAt    = "block_status"
	OpBreakBlock = "break_block"
	OpPlaceBlock = "place_block"
	OpForward    = "forward"
	OpJump       = "jump"
	OpLook       = "look"
	OpSnapshot   = "world_snapshot"
)

// WorldControl is a remote, individually fallible, eventually consistent world API.
// BreakBlock and PlaceBlock only request an edit; callers confirm it by polling BlockAt.
type WorldControl interface {
	Position(ctx context.Context) (world.Vec3, error)
	BlockAt(ctx context.Context, pos world.Position) (world.BlockID, error)
	BreakBlock(ctx context.Context, pos world.Position) error
	PlaceBlock(ctx context.Context, pos world.Position, block world.BlockID) error
	SetForward(ctx context.Context, pressed bool) error
	SetJump(ctx context.Context, pressed bool) error
	Look(ctx context.Context, yaw, pitch float64) error
	Snapshot(ctx context.Context, center world.Position, radius int) (*world.Snapshot, error)
}

// Facer is implemented by backends that can also report the agent's look direction.
type Facer interface {
	Facing(ctx context.Context) (yaw, pitch float64, err error)
}

var (
	// ErrRejected marks a request the world refused as invalid (bad cell, unknown block).
	ErrRejected = errors.New("rejected")
	// ErrUnavailable marks a backend that could not be reached or answered out of turn.
	ErrUnavailable = errors.New("unavailable")
)

// OpError carries the failed operation and, when relevant, the cell it targeted.
type OpError struct {
	Op  string
	Pos *world.Position
	Err error
}

func (e *OpError) Error() string {
	if e.Pos != nil {
		return fmt.Sprintf("%s at %s: %v", e.Op, e.Pos, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *OpError.
func Wrap(op string, pos *world.Position, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Pos: pos, Err: err}
}

// At is a convenience for building the Pos field.
func At(p world.Position) *world.Position { return &p }
