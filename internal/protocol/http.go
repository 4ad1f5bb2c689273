package protocol

import (
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/world"
)

// HTTP endpoint paths served by the world API.
const (
	PathPosition  = "/position"
	PathBlock     = "/block_status"
	PathBreak     = "/break_block"
	PathPlace     = "/place_block"
	PathForward   = "/forward"
	PathJump      = "/jump"
	PathLook      = "/look"
	PathSnapshot  = "/world_snapshot"
	PathFindPath  = "/find_path"
	PathWebSocket = "/v1/ws"
)

// Snapshot radius used when a request names none, and the largest accepted.
const (
	DefaultRadius = 10
	MaxRadius     = 64
)

type BlockResp struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
	Block string `json:"block"`
}

func (b BlockResp) Pos() world.Position { return world.Position{X: b.X, Y: b.Y, Z: b.Z} }

type AckResp struct {
	OK bool `json:"ok"`
}

type ErrorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FindPathResp answers /find_path. Route is empty when Found is false.
type FindPathResp struct {
	Found bool           `json:"found"`
	Route pathfind.Route `json:"route"`
	Stats pathfind.Stats `json:"stats"`
}
