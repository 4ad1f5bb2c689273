package protocol

import "voxelpilot.ai/internal/world"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	AgentName       string     `json:"agent_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldID         string      `json:"world_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	Speed          float64 `json:"speed,omitempty"`
	EditDelayTicks int     `json:"edit_delay_ticks,omitempty"`
	BoundaryR      int     `json:"boundary_r,omitempty"`
}

// CALL (client -> server): one world-control operation. Only the fields the op needs are set.
type CallMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Op              string          `json:"op"`
	Pos             *world.Position `json:"pos,omitempty"`
	Block           string          `json:"block,omitempty"`
	Pressed         *bool           `json:"pressed,omitempty"`
	Yaw             *float64        `json:"yaw,omitempty"`
	Pitch           *float64        `json:"pitch,omitempty"`
	Radius          *int            `json:"radius,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`

	Agent  *AgentPos         `json:"agent,omitempty"`
	Block  string            `json:"block,omitempty"`
	Blocks map[string]string `json:"blocks,omitempty"`
}

// AgentPos is the /position body and the RESULT payload for the position op.
type AgentPos struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

func (a AgentPos) Vec() world.Vec3 { return world.Vec3{X: a.X, Y: a.Y, Z: a.Z} }
