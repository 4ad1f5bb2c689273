package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/world"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asJSON round-trips v through encoding/json so the validator sees wire values.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateMessages(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(asJSON(t, v)); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(compile(t, "hello.schema.json"), protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       "pilot",
		Auth:            &protocol.HelloAuth{Token: "secret"},
	})
	validate(compile(t, "welcome.schema.json"), protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "2b1d3c6e-3f7e-4e52-a0a8-8d2f5b1c9e10",
		WorldID:         "sim",
		WorldParams:     protocol.WorldParams{Speed: 0.025, EditDelayTicks: 2},
	})

	pressed := true
	yaw, pitch := -90.0, 12.5
	radius := 4
	call := compile(t, "call.schema.json")
	for _, c := range []protocol.CallMsg{
		{Op: "position"},
		{Op: "block_status", Pos: &world.Position{X: 1, Y: 64, Z: -3}},
		{Op: "place_block", Pos: &world.Position{X: 1, Y: 63, Z: -3}, Block: "minecraft:dirt"},
		{Op: "forward", Pressed: &pressed},
		{Op: "look", Yaw: &yaw, Pitch: &pitch},
		{Op: "world_snapshot", Pos: &world.Position{}, Radius: &radius},
	} {
		c.Type, c.ProtocolVersion, c.ReqID = protocol.TypeCall, protocol.Version, "R1"
		validate(call, c)
	}

	result := compile(t, "result.schema.json")
	validate(result, protocol.ResultMsg{
		Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ReqID: "R1", OK: true,
		Agent: &protocol.AgentPos{X: 0.5, Y: 65, Z: 0.5, Yaw: 90, Pitch: 0},
	})
	validate(result, protocol.ResultMsg{
		Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ReqID: "R2", OK: true,
		Blocks: map[string]string{"0,64,0": "minecraft:stone", "-1,65,0": "minecraft:air"},
	})
	validate(result, protocol.ResultMsg{
		Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ReqID: "R3",
		Code: protocol.ErrBadRequest, Message: "outside boundary",
	})

	validate(compile(t, "position.schema.json"), protocol.AgentPos{X: 1.25, Y: 64, Z: -7.5, Yaw: 180, Pitch: -30})
	validate(compile(t, "error.schema.json"), protocol.ErrorResp{Code: protocol.ErrNotFound, Message: "unknown endpoint"})

	routeSchema := compile(t, "route.schema.json")
	validate(routeSchema, protocol.FindPathResp{
		Found: true,
		Route: pathfind.Route{
			Positions: []world.Position{{X: 0, Y: 65, Z: 0}, {X: 1, Y: 65, Z: 0}},
			TotalCost: 1,
		},
		Stats: pathfind.Stats{Expanded: 2, Pushed: 3},
	})
	validate(routeSchema, protocol.FindPathResp{})
}

func TestSchemas_RejectMalformed(t *testing.T) {
	call := compile(t, "call.schema.json")
	for name, raw := range map[string]string{
		"missing pos":   `{"type":"CALL","protocol_version":"1.0","req_id":"R1","op":"break_block"}`,
		"unknown op":    `{"type":"CALL","protocol_version":"1.0","req_id":"R1","op":"teleport"}`,
		"short pos":     `{"type":"CALL","protocol_version":"1.0","req_id":"R1","op":"block_status","pos":[1,2]}`,
		"look no pitch": `{"type":"CALL","protocol_version":"1.0","req_id":"R1","op":"look","yaw":1}`,
	} {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := call.Validate(v); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	var failed any
	_ = json.Unmarshal([]byte(`{"type":"RESULT","protocol_version":"1.0","req_id":"R1","ok":false}`), &failed)
	if err := compile(t, "result.schema.json").Validate(failed); err == nil {
		t.Fatalf("failed RESULT without code should be rejected")
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"CALL","protocol_version":"1.0","op":"position"}`))
	if err != nil || m.Type != protocol.TypeCall || m.ProtocolVersion != protocol.Version {
		t.Fatalf("DecodeBase=%+v err=%v", m, err)
	}
	if _, err := protocol.DecodeBase([]byte(`not json`)); err == nil {
		t.Fatalf("expected error")
	}
}
