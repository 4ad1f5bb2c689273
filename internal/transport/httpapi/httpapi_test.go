package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/navigate"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/sim"
	"voxelpilot.ai/internal/world"
)

func newSimServer(t *testing.T) (*sim.World, *Client) {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.BoundaryR = 20
	w, err := sim.New(cfg)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	w.FlatFloor(12, 64)
	srv := httptest.NewServer(NewHandler(w))
	t.Cleanup(srv.Close)
	return w, NewClient(srv.URL, srv.Client())
}

func TestClient_PositionAndLook(t *testing.T) {
	ctx := context.Background()
	_, c := newSimServer(t)

	v, err := c.Position(ctx)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if v != (world.Vec3{X: 0.5, Y: 65, Z: 0.5}) {
		t.Fatalf("Position=%s", v)
	}
	if err := c.Look(ctx, -90, 12.5); err != nil {
		t.Fatalf("Look: %v", err)
	}
	yaw, pitch, err := c.Facing(ctx)
	if err != nil || yaw != -90 || pitch != 12.5 {
		t.Fatalf("Facing=%v,%v err=%v", yaw, pitch, err)
	}
}

func TestClient_BreakAndPlaceAreObservedByPolling(t *testing.T) {
	ctx := context.Background()
	_, c := newSimServer(t)
	p := world.Position{X: 2, Y: 64, Z: 2}

	if err := c.BreakBlock(ctx, p); err != nil {
		t.Fatalf("BreakBlock: %v", err)
	}
	var id world.BlockID
	for i := 0; i < 5; i++ {
		var err error
		if id, err = c.BlockAt(ctx, p); err != nil {
			t.Fatalf("BlockAt: %v", err)
		}
		if id.IsAir() {
			break
		}
	}
	if !id.IsAir() {
		t.Fatalf("break never landed: %s", id)
	}

	if err := c.PlaceBlock(ctx, p, "minecraft:cobblestone"); err != nil {
		t.Fatalf("PlaceBlock: %v", err)
	}
	for i := 0; i < 5 && id != "minecraft:cobblestone"; i++ {
		id, _ = c.BlockAt(ctx, p)
	}
	if id != "minecraft:cobblestone" {
		t.Fatalf("place never landed: %s", id)
	}
}

func TestClient_KeysReachTheWorld(t *testing.T) {
	ctx := context.Background()
	w, c := newSimServer(t)
	if err := c.SetForward(ctx, true); err != nil {
		t.Fatalf("SetForward: %v", err)
	}
	if err := c.SetJump(ctx, true); err != nil {
		t.Fatalf("SetJump: %v", err)
	}
	if fwd, jump := w.Keys(); !fwd || !jump {
		t.Fatalf("keys forward=%v jump=%v", fwd, jump)
	}
}

func TestClient_SnapshotKeepsCubeBounds(t *testing.T) {
	ctx := context.Background()
	_, c := newSimServer(t)
	center := world.Position{X: 1, Y: 65, Z: -1}
	snap, err := c.Snapshot(ctx, center, 3)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Bounds() != world.Cube(center, 3) || snap.Len() != 343 {
		t.Fatalf("bounds=%+v len=%d", snap.Bounds(), snap.Len())
	}
	if snap.Block(world.Position{X: 1, Y: 64, Z: -1}) != world.Stone {
		t.Fatalf("floor missing from snapshot")
	}
}

func TestClient_SparseSnapshotPlansAboveEntries(t *testing.T) {
	// A server that only reports solid cells.
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(rw).Encode(map[string]string{
			"0,63,0": "minecraft:stone",
			"1,63,0": "minecraft:stone",
			"2,63,0": "minecraft:stone",
		})
	}))
	defer srv.Close()

	center := world.Position{X: 1, Y: 64, Z: 0}
	snap, err := NewClient(srv.URL, srv.Client()).Snapshot(context.Background(), center, 4)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.Bounded() || snap.Bounds() != world.Cube(center, 4) {
		t.Fatalf("bounded=%v bounds=%+v", snap.Bounded(), snap.Bounds())
	}
	route, ok := pathfind.FindRoute(snap, world.Position{X: 0, Y: 64, Z: 0}, world.Position{X: 2, Y: 64, Z: 0})
	if !ok || route.TotalCost != 2 || route.Steps() != 2 {
		t.Fatalf("route=%+v found=%v", route, ok)
	}
}

func TestHandler_SnapshotDefaultsToAgentCell(t *testing.T) {
	w, err := sim.New(sim.DefaultConfig())
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	w.FlatFloor(4, 64)
	h := NewHandler(w)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/world_snapshot?r=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	wire := map[string]string{}
	if err := decodeBody(rec.Result().Body, &wire); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(wire) != 27 || wire["0,64,0"] != string(world.Stone) || wire["0,65,0"] != string(world.Air) {
		t.Fatalf("wire=%v", wire)
	}
}

func TestClient_ErrorsCarryCodes(t *testing.T) {
	ctx := context.Background()
	_, c := newSimServer(t)

	err := c.BreakBlock(ctx, world.Position{X: 50, Y: 64, Z: 0})
	var api *protocol.APIError
	if !errors.As(err, &api) || api.Status != http.StatusBadRequest || api.Code != protocol.ErrBadRequest {
		t.Fatalf("expected 400 E_BAD_REQUEST, got %v", err)
	}
	if !errors.Is(err, control.ErrRejected) {
		t.Fatalf("expected ErrRejected through %v", err)
	}
	var op *control.OpError
	if !errors.As(err, &op) || op.Op != control.OpBreakBlock || op.Pos == nil || op.Pos.X != 50 {
		t.Fatalf("expected break_block OpError, got %v", err)
	}

	err = c.PlaceBlock(ctx, world.Position{X: 1, Y: 65, Z: 1}, world.Air)
	if !errors.Is(err, control.ErrRejected) {
		t.Fatalf("placing air should be rejected: %v", err)
	}
}

func TestHandler_BadParamsAndUnknownPaths(t *testing.T) {
	w, err := sim.New(sim.DefaultConfig())
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	h := NewHandler(w)
	cases := map[string]struct {
		status int
		code   string
	}{
		"/block_status?x=1&y=2":             {http.StatusBadRequest, protocol.ErrBadRequest},
		"/block_status?x=a&y=2&z=3":         {http.StatusBadRequest, protocol.ErrBadRequest},
		"/forward?pressed=maybe":            {http.StatusBadRequest, protocol.ErrBadRequest},
		"/look?yaw=10":                      {http.StatusBadRequest, protocol.ErrBadRequest},
		"/place_block?x=1&y=2&z=3":          {http.StatusBadRequest, protocol.ErrBadRequest},
		"/world_snapshot?r=500":             {http.StatusBadRequest, protocol.ErrBadRequest},
		"/find_path?sx=0&sy=0&sz=0&gx=1&gy": {http.StatusBadRequest, protocol.ErrBadRequest},
		"/teleport":                         {http.StatusNotFound, protocol.ErrNotFound},
	}
	for target, want := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != want.status {
			t.Fatalf("%s: status=%d want %d", target, rec.Code, want.status)
		}
		var e protocol.ErrorResp
		if err := decodeBody(rec.Result().Body, &e); err != nil || e.Code != want.code {
			t.Fatalf("%s: body=%+v err=%v", target, e, err)
		}
	}
}

func TestClient_FindPath(t *testing.T) {
	ctx := context.Background()
	w, c := newSimServer(t)
	w.SetBlock(world.Position{X: 2, Y: 65, Z: 0}, world.Stone)

	resp, err := c.FindPath(ctx, world.Position{X: 0, Y: 65, Z: 0}, world.Position{X: 4, Y: 65, Z: 0}, 6)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if !resp.Found || resp.Route.TotalCost != 5 || resp.Route.Goal() != (world.Position{X: 4, Y: 65, Z: 0}) {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Stats.Expanded == 0 {
		t.Fatalf("stats not reported: %+v", resp.Stats)
	}

	// Goal outside the captured cube.
	resp, err = c.FindPath(ctx, world.Position{X: 0, Y: 65, Z: 0}, world.Position{X: 9, Y: 65, Z: 0}, 4)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if resp.Found || len(resp.Route.Positions) != 0 {
		t.Fatalf("expected no route, got %+v", resp.Route)
	}
}

func TestClient_UnreachableServerIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, &http.Client{Timeout: time.Second})
	_, err := c.Position(context.Background())
	if !errors.Is(err, control.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if protocol.CodeFor(err) != protocol.ErrUnavailable {
		t.Fatalf("CodeFor=%s", protocol.CodeFor(err))
	}
}

func TestClient_PlainTextErrorsGetCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "upstream gone", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, srv.Client()).BlockAt(context.Background(), world.Position{})
	var api *protocol.APIError
	if !errors.As(err, &api) || api.Code != protocol.ErrUnavailable || api.Message != "upstream gone" {
		t.Fatalf("got %v", err)
	}
}

type instantClock struct{}

func (instantClock) Now() time.Time { return time.Now() }
func (instantClock) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func TestNavigateOverHTTP(t *testing.T) {
	ctx := context.Background()
	w, c := newSimServer(t)
	w.SetBlock(world.Position{X: 0, Y: 65, Z: 2}, world.Stone)

	start := world.Position{X: 0, Y: 65, Z: 0}
	goal := world.Position{X: 0, Y: 65, Z: 4}
	snap, err := c.Snapshot(ctx, start, 6)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	route, ok := pathfind.FindRoute(snap, start, goal)
	if !ok {
		t.Fatalf("no route")
	}
	sum, err := navigate.New(c, navigate.DefaultConfig(), navigate.WithClock(instantClock{})).Execute(ctx, route)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sum.TimedOut != 0 || w.Agent().Cell() != goal {
		t.Fatalf("summary=%+v agent=%s", sum, w.Agent())
	}
}

func decodeBody(r io.ReadCloser, v any) error {
	defer r.Close()
	return json.NewDecoder(r).Decode(v)
}
