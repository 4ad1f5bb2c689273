package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelpilot.ai/internal/persistence/snapshot"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/sim"
	"voxelpilot.ai/internal/transport/httpapi"
	"voxelpilot.ai/internal/transport/ws"
	"voxelpilot.ai/internal/world"
)

func newTestServer(t *testing.T, cfg serverConfig) (*sim.World, *httptest.Server) {
	t.Helper()
	w, err := sim.New(sim.DefaultConfig())
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	w.FlatFloor(8, 64)
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Join(t.TempDir(), "snapshots")
	}
	srv := httptest.NewServer(newMux(w, cfg, log.New(io.Discard, "", 0)))
	t.Cleanup(srv.Close)
	return w, srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestMux_ServesHealthMetricsAndWorldAPI(t *testing.T) {
	_, srv := newTestServer(t, serverConfig{})

	if code, body := get(t, srv.URL+"/healthz"); code != 200 || body != "ok" {
		t.Fatalf("healthz=%d %q", code, body)
	}

	c := httpapi.NewClient(srv.URL, srv.Client())
	v, err := c.Position(context.Background())
	if err != nil || v.Cell() != (world.Position{X: 0, Y: 65, Z: 0}) {
		t.Fatalf("Position=%s err=%v", v, err)
	}

	code, body := get(t, srv.URL+"/metrics")
	if code != 200 || !strings.Contains(body, "voxelpilot_sim_tick 1") {
		t.Fatalf("metrics=%d %s", code, body)
	}
}

func TestMux_ServesWebSocketGateway(t *testing.T) {
	_, srv := newTestServer(t, serverConfig{Token: "t0k"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + protocol.PathWebSocket

	c, err := ws.Dial(context.Background(), url, "tester", ws.WithAuthToken("t0k"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if c.Welcome().WorldID != "sim" || c.Welcome().WorldParams.EditDelayTicks != 2 {
		t.Fatalf("welcome=%+v", c.Welcome())
	}
	if _, err := c.Position(context.Background()); err != nil {
		t.Fatalf("Position: %v", err)
	}
}

func TestAdminSnapshot_WritesLoadableFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	w, srv := newTestServer(t, serverConfig{SnapshotDir: dir, EnableAdmin: true})
	w.SetBlock(world.Position{X: 2, Y: 65, Z: 2}, world.Dirt)
	w.Teleport(world.Vec3{X: 3.5, Y: 65, Z: 3.5})

	if code, _ := get(t, srv.URL+"/admin/v1/snapshot"); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot status=%d", code)
	}
	resp, err := http.Post(srv.URL+"/admin/v1/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		OK   bool   `json:"ok"`
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.OK {
		t.Fatalf("snapshot resp=%+v err=%v", out, err)
	}

	fresh, _ := sim.New(sim.DefaultConfig())
	loaded, err := loadWorld(fresh, "", dir, true)
	if err != nil || loaded != out.Path {
		t.Fatalf("loadWorld=%q err=%v want %q", loaded, err, out.Path)
	}
	if fresh.Agent() != (world.Vec3{X: 3.5, Y: 65, Z: 3.5}) {
		t.Fatalf("agent=%s", fresh.Agent())
	}
	if fresh.Blocks().Block(world.Position{X: 2, Y: 65, Z: 2}) != world.Dirt {
		t.Fatalf("dirt not restored")
	}

	code, body := get(t, srv.URL+"/admin/v1/state")
	if code != 200 || !strings.Contains(body, `"world_id":"sim"`) {
		t.Fatalf("state=%d %s", code, body)
	}
}

func TestAdminDisabled(t *testing.T) {
	_, srv := newTestServer(t, serverConfig{})
	if code, _ := get(t, srv.URL+"/admin/v1/state"); code != http.StatusNotFound {
		t.Fatalf("status=%d", code)
	}
}

func TestLoadWorld_NothingToLoad(t *testing.T) {
	w, _ := sim.New(sim.DefaultConfig())
	loaded, err := loadWorld(w, "", filepath.Join(t.TempDir(), "none"), true)
	if err != nil || loaded != "" {
		t.Fatalf("loaded=%q err=%v", loaded, err)
	}
}

func TestSnapshotLoop_SkipsIdleWorld(t *testing.T) {
	dir := t.TempDir()
	w, _ := sim.New(sim.DefaultConfig())
	ticks := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runSnapshotLoop(ctx, w, dir, ticks, log.New(io.Discard, "", 0))
		close(done)
	}()

	ticks <- time.Now() // tick 0: idle world, nothing written
	_, _ = w.Position(ctx)
	ticks <- time.Now() // tick 1
	ticks <- time.Now() // unchanged
	cancel()
	<-done

	paths, err := snapshot.List(dir)
	if err != nil || len(paths) != 1 {
		t.Fatalf("paths=%v err=%v", paths, err)
	}
	if filepath.Base(paths[0]) != "000000000001.snap.zst" {
		t.Fatalf("path=%s", paths[0])
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v", addr, got)
		}
	}
}
