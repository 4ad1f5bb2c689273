package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"time"

	"voxelpilot.ai/internal/metrics"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/persistence/snapshot"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/sim"
	"voxelpilot.ai/internal/transport/httpapi"
	"voxelpilot.ai/internal/transport/ws"
	"voxelpilot.ai/internal/world"
)

type serverConfig struct {
	SnapshotDir string
	Token       string
	Planner     pathfind.Options
	EnableAdmin bool
	EnablePprof bool
}

// newMux mounts the world API, the WS gateway and the operational endpoints.
func newMux(w *sim.World, cfg serverConfig, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})

	m := metrics.New()
	m.GaugeFunc("sim_tick", "Ticks simulated so far.", func() float64 { return float64(w.Tick()) })
	m.GaugeFunc("sim_blocks", "Non-air blocks held by the world.", func() float64 { return float64(w.Blocks().Len()) })
	mux.Handle("/metrics", m.Handler())

	httpapi.NewHandler(w,
		httpapi.WithLogger(logger),
		httpapi.WithPlanner(pathfind.New(cfg.Planner)),
	).Register(mux)

	wcfg := w.Config()
	mux.HandleFunc(protocol.PathWebSocket, ws.NewServer(w, logger,
		ws.WithToken(cfg.Token),
		ws.WithWorld(wcfg.ID, protocol.WorldParams{
			Speed:          wcfg.Speed,
			EditDelayTicks: wcfg.EditDelayTicks,
			BoundaryR:      wcfg.BoundaryR,
		}),
	).Handler())

	if cfg.EnableAdmin {
		// Local-only; the world API itself is not authenticated.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			forward, jump := w.Keys()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(struct {
				WorldID string     `json:"world_id"`
				Tick    uint64     `json:"tick"`
				Agent   world.Vec3 `json:"agent"`
				Forward bool       `json:"forward"`
				Jump    bool       `json:"jump"`
				Blocks  int        `json:"blocks"`
			}{wcfg.ID, w.Tick(), w.Agent(), forward, jump, w.Blocks().Len()})
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			path, tick, err := saveSnapshot(w, cfg.SnapshotDir)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			logger.Printf("snapshot tick=%d path=%s", tick, path)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick, "path": path})
		})
	} else {
		logger.Printf("admin endpoints disabled (VP_ENABLE_ADMIN_HTTP=false)")
	}

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func saveSnapshot(w *sim.World, dir string) (string, uint64, error) {
	snap, err := w.ExportSnapshot()
	if err != nil {
		return "", 0, err
	}
	path := snapshot.FileName(dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", snap.Header.Tick, err
	}
	return path, snap.Header.Tick, nil
}

// loadWorld seeds w from path, or from the newest snapshot in dir when latest is set.
// It reports the file used; an empty result means nothing was loaded.
func loadWorld(w *sim.World, path, dir string, latest bool) (string, error) {
	if path == "" && latest {
		paths, err := snapshot.List(dir)
		if err != nil {
			return "", err
		}
		if len(paths) > 0 {
			path = paths[len(paths)-1]
		}
	}
	if path == "" {
		return "", nil
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return "", err
	}
	return path, w.ImportSnapshot(snap)
}

func runSnapshotLoop(ctx context.Context, w *sim.World, dir string, ticks <-chan time.Time, logger *log.Logger) {
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if t := w.Tick(); t == last {
				continue
			}
			path, tick, err := saveSnapshot(w, dir)
			if err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			last = tick
			logger.Printf("snapshot tick=%d path=%s", tick, path)
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
