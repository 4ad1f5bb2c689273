package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelpilot.ai/internal/sim"
	"voxelpilot.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "sim", "world id")
		tuningPath = flag.String("tuning", "./configs/pilot.yaml", "path to pilot.yaml (empty for defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		token      = flag.String("token", "", "shared token required in HELLO (or set VP_WS_TOKEN)")

		snapPath      = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest    = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		snapshotEvery = flag.Duration("snapshot_every", 0, "write a snapshot at this interval (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[simworld] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	cfg := tune.SimConfig(*worldID)
	cfg.Logger = logger
	w, err := sim.New(cfg)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	snapDir := filepath.Join(*dataDir, "worlds", *worldID, "snapshots")
	loaded, err := loadWorld(w, strings.TrimSpace(*snapPath), snapDir, *loadLatest)
	if err != nil {
		logger.Fatalf("load snapshot: %v", err)
	}
	if loaded != "" {
		logger.Printf("resumed from snapshot=%s tick=%d agent=%s", filepath.Base(loaded), w.Tick(), w.Agent())
	} else {
		w.FlatFloor(tune.Sim.FloorRadius, tune.Sim.FloorY)
		logger.Printf("fresh flat world radius=%d floor_y=%d", tune.Sim.FloorRadius, tune.Sim.FloorY)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *snapshotEvery > 0 {
		t := time.NewTicker(*snapshotEvery)
		defer t.Stop()
		go runSnapshotLoop(ctx, w, snapDir, t.C, logger)
	}

	wsToken := strings.TrimSpace(*token)
	if wsToken == "" {
		wsToken = strings.TrimSpace(os.Getenv("VP_WS_TOKEN"))
	}
	mux := newMux(w, serverConfig{
		SnapshotDir: snapDir,
		Token:       wsToken,
		Planner:     tune.PlannerOptions(),
		EnableAdmin: envBool("VP_ENABLE_ADMIN_HTTP", true),
		EnablePprof: envBool("VP_ENABLE_PPROF_HTTP", false),
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s", *addr, *worldID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
