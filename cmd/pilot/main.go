package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/metrics"
	"voxelpilot.ai/internal/navigate"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/persistence/indexdb"
	tracelog "voxelpilot.ai/internal/persistence/log"
	"voxelpilot.ai/internal/pilot"
	"voxelpilot.ai/internal/runs"
	"voxelpilot.ai/internal/transport/httpapi"
	"voxelpilot.ai/internal/transport/ws"
	"voxelpilot.ai/internal/tuning"
	"voxelpilot.ai/internal/world"
)

func main() { os.Exit(run()) }

// run returns the process exit code: 0 on success, 2 when no route exists, 1 otherwise.
func run() int {
	var (
		tuningPath  = flag.String("tuning", "./configs/pilot.yaml", "path to pilot.yaml (empty for defaults)")
		kind        = flag.String("transport", "", "override transport.kind (http|ws)")
		baseURL     = flag.String("url", "", "override transport.http_base_url or transport.ws_url")
		name        = flag.String("name", "", "override transport.agent_name")
		token       = flag.String("token", "", "WS HELLO token (or set VP_WS_TOKEN)")
		goalFlag    = flag.String("goal", "", "goal cell as x,y,z")
		planOnly    = flag.Bool("plan_only", false, "plan and print the route without moving")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		metricsAddr = flag.String("metrics_addr", "", "serve /metrics on this address while running (empty disables)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[pilot] ", log.LstdFlags|log.Lmicroseconds)

	goal, err := world.ParsePosition(*goalFlag)
	if err != nil {
		logger.Printf("-goal: %v", err)
		return 1
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Printf("load tuning: %v", err)
			return 1
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	applyOverrides(&tune, *kind, *baseURL, *name)
	if err := tune.Validate(); err != nil {
		logger.Printf("tuning: %v", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	ctl, closeCtl, err := connect(ctx, tune, *token)
	if err != nil {
		logger.Printf("connect: %v", err)
		return 1
	}
	defer closeCtl()

	m := metrics.New()
	sinks, closeSinks, err := openSinks(tune, *dataDir, m, logger)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	defer closeSinks()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics: %v", err)
			}
		}()
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
	}

	opts := []pilot.Option{
		pilot.WithLogger(logger),
		pilot.WithSink(sinks),
		pilot.WithSnapshotRadius(tune.Planner.SnapshotRadius),
		pilot.WithIdentity(tune.Transport.AgentName, tune.Transport.Kind),
		pilot.WithNavigatorOptions(navigate.WithLogger(log.New(os.Stderr, "[nav] ", log.LstdFlags|log.Lmicroseconds))),
	}
	if tune.Persistence.SaveSnapshots {
		opts = append(opts, pilot.WithSnapshotDir(filepath.Join(*dataDir, "runs", "snapshots")))
	}
	p := pilot.New(ctl, pathfind.New(tune.PlannerOptions()), tune.NavigatorConfig(), opts...)

	var r pilot.Run
	if *planOnly {
		r, err = p.Plan(ctx, goal)
	} else {
		r, err = p.Goto(ctx, goal)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(r)

	switch {
	case err == nil:
		return 0
	case errors.Is(err, pathfind.ErrNoRoute):
		logger.Printf("no route: %v", err)
		return 2
	default:
		logger.Printf("run failed: %v", err)
		return 1
	}
}

// openSinks builds the run event fan-out: metrics always, then the trace log and the sqlite
// index when enabled. The returned func flushes and closes them.
func openSinks(t tuning.Tuning, dataDir string, m *metrics.Collector, logger *log.Logger) (runs.Sinks, func(), error) {
	sinks := runs.Sinks{m}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if t.Persistence.TraceEnabled {
		trace := tracelog.NewTraceLogger(dataDir)
		closers = append(closers, func() {
			if n, err := trace.Err(); n > 0 {
				logger.Printf("trace: %d write failures, last: %v", n, err)
			}
			_ = trace.Close()
		})
		sinks = append(sinks, trace)
	}
	if t.Persistence.IndexEnabled {
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "runs.sqlite"), t.Persistence.IndexQueueSize)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open index: %w", err)
		}
		closers = append(closers, func() {
			if st := idx.Stats(); st.Dropped() > 0 || st.WriteErrorsTotal > 0 {
				logger.Printf("index: dropped=%d write_errors=%d", st.Dropped(), st.WriteErrorsTotal)
			}
			_ = idx.Close()
		})
		m.GaugeFunc("index_queue_depth", "Queued index writes.", func() float64 { return float64(idx.Stats().QueueDepth) })
		m.GaugeFunc("index_dropped", "Index writes dropped on a full queue.", func() float64 { return float64(idx.Stats().Dropped()) })
		sinks = append(sinks, idx)
	}
	return sinks, closeAll, nil
}

func applyOverrides(t *tuning.Tuning, kind, url, name string) {
	if kind = strings.TrimSpace(kind); kind != "" {
		t.Transport.Kind = kind
	}
	if url = strings.TrimSpace(url); url != "" {
		if strings.EqualFold(t.Transport.Kind, tuning.TransportWS) {
			t.Transport.WSURL = url
		} else {
			t.Transport.HTTPBaseURL = url
		}
	}
	if name = strings.TrimSpace(name); name != "" {
		t.Transport.AgentName = name
	}
	t.Normalize()
}

// connect builds the world controller for the configured transport. The returned func
// releases it.
func connect(ctx context.Context, t tuning.Tuning, token string) (control.WorldControl, func(), error) {
	switch t.Transport.Kind {
	case tuning.TransportWS:
		if token = strings.TrimSpace(token); token == "" {
			token = strings.TrimSpace(os.Getenv("VP_WS_TOKEN"))
		}
		opts := []ws.DialOption{ws.WithCallTimeout(t.RequestTimeout())}
		if token != "" {
			opts = append(opts, ws.WithAuthToken(token))
		}
		c, err := ws.Dial(ctx, t.Transport.WSURL, t.Transport.AgentName, opts...)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		var hc *http.Client
		if d := t.RequestTimeout(); d > 0 {
			hc = &http.Client{Timeout: d}
		}
		return httpapi.NewClient(t.Transport.HTTPBaseURL, hc), func() {}, nil
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
