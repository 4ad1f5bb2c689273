// Package pilot runs goto requests: locate the agent, capture its surroundings, plan a
// route and drive it.
package pilot

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/navigate"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/persistence/snapshot"
	"voxelpilot.ai/internal/runs"
	"voxelpilot.ai/internal/world"
)

const (
	DefaultSnapshotRadius = 64
	// MaxSnapshotRadius caps how far a capture is widened to reach a distant goal.
	MaxSnapshotRadius = 64
)

type Option func(*Pilot)

func WithLogger(l *log.Logger) Option {
	return func(p *Pilot) {
		if l != nil {
			p.log = l
		}
	}
}

func WithSink(s runs.Sink) Option { return func(p *Pilot) { p.sink = s } }

// WithSnapshotRadius sets the cube radius captured around the start cell. Goals farther away
// widen the capture, up to MaxSnapshotRadius.
func WithSnapshotRadius(r int) Option {
	return func(p *Pilot) {
		if r > 0 {
			p.radius = r
		}
	}
}

// WithSnapshotDir saves every planning snapshot under dir as <run id>.snap.zst.
func WithSnapshotDir(dir string) Option { return func(p *Pilot) { p.snapDir = dir } }

// WithIdentity labels runs with the agent name and transport kind.
func WithIdentity(agent, transport string) Option {
	return func(p *Pilot) { p.agent, p.transport = agent, transport }
}

func WithNavigatorOptions(opts ...navigate.Option) Option {
	return func(p *Pilot) { p.navOpts = append(p.navOpts, opts...) }
}

type Pilot struct {
	ctl     control.WorldControl
	planner *pathfind.Planner
	nav     navigate.Config
	navOpts []navigate.Option

	radius    int
	snapDir   string
	agent     string
	transport string

	sink runs.Sink
	log  *log.Logger

	newID func() string
	now   func() time.Time
}

func New(ctl control.WorldControl, planner *pathfind.Planner, nav navigate.Config, opts ...Option) *Pilot {
	if planner == nil {
		planner = pathfind.New(pathfind.Options{})
	}
	p := &Pilot{
		ctl:     ctl,
		planner: planner,
		nav:     nav,
		radius:  DefaultSnapshotRadius,
		sink:    runs.Sinks(nil),
		log:     log.New(io.Discard, "", 0),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.sink == nil {
		p.sink = runs.Sinks(nil)
	}
	return p
}

// Run is the record of one Plan or Goto call.
type Run struct {
	ID           string           `json:"run_id"`
	From         world.Position   `json:"from"`
	Goal         world.Position   `json:"goal"`
	Cells        int              `json:"cells"`
	Plan         pathfind.Result  `json:"-"`
	Route        pathfind.Route   `json:"route"`
	Stats        pathfind.Stats   `json:"stats"`
	Summary      navigate.Summary `json:"summary"`
	SnapshotPath string           `json:"snapshot_path,omitempty"`
}

// Plan captures the agent's surroundings and searches a route to goal without moving.
func (p *Pilot) Plan(ctx context.Context, goal world.Position) (Run, error) {
	run := Run{ID: p.newID(), Goal: goal}
	pos, err := p.ctl.Position(ctx)
	if err != nil {
		return run, err
	}
	run.From = pos.Cell()
	return p.plan(ctx, run)
}

func (p *Pilot) plan(ctx context.Context, run Run) (Run, error) {
	radius := p.snapshotRadius(run.From, run.Goal)
	snap, err := p.ctl.Snapshot(ctx, run.From, radius)
	if err != nil {
		return run, err
	}
	run.Cells = snap.Len()
	if p.snapDir != "" {
		run.SnapshotPath, err = p.saveSnapshot(run.ID, snap)
		if err != nil {
			p.log.Printf("run %s: save snapshot: %v", run.ID, err)
		}
	}

	began := p.now()
	run.Plan = p.planner.Search(snap, run.From, run.Goal)
	run.Route, run.Stats = run.Plan.Route, run.Plan.Stats
	p.sink.Planned(runs.Plan{
		RunID:    run.ID,
		Found:    run.Plan.Found,
		Radius:   radius,
		Cells:    run.Cells,
		Route:    run.Route,
		Stats:    run.Stats,
		Duration: p.now().Sub(began),
	})
	p.log.Printf("run %s: plan %s -> %s radius=%d found=%v cost=%d steps=%d expanded=%d",
		run.ID, run.From, run.Goal, radius, run.Plan.Found, run.Route.TotalCost, run.Route.Steps(), run.Stats.Expanded)
	if !run.Plan.Found {
		return run, fmt.Errorf("%s -> %s within radius %d: %w", run.From, run.Goal, radius, pathfind.ErrNoRoute)
	}
	return run, nil
}

// snapshotRadius is the configured radius, widened to one past the Manhattan distance to goal
// so the capture leaves room to walk around obstacles on the way.
func (p *Pilot) snapshotRadius(from, goal world.Position) int {
	if need := min(from.Manhattan(goal)+1, MaxSnapshotRadius); need > p.radius {
		return need
	}
	return p.radius
}

// Goto plans a route to goal and drives the agent along it. A missing route is reported
// as pathfind.ErrNoRoute; timed-out waypoints are not errors.
func (p *Pilot) Goto(ctx context.Context, goal world.Position) (Run, error) {
	run := Run{ID: p.newID(), Goal: goal}
	pos, err := p.ctl.Position(ctx)
	if err != nil {
		return run, err
	}
	run.From = pos.Cell()
	p.sink.RunStarted(runs.Start{
		RunID:     run.ID,
		Agent:     p.agent,
		Transport: p.transport,
		From:      run.From,
		Goal:      goal,
		At:        p.now().UTC(),
	})

	run, err = p.plan(ctx, run)
	if err != nil {
		p.finish(run, err)
		return run, err
	}

	opts := append([]navigate.Option{
		navigate.WithLogger(p.log),
		navigate.WithRecorder(runs.Recorder(p.sink, run.ID)),
	}, p.navOpts...)
	run.Summary, err = navigate.New(p.ctl, p.nav, opts...).Execute(ctx, run.Route)
	p.finish(run, err)
	if err != nil {
		return run, err
	}
	p.log.Printf("run %s: done arrived=%d timed_out=%d cleared=%d secured=%d in %s",
		run.ID, run.Summary.Arrived, run.Summary.TimedOut, run.Summary.Cleared, run.Summary.Secured,
		run.Summary.Elapsed.Round(time.Millisecond))
	return run, nil
}

func (p *Pilot) finish(run Run, err error) {
	end := runs.End{RunID: run.ID, OK: err == nil, Summary: run.Summary, At: p.now().UTC()}
	if err != nil {
		end.Error = err.Error()
		p.log.Printf("run %s: failed: %v", run.ID, err)
	}
	p.sink.RunFinished(end)
}

func (p *Pilot) saveSnapshot(runID string, s *world.Snapshot) (string, error) {
	snap, err := snapshot.FromWorld(p.agent, 0, s)
	if err != nil {
		return "", err
	}
	path := filepath.Join(p.snapDir, runID+".snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	return path, nil
}
