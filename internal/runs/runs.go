// Package runs defines the events one goto run emits and the sinks that consume them.
package runs

import (
	"time"

	"voxelpilot.ai/internal/navigate"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/world"
)

type Start struct {
	RunID     string         `json:"run_id"`
	Agent     string         `json:"agent,omitempty"`
	Transport string         `json:"transport,omitempty"`
	From      world.Position `json:"from"`
	Goal      world.Position `json:"goal"`
	At        time.Time      `json:"at"`
}

type Plan struct {
	RunID    string         `json:"run_id"`
	Found    bool           `json:"found"`
	Radius   int            `json:"radius"`
	Cells    int            `json:"cells"`
	Route    pathfind.Route `json:"route"`
	Stats    pathfind.Stats `json:"stats"`
	Duration time.Duration  `json:"duration_ns"`
}

type Waypoint struct {
	RunID string `json:"run_id"`
	navigate.Outcome
}

type End struct {
	RunID   string           `json:"run_id"`
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Summary navigate.Summary `json:"summary"`
	At      time.Time        `json:"at"`
}

// Sink consumes run events. Implementations must not block the caller for long.
type Sink interface {
	RunStarted(Start)
	Planned(Plan)
	Waypoint(Waypoint)
	RunFinished(End)
}

// Sinks fans every event out to each non-nil sink.
type Sinks []Sink

func (ss Sinks) RunStarted(e Start) {
	for _, s := range ss {
		if s != nil {
			s.RunStarted(e)
		}
	}
}

func (ss Sinks) Planned(e Plan) {
	for _, s := range ss {
		if s != nil {
			s.Planned(e)
		}
	}
}

func (ss Sinks) Waypoint(e Waypoint) {
	for _, s := range ss {
		if s != nil {
			s.Waypoint(e)
		}
	}
}

func (ss Sinks) RunFinished(e End) {
	for _, s := range ss {
		if s != nil {
			s.RunFinished(e)
		}
	}
}

// Recorder adapts a sink to navigate.Recorder for one run.
func Recorder(s Sink, runID string) navigate.Recorder {
	return recorder{sink: s, runID: runID}
}

type recorder struct {
	sink  Sink
	runID string
}

func (r recorder) RecordWaypoint(o navigate.Outcome) {
	r.sink.Waypoint(Waypoint{RunID: r.runID, Outcome: o})
}
