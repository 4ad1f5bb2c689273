package log

import (
	"encoding/json"
	"testing"
	"time"

	"voxelpilot.ai/internal/navigate"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/runs"
	"voxelpilot.ai/internal/world"
)

func TestTraceLogger_WritesOneEntryPerEvent(t *testing.T) {
	dir := t.TempDir()
	l := NewTraceLogger(dir)
	l.w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) }

	goal := world.Position{X: 2, Y: 65, Z: 0}
	l.RunStarted(runs.Start{RunID: "r1", From: world.Position{Y: 65}, Goal: goal})
	l.Planned(runs.Plan{RunID: "r1", Found: true, Route: pathfind.Route{
		Positions: []world.Position{{Y: 65}, {X: 1, Y: 65}, goal},
		TotalCost: 2,
	}})
	l.Waypoint(runs.Waypoint{RunID: "r1", Outcome: navigate.Outcome{Index: 1, Target: goal, Result: "ARRIVED"}})
	l.RunFinished(runs.End{RunID: "r1", OK: true})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n, err := l.Err(); n != 0 || err != nil {
		t.Fatalf("failures=%d err=%v", n, err)
	}

	files, err := TraceFiles(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	entries, err := ReadTrace(files[0])
	if err != nil {
		t.Fatalf("ReadTrace: %v", err)
	}
	kinds := []string{KindRunStart, KindPlan, KindWaypoint, KindRunEnd}
	if len(entries) != len(kinds) {
		t.Fatalf("entries=%d", len(entries))
	}
	for i, e := range entries {
		if e.Kind != kinds[i] || e.RunID != "r1" {
			t.Fatalf("entry %d: kind=%s run=%s", i, e.Kind, e.RunID)
		}
	}

	var plan runs.Plan
	if err := json.Unmarshal(entries[1].Data, &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.Route.Goal() != goal || plan.Route.TotalCost != 2 {
		t.Fatalf("plan=%+v", plan)
	}
	var wp runs.Waypoint
	if err := json.Unmarshal(entries[2].Data, &wp); err != nil {
		t.Fatalf("decode waypoint: %v", err)
	}
	if wp.Index != 1 || wp.Result != "ARRIVED" || wp.Target != goal {
		t.Fatalf("waypoint=%+v", wp)
	}
}

func TestJSONLZstdWriter_RotatesHourlyAndAppends(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC)
	w := NewJSONLZstdWriter(dir, "runs")
	w.now = func() time.Time { return at }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening the same hour appends a second frame.
	w2 := NewJSONLZstdWriter(dir, "runs")
	w2.now = func() time.Time { return at }
	if err := w2.Write(map[string]int{"n": 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = w2.Close()

	files, _ := TraceFiles(dir)
	if len(files) != 0 {
		t.Fatalf("raw writer should not land under trace/: %v", files)
	}
	e1, err := ReadTrace(w.pathForHour("2026-03-01-09"))
	if err != nil || len(e1) != 1 {
		t.Fatalf("hour 09: n=%d err=%v", len(e1), err)
	}
	e2, err := ReadTrace(w.pathForHour("2026-03-01-10"))
	if err != nil || len(e2) != 2 {
		t.Fatalf("hour 10: n=%d err=%v", len(e2), err)
	}
}
