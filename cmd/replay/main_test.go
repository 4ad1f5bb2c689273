package main

import (
	"testing"

	"voxelpilot.ai/internal/pathfind"
	tracelog "voxelpilot.ai/internal/persistence/log"
	"voxelpilot.ai/internal/runs"
	"voxelpilot.ai/internal/world"
)

func TestFindRun_ReadsStartAndPlan(t *testing.T) {
	dir := t.TempDir()
	route := pathfind.Route{
		Positions: []world.Position{{X: 0, Y: 65, Z: 0}, {X: 1, Y: 65, Z: 0}},
		TotalCost: 1,
	}
	l := tracelog.NewTraceLogger(dir)
	l.RunStarted(runs.Start{RunID: "other", Goal: world.Position{X: 9}})
	l.RunStarted(runs.Start{RunID: "r1", From: route.Positions[0], Goal: route.Positions[1]})
	l.Planned(runs.Plan{RunID: "r1", Found: true, Route: route})
	l.RunFinished(runs.End{RunID: "r1", OK: true})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := tracelog.TraceFiles(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	got, err := findRun(files, "r1")
	if err != nil {
		t.Fatalf("findRun: %v", err)
	}
	if got.Start == nil || got.Start.Goal != route.Positions[1] {
		t.Fatalf("start=%+v", got.Start)
	}
	if got.Plan == nil || !got.Plan.Found || got.Plan.Route.TotalCost != 1 {
		t.Fatalf("plan=%+v", got.Plan)
	}

	missing, err := findRun(files, "nope")
	if err != nil || missing.Start != nil || missing.Plan != nil {
		t.Fatalf("missing=%+v err=%v", missing, err)
	}
}

func TestEndpoints_FlagsOverrideTrace(t *testing.T) {
	tr := tracedRun{Start: &runs.Start{From: world.Position{X: 1}, Goal: world.Position{X: 2}}}

	from, goal, err := endpoints(tr, "", "5,6,7")
	if err != nil {
		t.Fatalf("endpoints: %v", err)
	}
	if *from != (world.Position{X: 1}) || *goal != (world.Position{X: 5, Y: 6, Z: 7}) {
		t.Fatalf("from=%s goal=%s", from, goal)
	}

	from, goal, err = endpoints(tracedRun{}, "", "")
	if err != nil || from != nil || goal != nil {
		t.Fatalf("want nothing, got %v %v %v", from, goal, err)
	}

	if _, _, err := endpoints(tracedRun{}, "1,2", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCompareRoutes(t *testing.T) {
	snap := world.NewSnapshotWithBounds(map[world.Position]world.BlockID{
		{X: 0, Y: 64, Z: 0}: world.Stone,
		{X: 1, Y: 64, Z: 0}: world.Stone,
		{X: 2, Y: 64, Z: 0}: world.Stone,
	}, world.Cube(world.Position{X: 1, Y: 65, Z: 0}, 3))
	res := pathfind.New(pathfind.Options{}).Search(snap, world.Position{X: 0, Y: 65, Z: 0}, world.Position{X: 2, Y: 65, Z: 0})
	if !res.Found {
		t.Fatalf("no route")
	}

	if err := compareRoutes(runs.Plan{Found: true, Route: res.Route}, res); err != nil {
		t.Fatalf("same route: %v", err)
	}

	bent := res.Route
	bent.Positions = append([]world.Position(nil), res.Route.Positions...)
	bent.Positions[1] = world.Position{X: 1, Y: 66, Z: 0}
	if err := compareRoutes(runs.Plan{Found: true, Route: bent}, res); err == nil {
		t.Fatalf("expected waypoint mismatch")
	}
	if err := compareRoutes(runs.Plan{Found: false}, res); err == nil {
		t.Fatalf("expected found mismatch")
	}
}
