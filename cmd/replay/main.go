package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxelpilot.ai/internal/pathfind"
	tracelog "voxelpilot.ai/internal/persistence/log"
	"voxelpilot.ai/internal/persistence/snapshot"
	"voxelpilot.ai/internal/runs"
	"voxelpilot.ai/internal/world"
)

func main() {
	var (
		snapPath      = flag.String("snapshot", "", "path to .snap.zst")
		dataDir       = flag.String("data", "", "data dir holding trace/runs-*.jsonl.zst (optional)")
		runID         = flag.String("run", "", "run id to verify (default: snapshot file name)")
		fromFlag      = flag.String("from", "", "start cell x,y,z (overrides the traced run)")
		goalFlag      = flag.String("goal", "", "goal cell x,y,z (overrides the traced run)")
		maxRadius     = flag.Int("max_radius", 0, "planner max radius (0 = none; bounded snapshots still clip the search)")
		maxExpansions = flag.Int("max_expansions", pathfind.DefaultMaxExpansions, "planner expansion cap")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d world=%s tick=%d cells=%d bounds=%v..%v blocks=%s\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Header.Cells,
		snap.Min, snap.Max, formatCounts(snap.Counts()))

	id := strings.TrimSpace(*runID)
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(*snapPath), ".snap.zst")
	}
	var traced tracedRun
	if *dataDir != "" {
		files, err := tracelog.TraceFiles(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list trace:", err)
			os.Exit(1)
		}
		traced, err = findRun(files, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read trace:", err)
			os.Exit(1)
		}
	}

	from, goal, err := endpoints(traced, *fromFlag, *goalFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if from == nil || goal == nil {
		return
	}

	blocks, err := snap.World()
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode snapshot:", err)
		os.Exit(1)
	}
	res := pathfind.New(pathfind.Options{MaxRadius: *maxRadius, MaxExpansions: *maxExpansions}).Search(blocks, *from, *goal)
	fmt.Printf("plan %s -> %s found=%v steps=%d cost=%d (build=%d time=%d) expanded=%d pushed=%d stale=%d capped=%v\n",
		*from, *goal, res.Found, res.Route.Steps(), res.Route.TotalCost, res.Route.BuildCost, res.Route.TimeCost,
		res.Stats.Expanded, res.Stats.Pushed, res.Stats.Stale, res.Stats.Capped)
	if res.Found {
		out, _ := json.Marshal(res.Route.Positions)
		fmt.Printf("route %s\n", out)
	}

	if traced.Plan == nil {
		return
	}
	if err := compareRoutes(*traced.Plan, res); err != nil {
		fmt.Fprintln(os.Stderr, "replay mismatch:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: run=%s route matches trace\n", id)
}

type tracedRun struct {
	Start *runs.Start
	Plan  *runs.Plan
}

// findRun scans trace files for the start and plan events of runID.
func findRun(files []string, runID string) (tracedRun, error) {
	var out tracedRun
	for _, path := range files {
		entries, err := tracelog.ReadTrace(path)
		if err != nil {
			return out, err
		}
		for _, e := range entries {
			if e.RunID != runID {
				continue
			}
			switch e.Kind {
			case tracelog.KindRunStart:
				var s runs.Start
				if err := json.Unmarshal(e.Data, &s); err != nil {
					return out, fmt.Errorf("%s: run_start: %w", filepath.Base(path), err)
				}
				out.Start = &s
			case tracelog.KindPlan:
				var p runs.Plan
				if err := json.Unmarshal(e.Data, &p); err != nil {
					return out, fmt.Errorf("%s: plan: %w", filepath.Base(path), err)
				}
				out.Plan = &p
			}
		}
	}
	return out, nil
}

// endpoints resolves start and goal from flags, falling back to the traced run. Nil means
// unknown.
func endpoints(t tracedRun, fromFlag, goalFlag string) (*world.Position, *world.Position, error) {
	var from, goal *world.Position
	if t.Start != nil {
		f, g := t.Start.From, t.Start.Goal
		from, goal = &f, &g
	}
	if s := strings.TrimSpace(fromFlag); s != "" {
		p, err := world.ParsePosition(s)
		if err != nil {
			return nil, nil, fmt.Errorf("-from: %w", err)
		}
		from = &p
	}
	if s := strings.TrimSpace(goalFlag); s != "" {
		p, err := world.ParsePosition(s)
		if err != nil {
			return nil, nil, fmt.Errorf("-goal: %w", err)
		}
		goal = &p
	}
	return from, goal, nil
}

func compareRoutes(want runs.Plan, got pathfind.Result) error {
	if want.Found != got.Found {
		return fmt.Errorf("found: traced=%v replayed=%v", want.Found, got.Found)
	}
	if want.Route.TotalCost != got.Route.TotalCost {
		return fmt.Errorf("total cost: traced=%d replayed=%d", want.Route.TotalCost, got.Route.TotalCost)
	}
	if len(want.Route.Positions) != len(got.Route.Positions) {
		return fmt.Errorf("length: traced=%d replayed=%d", len(want.Route.Positions), len(got.Route.Positions))
	}
	for i := range want.Route.Positions {
		if want.Route.Positions[i] != got.Route.Positions[i] {
			return fmt.Errorf("waypoint %d: traced=%s replayed=%s", i, want.Route.Positions[i], got.Route.Positions[i])
		}
	}
	return nil
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
