package indexdb

import (
	"context"
	"database/sql"
	"time"

	"voxelpilot.ai/internal/world"
)

type RunRow struct {
	RunID     string         `json:"run_id"`
	Agent     string         `json:"agent"`
	Transport string         `json:"transport"`
	From      world.Position `json:"from"`
	Goal      world.Position `json:"goal"`
	StartedAt string         `json:"started_at"`

	PlanFound bool `json:"plan_found"`
	PlanCost  int  `json:"plan_cost"`
	PlanSteps int  `json:"plan_steps"`
	Expanded  int  `json:"expanded"`

	Finished bool          `json:"finished"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Arrived  int           `json:"arrived"`
	TimedOut int           `json:"timed_out"`
	Cleared  int           `json:"cleared"`
	Secured  int           `json:"secured"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

type WaypointRow struct {
	Index      int            `json:"index"`
	Target     world.Position `json:"target"`
	Result     string         `json:"result"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
	Iterations int            `json:"iterations"`
	Cleared    int            `json:"cleared"`
	Secured    int            `json:"secured"`
}

// Runs returns up to limit runs, newest first. Queued writes are committed first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, agent, transport,
		from_x, from_y, from_z, goal_x, goal_y, goal_z, started_at,
		plan_found, plan_cost, plan_steps, expanded,
		ended_at, ok, error, arrived, timed_out, cleared, secured, elapsed_ms
		FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r                                   RunRow
			found, ok                           sql.NullBool
			cost, steps, expanded               sql.NullInt64
			arrived, timedOut, cleared, secured sql.NullInt64
			elapsedMS                           sql.NullInt64
			endedAt, errText                    sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Agent, &r.Transport,
			&r.From.X, &r.From.Y, &r.From.Z, &r.Goal.X, &r.Goal.Y, &r.Goal.Z, &r.StartedAt,
			&found, &cost, &steps, &expanded,
			&endedAt, &ok, &errText, &arrived, &timedOut, &cleared, &secured, &elapsedMS,
		); err != nil {
			return nil, err
		}
		r.PlanFound = found.Bool
		r.PlanCost = int(cost.Int64)
		r.PlanSteps = int(steps.Int64)
		r.Expanded = int(expanded.Int64)
		r.Finished = endedAt.Valid
		r.OK = ok.Bool
		r.Error = errText.String
		r.Arrived = int(arrived.Int64)
		r.TimedOut = int(timedOut.Int64)
		r.Cleared = int(cleared.Int64)
		r.Secured = int(secured.Int64)
		r.Elapsed = time.Duration(elapsedMS.Int64) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Waypoints returns one run's waypoint outcomes in route order.
func (s *SQLiteIndex) Waypoints(ctx context.Context, runID string) ([]WaypointRow, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT idx, x, y, z, result, elapsed_ms, iterations, cleared, secured
		FROM waypoints WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WaypointRow
	for rows.Next() {
		var w WaypointRow
		var elapsedMS int64
		if err := rows.Scan(&w.Index, &w.Target.X, &w.Target.Y, &w.Target.Z, &w.Result,
			&elapsedMS, &w.Iterations, &w.Cleared, &w.Secured); err != nil {
			return nil, err
		}
		w.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, w)
	}
	return out, rows.Err()
}
