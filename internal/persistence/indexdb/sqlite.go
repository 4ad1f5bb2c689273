package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelpilot.ai/internal/runs"
)

const DefaultQueueSize = 4096

// SQLiteIndex is a queryable secondary index of runs. Writes go through a bounded queue
// drained by one goroutine; when the queue is full events are dropped and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu is held for reading around every send on ch and for writing while ch is closed.
	mu     sync.RWMutex
	closed atomic.Bool

	dropStart    atomic.Uint64
	dropPlan     atomic.Uint64
	dropWaypoint atomic.Uint64
	dropEnd      atomic.Uint64
	writeErrors  atomic.Uint64
}

var _ runs.Sink = (*SQLiteIndex)(nil)

type reqKind int

const (
	reqStart reqKind = iota + 1
	reqPlan
	reqWaypoint
	reqEnd
	reqSync
)

type req struct {
	kind reqKind

	start    runs.Start
	plan     runs.Plan
	waypoint runs.Waypoint
	end      runs.End
	done     chan struct{}
}

// Stats reports queue pressure.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropStartTotal    uint64 `json:"drop_start_total"`
	DropPlanTotal     uint64 `json:"drop_plan_total"`
	DropWaypointTotal uint64 `json:"drop_waypoint_total"`
	DropEndTotal      uint64 `json:"drop_end_total"`
	WriteErrorsTotal  uint64 `json:"write_errors_total"`
}

func (s Stats) Dropped() uint64 {
	return s.DropStartTotal + s.DropPlanTotal + s.DropWaypointTotal + s.DropEndTotal
}

func OpenSQLite(path string, queueSize int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			agent TEXT NOT NULL DEFAULT '',
			transport TEXT NOT NULL DEFAULT '',
			from_x INTEGER NOT NULL DEFAULT 0,
			from_y INTEGER NOT NULL DEFAULT 0,
			from_z INTEGER NOT NULL DEFAULT 0,
			goal_x INTEGER NOT NULL DEFAULT 0,
			goal_y INTEGER NOT NULL DEFAULT 0,
			goal_z INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL DEFAULT '',
			plan_found INTEGER,
			plan_cost INTEGER,
			plan_steps INTEGER,
			expanded INTEGER,
			ended_at TEXT,
			ok INTEGER,
			error TEXT,
			arrived INTEGER,
			timed_out INTEGER,
			cleared INTEGER,
			secured INTEGER,
			elapsed_ms INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS waypoints (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			result TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			cleared INTEGER NOT NULL,
			secured INTEGER NOT NULL,
			PRIMARY KEY (run_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_waypoints_result ON waypoints(result);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropStartTotal:    s.dropStart.Load(),
		DropPlanTotal:     s.dropPlan.Load(),
		DropWaypointTotal: s.dropWaypoint.Load(),
		DropEndTotal:      s.dropEnd.Load(),
		WriteErrorsTotal:  s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Trace logs remain the source of truth.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RunStarted(e runs.Start) {
	s.enqueue(req{kind: reqStart, start: e}, &s.dropStart)
}

func (s *SQLiteIndex) Planned(e runs.Plan) {
	s.enqueue(req{kind: reqPlan, plan: e}, &s.dropPlan)
}

func (s *SQLiteIndex) Waypoint(e runs.Waypoint) {
	s.enqueue(req{kind: reqWaypoint, waypoint: e}, &s.dropWaypoint)
}

func (s *SQLiteIndex) RunFinished(e runs.End) {
	s.enqueue(req{kind: reqEnd, end: e}, &s.dropEnd)
}

// Sync waits until everything queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.send(ctx, req{kind: reqSync, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send blocks until r is queued, the index closes, or ctx ends.
func (s *SQLiteIndex) send(ctx context.Context, r req) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return fmt.Errorf("index closed")
	}
	select {
	case s.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			continue
		}
		if err := apply(ctx, tx, r); err != nil {
			s.writeErrors.Add(1)
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func apply(ctx context.Context, tx *sql.Tx, r req) error {
	switch r.kind {
	case reqStart:
		e := r.start
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs(run_id,agent,transport,from_x,from_y,from_z,goal_x,goal_y,goal_z,started_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(run_id) DO UPDATE SET agent=excluded.agent, transport=excluded.transport,
			   from_x=excluded.from_x, from_y=excluded.from_y, from_z=excluded.from_z,
			   goal_x=excluded.goal_x, goal_y=excluded.goal_y, goal_z=excluded.goal_z,
			   started_at=excluded.started_at`,
			e.RunID, e.Agent, e.Transport,
			e.From.X, e.From.Y, e.From.Z,
			e.Goal.X, e.Goal.Y, e.Goal.Z,
			e.At.UTC().Format(time.RFC3339Nano),
		)
		return err

	case reqPlan:
		e := r.plan
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs(run_id,plan_found,plan_cost,plan_steps,expanded) VALUES(?,?,?,?,?)
			 ON CONFLICT(run_id) DO UPDATE SET plan_found=excluded.plan_found, plan_cost=excluded.plan_cost,
			   plan_steps=excluded.plan_steps, expanded=excluded.expanded`,
			e.RunID, e.Found, e.Route.TotalCost, e.Route.Steps(), e.Stats.Expanded,
		)
		return err

	case reqWaypoint:
		e := r.waypoint
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO waypoints(run_id,idx,x,y,z,result,elapsed_ms,iterations,cleared,secured)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			e.RunID, e.Index, e.Target.X, e.Target.Y, e.Target.Z,
			e.Result, e.Elapsed.Milliseconds(), e.Iterations, e.Cleared, e.Secured,
		)
		return err

	case reqEnd:
		e := r.end
		sum := e.Summary
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs(run_id,ended_at,ok,error,arrived,timed_out,cleared,secured,elapsed_ms)
			 VALUES(?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(run_id) DO UPDATE SET ended_at=excluded.ended_at, ok=excluded.ok, error=excluded.error,
			   arrived=excluded.arrived, timed_out=excluded.timed_out, cleared=excluded.cleared,
			   secured=excluded.secured, elapsed_ms=excluded.elapsed_ms`,
			e.RunID, e.At.UTC().Format(time.RFC3339Nano), e.OK, e.Error,
			sum.Arrived, sum.TimedOut, sum.Cleared, sum.Secured, sum.Elapsed.Milliseconds(),
		)
		return err
	}
	return fmt.Errorf("unknown request kind %d", r.kind)
}
