package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelpilot.ai/internal/runs"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	// Each rotation opens a fresh zstd frame; readers decode concatenated frames.
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Entry kinds in a run trace.
const (
	KindRunStart = "run_start"
	KindPlan     = "plan"
	KindWaypoint = "waypoint"
	KindRunEnd   = "run_end"
)

// Entry is one trace line. Data holds the event for Kind.
type Entry struct {
	Kind  string          `json:"kind"`
	RunID string          `json:"run_id"`
	T     time.Time       `json:"t"`
	Data  json.RawMessage `json:"data"`
}

// TraceLogger writes every run event as one compressed JSONL entry. Write failures are
// counted and the first one is kept; tracing never fails a run.
type TraceLogger struct {
	w *JSONLZstdWriter

	mu       sync.Mutex
	failures int
	firstErr error
}

var _ runs.Sink = (*TraceLogger)(nil)

func NewTraceLogger(dataDir string) *TraceLogger {
	return &TraceLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "trace"), "runs")}
}

func (l *TraceLogger) RunStarted(e runs.Start) { l.write(KindRunStart, e.RunID, e) }
func (l *TraceLogger) Planned(e runs.Plan)     { l.write(KindPlan, e.RunID, e) }
func (l *TraceLogger) Waypoint(e runs.Waypoint) {
	l.write(KindWaypoint, e.RunID, e)
}
func (l *TraceLogger) RunFinished(e runs.End) { l.write(KindRunEnd, e.RunID, e) }

// Err returns the number of failed writes and the first failure.
func (l *TraceLogger) Err() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures, l.firstErr
}

func (l *TraceLogger) Close() error { return l.w.Close() }

func (l *TraceLogger) write(kind, runID string, v any) {
	data, err := json.Marshal(v)
	if err == nil {
		err = l.w.Write(Entry{Kind: kind, RunID: runID, T: l.w.now().UTC(), Data: data})
	}
	if err != nil {
		l.mu.Lock()
		l.failures++
		if l.firstErr == nil {
			l.firstErr = err
		}
		l.mu.Unlock()
	}
}

// ReadTrace decodes every entry of one trace file.
func ReadTrace(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024))
	for {
		var e Entry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: entry %d: %w", path, len(out), err)
		}
		out = append(out, e)
	}
}

// TraceFiles lists the trace files under dataDir, oldest first.
func TraceFiles(dataDir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "trace", "runs-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
