// Package httpapi speaks the world-control API over plain HTTP GET endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/world"
)

type Option func(*Handler)

func WithLogger(l *log.Logger) Option { return func(h *Handler) { h.log = l } }

// WithPlanner sets the planner behind /find_path.
func WithPlanner(p *pathfind.Planner) Option { return func(h *Handler) { h.planner = p } }

// Handler serves the world API on top of any control.WorldControl.
type Handler struct {
	ctl     control.WorldControl
	log     *log.Logger
	planner *pathfind.Planner
	mux     *http.ServeMux
}

func NewHandler(ctl control.WorldControl, opts ...Option) *Handler {
	h := &Handler{
		ctl:     ctl,
		log:     log.New(io.Discard, "", 0),
		planner: pathfind.New(pathfind.Options{}),
		mux:     http.NewServeMux(),
	}
	for _, o := range opts {
		o(h)
	}
	h.mux.HandleFunc(protocol.PathPosition, h.position)
	h.mux.HandleFunc(protocol.PathBlock, h.blockStatus)
	h.mux.HandleFunc(protocol.PathBreak, h.breakBlock)
	h.mux.HandleFunc(protocol.PathPlace, h.placeBlock)
	h.mux.HandleFunc(protocol.PathForward, h.key(ctl.SetForward))
	h.mux.HandleFunc(protocol.PathJump, h.key(ctl.SetJump))
	h.mux.HandleFunc(protocol.PathLook, h.look)
	h.mux.HandleFunc(protocol.PathSnapshot, h.snapshot)
	h.mux.HandleFunc(protocol.PathFindPath, h.findPath)
	return h
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, p := range []string{
		protocol.PathPosition, protocol.PathBlock, protocol.PathBreak, protocol.PathPlace,
		protocol.PathForward, protocol.PathJump, protocol.PathLook, protocol.PathSnapshot,
		protocol.PathFindPath,
	} {
		mux.Handle(p, h)
	}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if _, pattern := h.mux.Handler(r); pattern == "" {
		writeError(rw, &protocol.APIError{Status: http.StatusNotFound, Code: protocol.ErrNotFound, Message: "unknown endpoint " + r.URL.Path})
		return
	}
	h.mux.ServeHTTP(rw, r)
}

func (h *Handler) position(rw http.ResponseWriter, r *http.Request) {
	v, err := h.ctl.Position(r.Context())
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	resp := protocol.AgentPos{X: v.X, Y: v.Y, Z: v.Z}
	if f, ok := h.ctl.(control.Facer); ok {
		yaw, pitch, err := f.Facing(r.Context())
		if err != nil {
			h.fail(rw, r, err)
			return
		}
		resp.Yaw, resp.Pitch = yaw, pitch
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (h *Handler) blockStatus(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := cellParam(q, "x", "y", "z")
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	id, err := h.ctl.BlockAt(r.Context(), p)
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.BlockResp{X: p.X, Y: p.Y, Z: p.Z, Block: string(id)})
}

func (h *Handler) breakBlock(rw http.ResponseWriter, r *http.Request) {
	p, err := cellParam(r.URL.Query(), "x", "y", "z")
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	h.ack(rw, r, h.ctl.BreakBlock(r.Context(), p))
}

func (h *Handler) placeBlock(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := cellParam(q, "x", "y", "z")
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	block := strings.TrimSpace(q.Get("block"))
	if block == "" {
		h.fail(rw, r, badParam("block", "required"))
		return
	}
	h.ack(rw, r, h.ctl.PlaceBlock(r.Context(), p, world.BlockID(block)))
}

func (h *Handler) key(set func(context.Context, bool) error) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		pressed, err := strconv.ParseBool(r.URL.Query().Get("pressed"))
		if err != nil {
			h.fail(rw, r, badParam("pressed", "want true or false"))
			return
		}
		h.ack(rw, r, set(r.Context(), pressed))
	}
}

func (h *Handler) look(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	yaw, err := floatParam(q, "yaw")
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	pitch, err := floatParam(q, "pitch")
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	h.ack(rw, r, h.ctl.Look(r.Context(), yaw, pitch))
}

// snapshot answers with every cell in the cube, centred on x,y,z when given and on the
// agent's cell otherwise.
func (h *Handler) snapshot(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	radius, err := radiusParam(q)
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	var center world.Position
	if q.Has("x") || q.Has("y") || q.Has("z") {
		if center, err = cellParam(q, "x", "y", "z"); err != nil {
			h.fail(rw, r, err)
			return
		}
	} else {
		v, err := h.ctl.Position(r.Context())
		if err != nil {
			h.fail(rw, r, err)
			return
		}
		center = v.Cell()
	}
	snap, err := h.ctl.Snapshot(r.Context(), center, radius)
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, snap.Wire())
}

func (h *Handler) findPath(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := cellParam(q, "sx", "sy", "sz")
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	goal, err := cellParam(q, "gx", "gy", "gz")
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	radius, err := radiusParam(q)
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	snap, err := h.ctl.Snapshot(r.Context(), start, radius)
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	res := h.planner.Search(snap, start, goal)
	h.log.Printf("find_path %s -> %s r=%d found=%v cost=%d expanded=%d", start, goal, radius, res.Found, res.Route.TotalCost, res.Stats.Expanded)
	writeJSON(rw, http.StatusOK, protocol.FindPathResp{Found: res.Found, Route: res.Route, Stats: res.Stats})
}

func (h *Handler) ack(rw http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.AckResp{OK: true})
}

func (h *Handler) fail(rw http.ResponseWriter, r *http.Request, err error) {
	code := protocol.CodeFor(err)
	if code == protocol.ErrInternal {
		h.log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(rw, &protocol.APIError{Status: protocol.StatusFor(code), Code: code, Message: err.Error()})
}

func writeError(rw http.ResponseWriter, e *protocol.APIError) {
	writeJSON(rw, e.Status, protocol.ErrorResp{Code: e.Code, Message: e.Message})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func badParam(name, why string) error {
	return fmt.Errorf("%w: query parameter %q: %s", control.ErrRejected, name, why)
}

func intParam(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, badParam(name, "required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badParam(name, "want an integer")
	}
	return n, nil
}

func floatParam(q url.Values, name string) (float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, badParam(name, "required")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, badParam(name, "want a number")
	}
	return f, nil
}

func cellParam(q url.Values, xn, yn, zn string) (world.Position, error) {
	var p world.Position
	var err error
	if p.X, err = intParam(q, xn); err != nil {
		return p, err
	}
	if p.Y, err = intParam(q, yn); err != nil {
		return p, err
	}
	if p.Z, err = intParam(q, zn); err != nil {
		return p, err
	}
	return p, nil
}

func radiusParam(q url.Values) (int, error) {
	if !q.Has("r") {
		return protocol.DefaultRadius, nil
	}
	r, err := intParam(q, "r")
	if err != nil {
		return 0, err
	}
	if r < 0 || r > protocol.MaxRadius {
		return 0, badParam("r", fmt.Sprintf("want 0..%d", protocol.MaxRadius))
	}
	return r, nil
}
