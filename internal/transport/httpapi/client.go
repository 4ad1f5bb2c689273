package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/world"
)

// Client implements control.WorldControl against a world API base URL.
type Client struct {
	base string
	http *http.Client
}

var _ control.WorldControl = (*Client)(nil)
var _ control.Facer = (*Client)(nil)

// NewClient returns a client for baseURL. A nil hc uses a client with a 10s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) Position(ctx context.Context) (world.Vec3, error) {
	var resp protocol.AgentPos
	if err := c.get(ctx, protocol.PathPosition, nil, &resp); err != nil {
		return world.Vec3{}, control.Wrap(control.OpPosition, nil, err)
	}
	return resp.Vec(), nil
}

func (c *Client) Facing(ctx context.Context) (float64, float64, error) {
	var resp protocol.AgentPos
	if err := c.get(ctx, protocol.PathPosition, nil, &resp); err != nil {
		return 0, 0, control.Wrap(control.OpPosition, nil, err)
	}
	return resp.Yaw, resp.Pitch, nil
}

func (c *Client) BlockAt(ctx context.Context, pos world.Position) (world.BlockID, error) {
	var resp protocol.BlockResp
	if err := c.get(ctx, protocol.PathBlock, cell(pos), &resp); err != nil {
		return "", control.Wrap(control.OpBlockAt, control.At(pos), err)
	}
	return world.BlockID(resp.Block), nil
}

func (c *Client) BreakBlock(ctx context.Context, pos world.Position) error {
	return control.Wrap(control.OpBreakBlock, control.At(pos), c.get(ctx, protocol.PathBreak, cell(pos), nil))
}

func (c *Client) PlaceBlock(ctx context.Context, pos world.Position, block world.BlockID) error {
	q := cell(pos)
	q.Set("block", string(block))
	return control.Wrap(control.OpPlaceBlock, control.At(pos), c.get(ctx, protocol.PathPlace, q, nil))
}

func (c *Client) SetForward(ctx context.Context, pressed bool) error {
	q := url.Values{"pressed": {strconv.FormatBool(pressed)}}
	return control.Wrap(control.OpForward, nil, c.get(ctx, protocol.PathForward, q, nil))
}

func (c *Client) SetJump(ctx context.Context, pressed bool) error {
	q := url.Values{"pressed": {strconv.FormatBool(pressed)}}
	return control.Wrap(control.OpJump, nil, c.get(ctx, protocol.PathJump, q, nil))
}

func (c *Client) Look(ctx context.Context, yaw, pitch float64) error {
	q := url.Values{
		"yaw":   {strconv.FormatFloat(yaw, 'f', -1, 64)},
		"pitch": {strconv.FormatFloat(pitch, 'f', -1, 64)},
	}
	return control.Wrap(control.OpLook, nil, c.get(ctx, protocol.PathLook, q, nil))
}

func (c *Client) Snapshot(ctx context.Context, center world.Position, radius int) (*world.Snapshot, error) {
	q := cell(center)
	q.Set("r", strconv.Itoa(radius))
	var resp map[string]string
	if err := c.get(ctx, protocol.PathSnapshot, q, &resp); err != nil {
		return nil, control.Wrap(control.OpSnapshot, control.At(center), err)
	}
	snap, err := world.FromWireWithBounds(resp, world.Cube(center, radius))
	if err != nil {
		return nil, control.Wrap(control.OpSnapshot, control.At(center), err)
	}
	return snap, nil
}

// FindPath asks the server to plan from start to goal over a cube of the given radius.
func (c *Client) FindPath(ctx context.Context, start, goal world.Position, radius int) (protocol.FindPathResp, error) {
	q := url.Values{}
	for k, v := range map[string]int{
		"sx": start.X, "sy": start.Y, "sz": start.Z,
		"gx": goal.X, "gy": goal.Y, "gz": goal.Z,
		"r": radius,
	} {
		q.Set(k, strconv.Itoa(v))
	}
	var resp protocol.FindPathResp
	if err := c.get(ctx, protocol.PathFindPath, q, &resp); err != nil {
		return resp, fmt.Errorf("find_path: %w", err)
	}
	return resp, nil
}

func cell(p world.Position) url.Values {
	return url.Values{
		"x": {strconv.Itoa(p.X)},
		"y": {strconv.Itoa(p.Y)},
		"z": {strconv.Itoa(p.Z)},
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", control.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", control.ErrUnavailable, err)
	}
	if resp.StatusCode/100 != 2 {
		return decodeError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(status int, body []byte) *protocol.APIError {
	var e protocol.ErrorResp
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		return &protocol.APIError{Status: status, Code: e.Code, Message: e.Message}
	}
	code := protocol.ErrInternal
	switch {
	case status == http.StatusNotFound:
		code = protocol.ErrNotFound
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		code = protocol.ErrUnavailable
	case status/100 == 4:
		code = protocol.ErrBadRequest
	}
	return &protocol.APIError{Status: status, Code: code, Message: strings.TrimSpace(string(body))}
}
