package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/world"
)

type DialOption func(*Client)

func WithAuthToken(token string) DialOption { return func(c *Client) { c.token = token } }

// WithCallTimeout bounds each call when the context carries no earlier deadline.
func WithCallTimeout(d time.Duration) DialOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client implements control.WorldControl over one WS session. Calls are serialized:
// one request is in flight at a time.
type Client struct {
	token   string
	timeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	welcome protocol.WelcomeMsg
	seq     uint64
	broken  error
}

var _ control.WorldControl = (*Client)(nil)
var _ control.Facer = (*Client)(nil)

// Dial connects to url and completes the HELLO/WELCOME handshake as name.
func Dial(ctx context.Context, url, name string, opts ...DialOption) (*Client, error) {
	c := &Client{timeout: 10 * time.Second}
	for _, o := range opts {
		o(c)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", url, control.ErrUnavailable, err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       name,
	}
	if c.token != "" {
		hello.Auth = &protocol.HelloAuth{Token: c.token}
	}
	if err := writeJSON(conn, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await WELCOME: %w: %w", control.ErrUnavailable, err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	if err := json.Unmarshal(msg, &c.welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	closeWith(c.conn, websocket.CloseNormalClosure, "bye")
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, req protocol.CallMsg) (protocol.ResultMsg, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return protocol.ResultMsg{}, fmt.Errorf("%w: connection lost: %w", control.ErrUnavailable, c.broken)
	}
	if err := ctx.Err(); err != nil {
		return protocol.ResultMsg{}, err
	}

	c.seq++
	req.Type = protocol.TypeCall
	req.ProtocolVersion = protocol.Version
	req.ReqID = "R" + strconv.FormatUint(c.seq, 10)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	// Unblock the read when ctx ends first; the connection is unusable afterwards.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	b, err := json.Marshal(req)
	if err != nil {
		return protocol.ResultMsg{}, err
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return protocol.ResultMsg{}, c.fail(ctx, err)
	}

	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.ResultMsg{}, c.fail(ctx, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeResult {
			continue
		}
		var res protocol.ResultMsg
		if err := json.Unmarshal(msg, &res); err != nil {
			return protocol.ResultMsg{}, fmt.Errorf("decode RESULT: %w", err)
		}
		if res.ReqID != req.ReqID {
			continue
		}
		if !res.OK {
			return res, &protocol.APIError{Code: res.Code, Message: res.Message}
		}
		return res, nil
	}
}

func (c *Client) fail(ctx context.Context, err error) error {
	c.broken = err
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", control.ErrUnavailable, ctxErr)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: closed by server: %w", control.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", control.ErrUnavailable, err)
}

func (c *Client) Position(ctx context.Context) (world.Vec3, error) {
	res, err := c.call(ctx, protocol.CallMsg{Op: control.OpPosition})
	if err != nil {
		return world.Vec3{}, control.Wrap(control.OpPosition, nil, err)
	}
	if res.Agent == nil {
		return world.Vec3{}, control.Wrap(control.OpPosition, nil, errors.New("RESULT without agent"))
	}
	return res.Agent.Vec(), nil
}

func (c *Client) Facing(ctx context.Context) (float64, float64, error) {
	res, err := c.call(ctx, protocol.CallMsg{Op: control.OpPosition})
	if err != nil {
		return 0, 0, control.Wrap(control.OpPosition, nil, err)
	}
	if res.Agent == nil {
		return 0, 0, control.Wrap(control.OpPosition, nil, errors.New("RESULT without agent"))
	}
	return res.Agent.Yaw, res.Agent.Pitch, nil
}

func (c *Client) BlockAt(ctx context.Context, pos world.Position) (world.BlockID, error) {
	res, err := c.call(ctx, protocol.CallMsg{Op: control.OpBlockAt, Pos: &pos})
	if err != nil {
		return "", control.Wrap(control.OpBlockAt, control.At(pos), err)
	}
	return world.BlockID(res.Block), nil
}

func (c *Client) BreakBlock(ctx context.Context, pos world.Position) error {
	_, err := c.call(ctx, protocol.CallMsg{Op: control.OpBreakBlock, Pos: &pos})
	return control.Wrap(control.OpBreakBlock, control.At(pos), err)
}

func (c *Client) PlaceBlock(ctx context.Context, pos world.Position, block world.BlockID) error {
	_, err := c.call(ctx, protocol.CallMsg{Op: control.OpPlaceBlock, Pos: &pos, Block: string(block)})
	return control.Wrap(control.OpPlaceBlock, control.At(pos), err)
}

func (c *Client) SetForward(ctx context.Context, pressed bool) error {
	_, err := c.call(ctx, protocol.CallMsg{Op: control.OpForward, Pressed: &pressed})
	return control.Wrap(control.OpForward, nil, err)
}

func (c *Client) SetJump(ctx context.Context, pressed bool) error {
	_, err := c.call(ctx, protocol.CallMsg{Op: control.OpJump, Pressed: &pressed})
	return control.Wrap(control.OpJump, nil, err)
}

func (c *Client) Look(ctx context.Context, yaw, pitch float64) error {
	_, err := c.call(ctx, protocol.CallMsg{Op: control.OpLook, Yaw: &yaw, Pitch: &pitch})
	return control.Wrap(control.OpLook, nil, err)
}

func (c *Client) Snapshot(ctx context.Context, center world.Position, radius int) (*world.Snapshot, error) {
	res, err := c.call(ctx, protocol.CallMsg{Op: control.OpSnapshot, Pos: &center, Radius: &radius})
	if err != nil {
		return nil, control.Wrap(control.OpSnapshot, control.At(center), err)
	}
	snap, err := world.FromWireWithBounds(res.Blocks, world.Cube(center, radius))
	if err != nil {
		return nil, control.Wrap(control.OpSnapshot, control.At(center), err)
	}
	return snap, nil
}
