package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelpilot.ai/internal/control"
	"voxelpilot.ai/internal/protocol"
	"voxelpilot.ai/internal/world"
)

type ServerOption func(*Server)

func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

// WithWorld sets what WELCOME advertises.
func WithWorld(id string, params protocol.WorldParams) ServerOption {
	return func(s *Server) { s.worldID, s.params = id, params }
}

// Server exposes a control.WorldControl to WS clients. Each connection gets its calls
// answered in order, one at a time.
type Server struct {
	ctl control.WorldControl
	log *log.Logger

	token   string
	worldID string
	params  protocol.WorldParams

	upgrader websocket.Upgrader
}

func NewServer(ctl control.WorldControl, logger *log.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		ctl: ctl,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		session, name := s.handshake(conn)
		if session == "" {
			return
		}
		s.log.Printf("session %s agent=%q connected from %s", session, name, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		out := make(chan []byte, 8)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCall {
				continue
			}
			var call protocol.CallMsg
			if err := json.Unmarshal(msg, &call); err != nil {
				continue
			}
			res := s.dispatch(ctx, call)
			b, err := json.Marshal(res)
			if err != nil {
				s.log.Printf("session %s: marshal result: %v", session, err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		<-done
		s.log.Printf("session %s agent=%q disconnected", session, name)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (session, name string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", ""
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", ""
	}
	if s.token != "" && (hello.Auth == nil || strings.TrimSpace(hello.Auth.Token) != s.token) {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrUnauthorized)
		return "", ""
	}
	if hello.AgentName == "" {
		hello.AgentName = "agent"
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		WorldID:         s.worldID,
		WorldParams:     s.params,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return welcome.SessionID, hello.AgentName
}

func (s *Server) dispatch(ctx context.Context, call protocol.CallMsg) protocol.ResultMsg {
	res := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           call.ReqID,
	}
	if call.ProtocolVersion != protocol.Version {
		res.Code, res.Message = protocol.ErrProtoBadRequest, "bad protocol_version"
		return res
	}
	if err := s.apply(ctx, call, &res); err != nil {
		res.Code = protocol.CodeFor(err)
		if errors.Is(err, errBadCall) {
			res.Code = protocol.ErrProtoBadRequest
		}
		res.Message = err.Error()
		if res.Code == protocol.ErrInternal {
			s.log.Printf("call %s %s: %v", call.ReqID, call.Op, err)
		}
		return res
	}
	res.OK = true
	return res
}

var errBadCall = errors.New("malformed call")

func missing(op, field string) error {
	return fmt.Errorf("%w: %s needs %s", errBadCall, op, field)
}

func (s *Server) apply(ctx context.Context, call protocol.CallMsg, res *protocol.ResultMsg) error {
	switch call.Op {
	case control.OpPosition:
		v, err := s.ctl.Position(ctx)
		if err != nil {
			return err
		}
		res.Agent = &protocol.AgentPos{X: v.X, Y: v.Y, Z: v.Z}
		if f, ok := s.ctl.(control.Facer); ok {
			if res.Agent.Yaw, res.Agent.Pitch, err = f.Facing(ctx); err != nil {
				return err
			}
		}
		return nil

	case control.OpBlockAt:
		if call.Pos == nil {
			return missing(call.Op, "pos")
		}
		id, err := s.ctl.BlockAt(ctx, *call.Pos)
		res.Block = string(id)
		return err

	case control.OpBreakBlock:
		if call.Pos == nil {
			return missing(call.Op, "pos")
		}
		return s.ctl.BreakBlock(ctx, *call.Pos)

	case control.OpPlaceBlock:
		if call.Pos == nil || call.Block == "" {
			return missing(call.Op, "pos and block")
		}
		return s.ctl.PlaceBlock(ctx, *call.Pos, world.BlockID(call.Block))

	case control.OpForward, control.OpJump:
		if call.Pressed == nil {
			return missing(call.Op, "pressed")
		}
		if call.Op == control.OpForward {
			return s.ctl.SetForward(ctx, *call.Pressed)
		}
		return s.ctl.SetJump(ctx, *call.Pressed)

	case control.OpLook:
		if call.Yaw == nil || call.Pitch == nil {
			return missing(call.Op, "yaw and pitch")
		}
		return s.ctl.Look(ctx, *call.Yaw, *call.Pitch)

	case control.OpSnapshot:
		radius := protocol.DefaultRadius
		if call.Radius != nil {
			radius = *call.Radius
		}
		if radius < 0 || radius > protocol.MaxRadius {
			return fmt.Errorf("%w: radius %d outside 0..%d", control.ErrRejected, radius, protocol.MaxRadius)
		}
		var center world.Position
		if call.Pos != nil {
			center = *call.Pos
		} else {
			v, err := s.ctl.Position(ctx)
			if err != nil {
				return err
			}
			center = v.Cell()
		}
		snap, err := s.ctl.Snapshot(ctx, center, radius)
		if err != nil {
			return err
		}
		res.Blocks = snap.Wire()
		return nil

	default:
		return fmt.Errorf("%w: unknown op %q", errBadCall, call.Op)
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
