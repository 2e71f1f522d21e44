// Package observer exposes a read-mostly websocket endpoint: every bus event
// streams out to connected clients, and a small command vocabulary lets an
// operator pause, resume, stop, or inject into the running simulation.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scrai/internal/schema"
	"scrai/internal/sim/action"
	"scrai/internal/sim/bus"
	"scrai/internal/sim/engine"
	"scrai/internal/sim/world"
)

const Version = "1.0"

// SubscribeMsg opens a session. Pattern filters the event stream; empty
// subscribes to everything.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pattern         string `json:"pattern,omitempty"`
}

// CommandMsg is any post-subscribe client message.
type CommandMsg struct {
	Type string `json:"type"`

	// inject_action
	Actor  string         `json:"actor,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	// inject_event
	EventType string         `json:"event_type,omitempty"`
	Round     uint64         `json:"round,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// StatusResponse answers the bootstrap endpoint.
type StatusResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	SimulationID    string `json:"simulation_id"`
	Round           uint64 `json:"round"`
	Phase           string `json:"phase"`
	Entities        int    `json:"entities"`
	Digest          string `json:"digest"`
}

type ackMsg struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	simID  string
	engine *engine.Engine
	bus    *bus.Bus
	store  *world.Store
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(simID string, eng *engine.Engine, b *bus.Bus, store *world.Store, logger *log.Logger) *Server {
	return &Server{
		simID:  simID,
		engine: eng,
		bus:    b,
		store:  store,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Routes mounts the observer endpoints.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.StatusHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	return mux
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := StatusResponse{
			ProtocolVersion: Version,
			SimulationID:    s.simID,
			Round:           s.engine.Round(),
			Phase:           s.engine.Phase().String(),
			Entities:        s.store.Len(),
			Digest:          s.store.Digest(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		pattern := sub.Pattern
		if pattern == "" {
			pattern = "*"
		}

		sid := s.nextID.Add(1)
		out := make(chan []byte, 1024)

		handle := s.bus.Subscribe(pattern, func(e schema.Event) {
			b, err := json.Marshal(e)
			if err != nil {
				return
			}
			select {
			case out <- b:
			default:
				// Slow observer; drop rather than stall the bus drain.
			}
		})
		defer s.bus.Unsubscribe(handle)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		s.log.Printf("observer=%d subscribed pattern=%q", sid, pattern)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var cmd CommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			ack := s.handleCommand(cmd)
			if b, err := json.Marshal(ack); err == nil {
				select {
				case out <- b:
				default:
				}
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("observer=%d disconnected", sid)
	}
}

func (s *Server) handleCommand(cmd CommandMsg) ackMsg {
	ack := ackMsg{Type: "ACK", Command: cmd.Type, OK: true}
	fail := func(msg string) ackMsg {
		ack.OK = false
		ack.Error = msg
		return ack
	}

	switch cmd.Type {
	case "pause":
		s.engine.Pause()
	case "resume":
		s.engine.Resume()
	case "stop":
		s.engine.Stop()
	case "inject_action":
		if cmd.Kind == "" {
			return fail("missing kind")
		}
		actorID, err := s.resolveActor(cmd.Actor)
		if err != nil {
			return fail(err.Error())
		}
		params, err := schema.FromAnyMap(cmd.Params)
		if err != nil {
			return fail("bad params: " + err.Error())
		}
		s.engine.InjectAction(action.ProposedAction{
			ActorID: actorID,
			Kind:    cmd.Kind,
			Params:  params,
		})
	case "inject_event":
		if cmd.EventType == "" {
			return fail("missing event_type")
		}
		data, err := schema.FromAnyMap(cmd.Data)
		if err != nil {
			return fail("bad data: " + err.Error())
		}
		round := cmd.Round
		if round <= s.engine.Round() {
			round = s.engine.Round() + 1
		}
		s.engine.ScheduleEvent(round, schema.NewEvent(cmd.EventType, data))
	default:
		return fail("unknown command")
	}
	return ack
}

func (s *Server) resolveActor(ref string) (uuid.UUID, error) {
	if ref == "" {
		return uuid.Nil, errMissingActor
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	rec, ok := s.store.FindByName(ref)
	if !ok {
		return uuid.Nil, errUnknownActor
	}
	return rec.Base().ID, nil
}

var (
	errMissingActor = &commandError{"missing actor"}
	errUnknownActor = &commandError{"unknown actor"}
)

type commandError struct{ msg string }

func (e *commandError) Error() string { return e.msg }

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
