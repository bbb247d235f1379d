package session

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// Session wraps one WebSocket connection for the lifetime of an agent or
// pod-runtime identity. Inbound frames are decoded in readPump and handed
// to a Dispatcher; outbound frames are serialized through writePump so a
// single connection is never written to from two goroutines at once.
type Session struct {
	ID     string
	Conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	dsp    Dispatcher
	closed atomic.Bool
	req    *http.Request

	mu       sync.Mutex
	identity model.Session

	lastPongAt atomic.Value // time.Time
}

// Dispatcher handles a decoded wire.Message for a Session. Implemented by
// the handler that owns the store, lease engine and routing arbiter;
// kept as a narrow interface here so this package has no dependency on
// them.
type Dispatcher interface {
	Dispatch(s *Session, msg wire.Message)
	// OnDisconnect is called exactly once, after the session's sockets are
	// torn down, so owning state (pending pods, routing groups) can react.
	OnDisconnect(s *Session)
}

const sendBuf = 256

func newSession(id string, conn *websocket.Conn, req *http.Request, hub *Hub, dsp Dispatcher, identity model.Session) *Session {
	s := &Session{
		ID:       id,
		Conn:     conn,
		req:      req,
		send:     make(chan []byte, sendBuf),
		hub:      hub,
		dsp:      dsp,
		identity: identity,
	}
	s.lastPongAt.Store(time.Now())
	return s
}

// httpRequest returns the original upgrade request, used by Authenticator
// implementations that inspect headers (API key, mTLS peer certs) not
// carried in the wire payload itself.
func (s *Session) httpRequest() *http.Request {
	return s.req
}

// Identity returns a copy of the principal bound to this session.
func (s *Session) Identity() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetNodeID records that this session (a node/agent connection) now owns
// nodeID, used right after a successful node:register.
func (s *Session) SetNodeID(nodeID string) {
	s.mu.Lock()
	s.identity.PrincipalKind = model.PrincipalAgent
	if s.identity.PrincipalID == "" {
		s.identity.PrincipalID = nodeID
	}
	s.identity.NodeIDs = append(s.identity.NodeIDs, nodeID)
	s.mu.Unlock()
	s.hub.BindNode(s.ID, nodeID)
}

// SetPodID records that this session (a pod-runtime connection) is bound
// to podID for its lifetime.
func (s *Session) SetPodID(podID string) {
	s.mu.Lock()
	s.identity.PrincipalKind = model.PrincipalPodRuntime
	s.identity.PodID = podID
	if s.identity.PrincipalID == "" {
		s.identity.PrincipalID = podID
	}
	s.mu.Unlock()
	s.hub.BindPod(s.ID, podID)
}

// Send queues an outbound frame. It never blocks the caller: a full
// outbound buffer means the connection is not keeping up, and closing it
// is preferable to stalling a store mutation behind a slow agent.
func (s *Session) Send(msg wire.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Session().Error().Err(err).Str("type", msg.Type).Msg("failed to marshal outbound frame")
		return
	}
	s.enqueue(data)
}

func (s *Session) enqueue(data []byte) {
	select {
	case s.send <- data:
	default:
		logger.Session().Warn().Str("sessionId", s.ID).Msg("outbound buffer full, dropping connection")
		go func() { s.hub.unregister <- s.ID }()
	}
}

func (s *Session) lastPong() time.Time {
	return s.lastPongAt.Load().(time.Time)
}

func (s *Session) touchPong() {
	s.lastPongAt.Store(time.Now())
}

// closeLocked tears down the socket and outbound channel. Safe to call
// more than once.
func (s *Session) closeLocked() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.send)
		s.Conn.Close()
	}
}

// readPump decodes inbound frames and dispatches them until the
// connection errs out or is closed, then unregisters itself. Run in its
// own goroutine per connection.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s.ID
		s.dsp.OnDisconnect(s)
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.touchPong()
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Session().Warn().Err(err).Str("sessionId", s.ID).Msg("session read error")
			}
			return
		}
		s.touchPong()

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Session().Warn().Err(err).Str("sessionId", s.ID).Msg("malformed frame")
			continue
		}
		s.dsp.Dispatch(s, msg)
	}
}

// writePump serializes all outbound writes to the connection: queued
// frames from send, and periodic pings. Run in its own goroutine per
// connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
