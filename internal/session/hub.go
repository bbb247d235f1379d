// Package session manages live agent and pod-runtime WebSocket connections:
// the duplex transport carrying the wire protocol (internal/wire) between
// the control plane and the fleet. One Session exists per connection; the
// Hub is the single goroutine-safe registry of all of them.
package session

import (
	"sync"
	"time"

	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	registerBuf   = 16
	unregisterBuf = 16
	broadcastBuf  = 64
)

// broadcastMessage is a raw outbound frame plus an optional exclusion,
// queued on the Hub's broadcast channel.
type broadcastMessage struct {
	data    []byte
	exclude string
}

// Hub is the central registry of live sessions. Registration,
// unregistration and broadcasts arrive over channels and are applied by the
// single goroutine run by Run; BindNode, BindPod and the lookup methods
// take the mutex directly from the caller's goroutine. There is no
// module-level singleton: the Hub is passed by reference.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session // keyed by Session.ID
	byNode   map[string]string   // nodeID -> session ID
	byPod    map[string]string   // podID -> session ID

	register   chan *Session
	unregister chan string
	broadcast  chan broadcastMessage

	stopCh chan struct{}
}

// NewHub builds an empty Hub. Call Run in its own goroutine before
// accepting connections.
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]*Session),
		byNode:     make(map[string]string),
		byPod:      make(map[string]string),
		register:   make(chan *Session, registerBuf),
		unregister: make(chan string, unregisterBuf),
		broadcast:  make(chan broadcastMessage, broadcastBuf),
		stopCh:     make(chan struct{}),
	}
}

// Run is the Hub's event loop; it blocks and should be started with go.
func (h *Hub) Run() {
	staleTicker := time.NewTicker(pongWait)
	defer staleTicker.Stop()

	for {
		select {
		case s := <-h.register:
			h.handleRegister(s)
		case id := <-h.unregister:
			h.handleUnregister(id)
		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		case <-staleTicker.C:
			h.checkStale()
		case <-h.stopCh:
			return
		}
	}
}

// Stop ends the event loop.
func (h *Hub) Stop() {
	close(h.stopCh)
}

func (h *Hub) handleRegister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.sessions[s.ID]; ok {
		logger.Session().Warn().Str("sessionId", s.ID).Msg("replacing existing session registration")
		h.removeIndicesLocked(existing)
		existing.closeLocked()
	}
	h.sessions[s.ID] = s
	identity := s.Identity()
	logger.Session().Info().
		Str("sessionId", s.ID).
		Str("principalId", identity.PrincipalID).
		Str("kind", string(identity.PrincipalKind)).
		Msg("session registered")
}

func (h *Hub) handleUnregister(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.removeIndicesLocked(s)
	delete(h.sessions, id)
	h.mu.Unlock()

	s.closeLocked()
	logger.Session().Info().Str("sessionId", id).Msg("session unregistered")
}

func (h *Hub) removeIndicesLocked(s *Session) {
	identity := s.Identity()
	for _, nodeID := range identity.NodeIDs {
		if h.byNode[nodeID] == s.ID {
			delete(h.byNode, nodeID)
		}
	}
	if identity.PodID != "" && h.byPod[identity.PodID] == s.ID {
		delete(h.byPod, identity.PodID)
	}
}

func (h *Hub) handleBroadcast(msg broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.sessions {
		if id == msg.exclude {
			continue
		}
		s.enqueue(msg.data)
	}
}

// checkStale closes any session that has not produced a pong within the
// allotted window; readPump's deadline would eventually catch this too,
// but a sweep bounds how long a half-dead TCP connection can linger.
func (h *Hub) checkStale() {
	cutoff := time.Now().Add(-pongWait)
	h.mu.RLock()
	var stale []*Session
	for _, s := range h.sessions {
		if s.lastPong().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		logger.Session().Warn().Str("sessionId", s.ID).Msg("closing stale session")
		h.unregister <- s.ID
	}
}

// BindNode indexes nodeID against an already-registered session, called
// once node:register succeeds. A session may own more than one node only
// in the degenerate single-agent-many-nodes case; ordinarily it owns one.
// The session's own identity (the copy OwnsNode/Identity read) is updated
// by the caller; this only maintains the Hub's lookup index.
func (h *Hub) BindNode(sessionID, nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byNode[nodeID] = sessionID
}

// BindPod indexes podID against a pod-runtime session, called through
// Session.SetPodID when a connection presenting a pod token is upgraded.
func (h *Hub) BindPod(sessionID, podID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byPod[podID] = sessionID
}

// SendToNode delivers data to the session currently registered for
// nodeID, returning false if no such session is connected.
func (h *Hub) SendToNode(nodeID string, data []byte) bool {
	h.mu.RLock()
	id, ok := h.byNode[nodeID]
	if !ok {
		h.mu.RUnlock()
		return false
	}
	s := h.sessions[id]
	h.mu.RUnlock()
	if s == nil {
		return false
	}
	s.enqueue(data)
	return true
}

// SendToPod delivers data to the pod-runtime session owning podID.
func (h *Hub) SendToPod(podID string, data []byte) bool {
	h.mu.RLock()
	id, ok := h.byPod[podID]
	if !ok {
		h.mu.RUnlock()
		return false
	}
	s := h.sessions[id]
	h.mu.RUnlock()
	if s == nil {
		return false
	}
	s.enqueue(data)
	return true
}

// Broadcast queues data for delivery to every connected session except
// exclude (pass "" to exclude none).
func (h *Hub) Broadcast(data []byte, exclude string) {
	h.broadcast <- broadcastMessage{data: data, exclude: exclude}
}

// NodeConnected reports whether nodeID currently has a live session.
func (h *Hub) NodeConnected(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byNode[nodeID]
	return ok
}

// Count returns the number of live sessions, surfaced on the admin health
// endpoint.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// PrincipalOf returns the identity bound to sessionID, if still connected.
func (h *Hub) PrincipalOf(sessionID string) (*model.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := s.identity
	return &cp, true
}
