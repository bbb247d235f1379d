// Package lease implements the node health lease engine: a ticker-driven
// sweep that ages a node from online to suspect to offline when its
// heartbeats stop, revoking pods only on the final transition.
package lease

import (
	"context"
	"time"

	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

const (
	defaultCheckInterval    = 30 * time.Second
	defaultHeartbeatTimeout = 60 * time.Second
	defaultLeaseTimeout     = 120 * time.Second
)

// Store is the subset of internal/store.Store the lease engine reconciles
// against.
type Store interface {
	NodesByStatus(status model.NodeStatus) []*model.Node
	MarkSuspect(ctx context.Context, nodeID string) error
	MarkOffline(ctx context.Context, nodeID string) ([]*model.Pod, error)
}

// Config tunes the lease engine's timing. Zero values fall back to the
// defaults (60s heartbeat timeout, 120s lease timeout).
type Config struct {
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	LeaseTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = defaultLeaseTimeout
	}
	return c
}

// Engine runs the two-phase node health sweep: phase A ages a stale
// online node to suspect; phase B ages a long-suspect node to offline and
// revokes its pods.
type Engine struct {
	store  Store
	cfg    Config
	stopCh chan struct{}
	now    func() time.Time
}

// New builds an Engine. Call Start in its own goroutine.
func New(store Store, cfg Config) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg.withDefaults(),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start runs the sweep loop until Stop is called. Blocks; run with go.
func (e *Engine) Start() {
	logger.Lease().Info().
		Dur("checkInterval", e.cfg.CheckInterval).
		Dur("heartbeatTimeout", e.cfg.HeartbeatTimeout).
		Dur("leaseTimeout", e.cfg.LeaseTimeout).
		Msg("lease engine started")

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-e.stopCh:
			logger.Lease().Info().Msg("lease engine stopped")
			return
		}
	}
}

// Stop ends the sweep loop.
func (e *Engine) Stop() {
	close(e.stopCh)
}

// sweep runs phase A then phase B once. Each node's own transition is
// independent; one node's failure to persist never blocks another's.
func (e *Engine) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CheckInterval)
	defer cancel()

	e.sweepSuspectTransitions(ctx)
	e.sweepLeaseExpiry(ctx)
}

// sweepSuspectTransitions is the first sweep phase: online nodes whose heartbeat
// has aged past HeartbeatTimeout move to suspect.
func (e *Engine) sweepSuspectTransitions(ctx context.Context) {
	now := e.now()
	for _, n := range e.store.NodesByStatus(model.NodeOnline) {
		if now.Sub(n.LastHeartbeat) < e.cfg.HeartbeatTimeout {
			continue
		}
		if err := e.store.MarkSuspect(ctx, n.ID); err != nil {
			logger.Lease().Error().Err(err).Str("nodeId", n.ID).Msg("failed to mark node suspect")
			continue
		}
		logger.Lease().Warn().Str("nodeId", n.ID).Str("name", n.Name).Msg("node marked suspect")
	}
}

// sweepLeaseExpiry is the second sweep phase: suspect nodes whose lease has fully
// expired move to offline, revoking their pods.
func (e *Engine) sweepLeaseExpiry(ctx context.Context) {
	now := e.now()
	for _, n := range e.store.NodesByStatus(model.NodeSuspect) {
		if n.SuspectSince == nil || now.Sub(*n.SuspectSince) < e.cfg.LeaseTimeout {
			continue
		}
		lost, err := e.store.MarkOffline(ctx, n.ID)
		if err != nil {
			logger.Lease().Error().Err(err).Str("nodeId", n.ID).Msg("failed to mark node offline")
			continue
		}
		logger.Lease().Error().
			Str("nodeId", n.ID).
			Str("name", n.Name).
			Int("revokedPods", len(lost)).
			Msg("node lease expired, pods revoked")
	}
}
