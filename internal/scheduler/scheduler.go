// Package scheduler implements the filter/score/bind placement engine: a
// poll loop feeds pending pod ids into a worker pool, each
// worker computing a placement with ComputePlacement and binding the
// winner, or backing the pod off when nothing qualifies.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// PodAssigner delivers a scheduled pod's descriptor to the owning agent.
// Satisfied by *internal/session.Handler without either package importing
// the other.
type PodAssigner interface {
	AssignPod(nodeID string, payload wire.PodAssignPayload) bool
}

// PodTokenIssuer mints the short-lived credential a pod-runtime session
// presents on connect. Satisfied by *internal/auth.PodTokenIssuer.
// Optional: a nil issuer just ships pod:assign with no token, which only
// matters to pack images that open their own group:*/route:* session.
type PodTokenIssuer interface {
	Issue(podID string) (string, error)
}

const (
	defaultPollInterval = 2 * time.Second
	queueCapacity       = 1000

	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Store is the subset of internal/store.Store the scheduler reconciles
// against.
type Store interface {
	PendingPods() []*model.Pod
	GetPackByNameVersion(name, version string) (*model.Pack, error)
	NodesByStatus(status model.NodeStatus) []*model.Node
	NamespaceTerminating(namespace string) bool
	BindPod(ctx context.Context, podID, nodeID string) error
	MarkUnschedulable(ctx context.Context, podID, reason string) error
}

// Config tunes the scheduler's poll cadence and worker pool size.
type Config struct {
	PollInterval time.Duration
	Workers      int
}

// defaultWorkerCount matches the pool size to available cores.
func defaultWorkerCount() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkerCount()
	}
	return c
}

// Engine is the scheduling worker pool. It polls Store.PendingPods on a
// fixed cadence rather than being pushed pod ids, so a missed wakeup from
// one source (e.g. a deployment controller scale-up) is always caught by
// the next poll.
type Engine struct {
	store    Store
	assigner PodAssigner
	tokens   PodTokenIssuer
	cfg      Config

	queue  chan string
	stopCh chan struct{}

	mu      sync.Mutex
	backoff map[string]backoffState
}

type backoffState struct {
	next time.Time
	cur  time.Duration
}

// New builds an Engine. assigner may be nil if the session layer isn't
// wired yet; a bound pod then simply waits for the next agent reconnect to
// pick up its assignment some other way (not currently implemented) rather
// than panicking.
func New(store Store, assigner PodAssigner, tokens PodTokenIssuer, cfg Config) *Engine {
	return &Engine{
		store:    store,
		assigner: assigner,
		tokens:   tokens,
		cfg:      cfg.withDefaults(),
		queue:    make(chan string, queueCapacity),
		stopCh:   make(chan struct{}),
		backoff:  make(map[string]backoffState),
	}
}

// Start launches the worker pool and the poll loop. Blocks until Stop.
func (e *Engine) Start() {
	logger.Scheduler().Info().
		Int("workers", e.cfg.Workers).
		Dur("pollInterval", e.cfg.PollInterval).
		Msg("scheduler started")

	for i := 0; i < e.cfg.Workers; i++ {
		go e.worker(i)
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.poll()
		case <-e.stopCh:
			logger.Scheduler().Info().Msg("scheduler stopped")
			return
		}
	}
}

// Stop ends the poll loop and all workers.
func (e *Engine) Stop() {
	close(e.stopCh)
}

// poll enqueues every pending pod whose backoff has elapsed.
func (e *Engine) poll() {
	now := time.Now()
	for _, p := range e.store.PendingPods() {
		if !e.eligible(p.ID, now) {
			continue
		}
		select {
		case e.queue <- p.ID:
		default:
			logger.Scheduler().Warn().Str("podId", p.ID).Msg("scheduling queue full, pod will retry next poll")
		}
	}
}

func (e *Engine) eligible(podID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.backoff[podID]
	return !ok || !now.Before(st.next)
}

// worker pulls pod ids and schedules them until stopped.
func (e *Engine) worker(id int) {
	for {
		select {
		case podID := <-e.queue:
			e.schedulePod(podID)
		case <-e.stopCh:
			return
		}
	}
}

// schedulePod runs one placement attempt for a single pod. Nodes are
// re-fetched fresh on every attempt so concurrent workers never bind
// against a stale capacity snapshot; BindPod itself re-verifies capacity
// atomically before mutating, so a race between two workers considering
// the same node resolves to at most one winner.
func (e *Engine) schedulePod(podID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pod, err := e.fetchPod(podID)
	if err != nil || pod == nil {
		return
	}

	var pack *model.Pack
	if p, err := e.store.GetPackByNameVersion(pod.PackName, pod.PackVersion); err == nil {
		pack = p
	}

	decision := ComputePlacement(PlacementInput{
		Pod:                  pod,
		Pack:                 pack,
		Candidates:           e.store.NodesByStatus(model.NodeOnline),
		NamespaceTerminating: e.store.NamespaceTerminating(pod.Namespace),
	})

	if decision.NodeID == "" {
		e.backOff(podID)
		if err := e.store.MarkUnschedulable(ctx, podID, decision.Reason); err != nil {
			logger.Scheduler().Error().Err(err).Str("podId", podID).Msg("failed to mark pod unschedulable")
		}
		return
	}

	if err := e.store.BindPod(ctx, podID, decision.NodeID); err != nil {
		if appErr, ok := apierrors.As(err); ok && appErr.Code == apierrors.CodeConflict {
			// Lost the race to another worker or the node filled up since
			// scoring; retry next poll with no backoff penalty.
			return
		}
		logger.Scheduler().Error().Err(err).Str("podId", podID).Str("nodeId", decision.NodeID).Msg("bind failed")
		e.backOff(podID)
		return
	}

	e.clearBackoff(podID)
	logger.Scheduler().Info().Str("podId", podID).Str("nodeId", decision.NodeID).Msg("pod bound")

	if e.assigner != nil {
		bundleRef := ""
		if pack != nil {
			bundleRef = pack.BundleRef
		}
		var podToken string
		if e.tokens != nil {
			if t, err := e.tokens.Issue(pod.ID); err != nil {
				logger.Scheduler().Error().Err(err).Str("podId", pod.ID).Msg("failed to mint pod token")
			} else {
				podToken = t
			}
		}
		e.assigner.AssignPod(decision.NodeID, wire.PodAssignPayload{
			PodID:       pod.ID,
			Incarnation: pod.Incarnation + 1,
			PackName:    pod.PackName,
			PackVersion: pod.PackVersion,
			BundleRef:   bundleRef,
			Limit:       pod.Limit,
			PodToken:    podToken,
		})
	}
}

// fetchPod re-reads the pod from PendingPods rather than a direct getter:
// Store's narrow interface here intentionally avoids depending on GetPod,
// since a pod that left pending between poll and dispatch (bound by a
// faster worker, or deleted) should just be silently skipped.
func (e *Engine) fetchPod(podID string) (*model.Pod, error) {
	for _, p := range e.store.PendingPods() {
		if p.ID == podID {
			return p, nil
		}
	}
	return nil, nil
}

func (e *Engine) backOff(podID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.backoff[podID]
	if !ok {
		st.cur = initialBackoff
	} else {
		st.cur *= 2
		if st.cur > maxBackoff {
			st.cur = maxBackoff
		}
	}
	st.next = time.Now().Add(st.cur)
	e.backoff[podID] = st
}

func (e *Engine) clearBackoff(podID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.backoff, podID)
}
