// Package store implements the control plane's in-memory authoritative
// cache of cluster state (nodes, pods, deployments, packs), backed by a
// pluggable durable Adapter. Every mutation goes through a typed method on
// Store; callers never touch the underlying records directly.
//
// Locking is per record: each record carries its own lock, and the
// id-keyed collections are guarded only for membership (insert, delete,
// iteration), so mutations of independent records never contend.
// Cross-record mutations (binding a pod reserves capacity on its node)
// acquire record locks in a fixed order to avoid deadlock: node, then
// pod, then deployment. An operation only ever climbs this order, never
// descends it.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/events"
	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

// Adapter is the durable storage contract the store reconciles against.
// A concrete Postgres implementation lives in internal/db; tests may
// substitute an in-memory fake.
type Adapter interface {
	LoadNodes(ctx context.Context) ([]*model.Node, error)
	LoadPods(ctx context.Context) ([]*model.Pod, error)
	LoadDeployments(ctx context.Context) ([]*model.Deployment, error)
	LoadPacks(ctx context.Context) ([]*model.Pack, error)

	SaveNode(ctx context.Context, n *model.Node) error
	DeleteNode(ctx context.Context, id string) error
	SavePod(ctx context.Context, p *model.Pod) error
	DeletePod(ctx context.Context, id string) error
	SaveDeployment(ctx context.Context, d *model.Deployment) error
	DeleteDeployment(ctx context.Context, id string) error
	SavePack(ctx context.Context, p *model.Pack) error
	DeletePack(ctx context.Context, id string) error
}

// slot pairs one record with its own lock. The record is only read or
// mutated while the slot lock is held; snapshots handed out of the store
// are copies taken under a read lock, never the live record.
type slot[T any] struct {
	mu  sync.RWMutex
	rec T
}

// collection is an id-keyed set of slots. Its own mutex guards map
// membership only and is never held while a slot lock is being waited on
// for a mutation, so record-level contention stays record-local.
type collection[T any] struct {
	mu    sync.RWMutex
	slots map[string]*slot[T]
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{slots: make(map[string]*slot[T])}
}

func (c *collection[T]) get(id string) (*slot[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	return s, ok
}

func (c *collection[T]) put(id string, rec T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[id] = &slot[T]{rec: rec}
}

func (c *collection[T]) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, id)
}

// all returns the current slot set; each slot's record still needs its
// own lock to read. Used for snapshot-style iteration without holding any
// lock across the whole walk.
func (c *collection[T]) all() []*slot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*slot[T], 0, len(c.slots))
	for _, s := range c.slots {
		out = append(out, s)
	}
	return out
}

func (c *collection[T]) reset(recs map[string]T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make(map[string]*slot[T], len(recs))
	for id, rec := range recs {
		c.slots[id] = &slot[T]{rec: rec}
	}
}

// Store is the process-wide cluster state cache.
type Store struct {
	adapter Adapter
	sink    *events.Sink

	nodes       *collection[*model.Node]
	pods        *collection[*model.Pod]
	deployments *collection[*model.Deployment]
	packs       *collection[*model.Pack]

	nsMu                  sync.RWMutex
	terminatingNamespaces map[string]struct{}
}

// New constructs an empty Store. Call LoadFromAdapter before serving
// traffic to populate it from durable storage.
func New(adapter Adapter, sink *events.Sink) *Store {
	return &Store{
		adapter:               adapter,
		sink:                  sink,
		nodes:                 newCollection[*model.Node](),
		pods:                  newCollection[*model.Pod](),
		deployments:           newCollection[*model.Deployment](),
		packs:                 newCollection[*model.Pack](),
		terminatingNamespaces: make(map[string]struct{}),
	}
}

// LoadFromAdapter discards the in-memory cache and rebuilds it from the
// durable adapter. Called once at startup.
func (s *Store) LoadFromAdapter(ctx context.Context) error {
	nodes, err := s.adapter.LoadNodes(ctx)
	if err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	pods, err := s.adapter.LoadPods(ctx)
	if err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	deployments, err := s.adapter.LoadDeployments(ctx)
	if err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	packs, err := s.adapter.LoadPacks(ctx)
	if err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}

	nodeMap := make(map[string]*model.Node, len(nodes))
	for _, n := range nodes {
		nodeMap[n.ID] = n
	}
	podMap := make(map[string]*model.Pod, len(pods))
	for _, p := range pods {
		podMap[p.ID] = p
	}
	deploymentMap := make(map[string]*model.Deployment, len(deployments))
	for _, d := range deployments {
		deploymentMap[d.ID] = d
	}
	packMap := make(map[string]*model.Pack, len(packs))
	for _, p := range packs {
		packMap[p.ID] = p
	}

	s.nodes.reset(nodeMap)
	s.pods.reset(podMap)
	s.deployments.reset(deploymentMap)
	s.packs.reset(packMap)

	reclaimed := s.reclaimUnacknowledgedPods()

	logger.Store().Info().
		Int("nodes", len(nodes)).
		Int("pods", len(pods)).
		Int("deployments", len(deployments)).
		Int("packs", len(packs)).
		Int("reclaimedPods", reclaimed).
		Msg("loaded cluster state from durable adapter")
	return nil
}

// reclaimUnacknowledgedPods re-queues every pod left bound but not yet
// acknowledged running by its node (status scheduled) across a
// control-plane restart: the bind may never have reached the agent, so
// the node's reservation is released and the pod reverts to pending for
// the scheduler to place again.
func (s *Store) reclaimUnacknowledgedPods() int {
	n := 0
	for _, ps := range s.pods.all() {
		ps.mu.RLock()
		scheduled := ps.rec.Status == model.PodScheduled
		nodeID := ps.rec.NodeID
		ps.mu.RUnlock()
		if !scheduled {
			continue
		}

		// Node before pod.
		ns, hasNode := s.nodes.get(nodeID)
		if hasNode {
			ns.mu.Lock()
		}
		ps.mu.Lock()
		if ps.rec.Status == model.PodScheduled {
			if hasNode {
				ns.rec.Allocated = ns.rec.Allocated.Sub(podReservation(ps.rec))
			}
			ps.rec.NodeID = ""
			ps.rec.Status = model.PodPending
			ps.rec.UpdatedAt = timeNow()
			n++
		}
		ps.mu.Unlock()
		if hasNode {
			ns.mu.Unlock()
		}
	}
	return n
}

// MarkNamespaceTerminating records that namespace is being torn down: the
// scheduler refuses to place new pods into it until the mark is cleared.
func (s *Store) MarkNamespaceTerminating(namespace string) {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()
	s.terminatingNamespaces[namespace] = struct{}{}
}

// ClearNamespaceTerminating lifts the terminating mark from namespace.
func (s *Store) ClearNamespaceTerminating(namespace string) {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()
	delete(s.terminatingNamespaces, namespace)
}

// NamespaceTerminating reports whether namespace is in its terminating
// phase. Consulted by the scheduler's placement filter.
func (s *Store) NamespaceTerminating(namespace string) bool {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()
	_, ok := s.terminatingNamespaces[namespace]
	return ok
}

func (s *Store) emit(e events.Event) {
	if s.sink == nil {
		return
	}
	e.Timestamp = timeNow()
	s.sink.Emit(e)
}

// timeNow is indirected so tests can freeze it if ever needed; production
// always uses the wall clock.
var timeNow = time.Now
