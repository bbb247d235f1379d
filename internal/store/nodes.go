package store

import (
	"context"
	"fmt"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/events"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

// CreateNode registers a new node. Fails with Conflict if the name is
// already taken by a live node. The uniqueness scan and the insert happen
// under the collection lock so two racing registrations of the same name
// cannot both pass the check.
func (s *Store) CreateNode(ctx context.Context, n *model.Node) error {
	now := timeNow()
	n.Status = model.NodeOnline
	n.LastHeartbeat = now
	n.CreatedAt = now
	n.UpdatedAt = now

	s.nodes.mu.Lock()
	for _, ns := range s.nodes.slots {
		ns.mu.RLock()
		dup := ns.rec.Name == n.Name && ns.rec.Status != model.NodeOffline
		ns.mu.RUnlock()
		if dup {
			s.nodes.mu.Unlock()
			return apierrors.NewConflict(fmt.Sprintf("node %q already registered", n.Name))
		}
	}
	s.nodes.slots[n.ID] = &slot[*model.Node]{rec: n}
	s.nodes.mu.Unlock()

	if err := s.adapter.SaveNode(ctx, n); err != nil {
		s.nodes.delete(n.ID)
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}

	s.emit(events.Event{
		Category: events.CategoryNode, Severity: events.SeverityInfo,
		Type: "NodeRegistered", ResourceType: "node", ResourceID: n.ID,
		NewState: string(model.NodeOnline),
	})
	return nil
}

// GetNode returns a copy of the node's current view, or NotFound.
func (s *Store) GetNode(id string) (*model.Node, error) {
	ns, ok := s.nodes.get(id)
	if !ok {
		return nil, apierrors.NewNotFound("node", id)
	}
	ns.mu.RLock()
	cp := *ns.rec
	ns.mu.RUnlock()
	return &cp, nil
}

// GetNodeByName returns the most recently registered node with this name,
// preferring a live (non-offline) record over a stale offline one so a
// reconnect always authenticates against the identity currently holding
// the name. NotFound if no node has ever registered under this name.
func (s *Store) GetNodeByName(name string) (*model.Node, error) {
	var best *model.Node
	for _, ns := range s.nodes.all() {
		ns.mu.RLock()
		if ns.rec.Name == name {
			cp := *ns.rec
			if best == nil || (best.Status == model.NodeOffline && cp.Status != model.NodeOffline) || cp.CreatedAt.After(best.CreatedAt) {
				best = &cp
			}
		}
		ns.mu.RUnlock()
	}
	if best == nil {
		return nil, apierrors.NewNotFound("node", name)
	}
	return best, nil
}

// SetAPIKeyHash stores a node's freshly minted API key hash.
func (s *Store) SetAPIKeyHash(ctx context.Context, nodeID, hash string) error {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return apierrors.NewNotFound("node", nodeID)
	}
	ns.mu.Lock()
	ns.rec.APIKeyHash = hash
	ns.rec.UpdatedAt = timeNow()
	snapshot := *ns.rec
	ns.mu.Unlock()

	if err := s.adapter.SaveNode(ctx, &snapshot); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}

// ListNodes returns a snapshot of all known nodes.
func (s *Store) ListNodes() []*model.Node {
	slots := s.nodes.all()
	out := make([]*model.Node, 0, len(slots))
	for _, ns := range slots {
		ns.mu.RLock()
		cp := *ns.rec
		ns.mu.RUnlock()
		out = append(out, &cp)
	}
	return out
}

// UpdateHeartbeat records a heartbeat, optionally revising the allocated
// resource count the agent self-reports. A heartbeat clears a Suspect
// status back to Online (recovery within the lease window); a heartbeat
// for an already-Offline node is rejected instead of resurrecting it; the
// node must re-register to get a fresh id.
func (s *Store) UpdateHeartbeat(ctx context.Context, nodeID string, allocated *model.ResourceList) error {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return apierrors.NewNotFound("node", nodeID)
	}

	ns.mu.Lock()
	if ns.rec.Status == model.NodeOffline {
		ns.mu.Unlock()
		return apierrors.NewInvalidState("node is offline, re-register to obtain a new session")
	}
	now := timeNow()
	ns.rec.LastHeartbeat = now
	ns.rec.UpdatedAt = now
	wasSuspect := ns.rec.Status == model.NodeSuspect
	if wasSuspect {
		ns.rec.Status = model.NodeOnline
		ns.rec.SuspectSince = nil
	}
	if allocated != nil {
		ns.rec.Allocated = *allocated
	}
	snapshot := *ns.rec
	ns.mu.Unlock()

	if err := s.adapter.SaveNode(ctx, &snapshot); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	if wasSuspect {
		s.emit(events.Event{
			Category: events.CategoryNode, Severity: events.SeverityInfo,
			Type: "NodeRecovered", ResourceType: "node", ResourceID: nodeID,
			PreviousState: string(model.NodeSuspect), NewState: string(model.NodeOnline),
		})
	}
	return nil
}

// MarkSuspect transitions an online node to suspect. Called by the lease
// engine on heartbeat timeout; a no-op if the node is already suspect or
// offline.
func (s *Store) MarkSuspect(ctx context.Context, nodeID string) error {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return apierrors.NewNotFound("node", nodeID)
	}

	ns.mu.Lock()
	if ns.rec.Status != model.NodeOnline {
		ns.mu.Unlock()
		return nil
	}
	now := timeNow()
	ns.rec.Status = model.NodeSuspect
	ns.rec.SuspectSince = &now
	ns.rec.UpdatedAt = now
	snapshot := *ns.rec
	ns.mu.Unlock()

	if err := s.adapter.SaveNode(ctx, &snapshot); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	s.emit(events.Event{
		Category: events.CategoryNode, Severity: events.SeverityWarning,
		Type: events.TypeNodeSuspect, ResourceType: "node", ResourceID: nodeID,
		PreviousState: string(model.NodeOnline), NewState: string(model.NodeSuspect),
	})
	return nil
}

// MarkOffline transitions a suspect node to offline and returns the set of
// pods that were bound to it, so the caller (the lease engine) can revoke
// them. The node's allocated resources are reset to zero since its pods
// are considered lost. Lock order: node first, then each revoked pod.
func (s *Store) MarkOffline(ctx context.Context, nodeID string) ([]*model.Pod, error) {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return nil, apierrors.NewNotFound("node", nodeID)
	}

	ns.mu.Lock()
	if ns.rec.Status == model.NodeOffline {
		ns.mu.Unlock()
		return nil, nil
	}
	now := timeNow()
	ns.rec.Status = model.NodeOffline
	ns.rec.Allocated = model.ResourceList{}
	ns.rec.SessionID = ""
	ns.rec.UpdatedAt = now
	nodeSnapshot := *ns.rec

	var lost []*model.Pod
	for _, ps := range s.pods.all() {
		ps.mu.Lock()
		if ps.rec.NodeID == nodeID && !ps.rec.Status.Terminal() {
			ps.rec.Status = model.PodEvicted
			ps.rec.Incarnation++
			ps.rec.TerminationMsg = model.TerminationReasonNodeLost
			stopped := timeNow()
			ps.rec.StoppedAt = &stopped
			ps.rec.UpdatedAt = stopped
			cp := *ps.rec
			lost = append(lost, &cp)
		}
		ps.mu.Unlock()
	}
	ns.mu.Unlock()

	if err := s.adapter.SaveNode(ctx, &nodeSnapshot); err != nil {
		return nil, apierrors.NewBackendUnavailable("durable adapter", err)
	}
	for _, p := range lost {
		if err := s.adapter.SavePod(ctx, p); err != nil {
			return nil, apierrors.NewBackendUnavailable("durable adapter", err)
		}
	}

	s.emit(events.Event{
		Category: events.CategoryNode, Severity: events.SeverityError,
		Type: events.TypeNodeLost, ResourceType: "node", ResourceID: nodeID,
		PreviousState: string(model.NodeSuspect), NewState: string(model.NodeOffline),
	})
	for _, p := range lost {
		s.emit(events.Event{
			Category: events.CategoryPod, Severity: events.SeverityWarning,
			Type: events.TypePodRevoked, ResourceType: "pod", ResourceID: p.ID,
			NewState: string(model.PodEvicted), Message: "node lost",
		})
	}
	return lost, nil
}

// SetUnschedulable cordons or uncordons a node without affecting its
// currently bound pods.
func (s *Store) SetUnschedulable(ctx context.Context, nodeID string, unschedulable bool) error {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return apierrors.NewNotFound("node", nodeID)
	}

	ns.mu.Lock()
	ns.rec.Unschedulable = unschedulable
	ns.rec.UpdatedAt = timeNow()
	snapshot := *ns.rec
	ns.mu.Unlock()

	if err := s.adapter.SaveNode(ctx, &snapshot); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}

// ReserveAllocation atomically adds req to the node's allocated resources.
// Returns Conflict if the node no longer fits. BindPod makes its own
// reservation under the node and pod locks and does not call this.
func (s *Store) ReserveAllocation(nodeID string, req model.ResourceList) error {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return apierrors.NewNotFound("node", nodeID)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if !ns.rec.Available().Fits(req) {
		return apierrors.NewConflict(fmt.Sprintf("node %q no longer has capacity", nodeID))
	}
	ns.rec.Allocated = ns.rec.Allocated.Add(req)
	ns.rec.UpdatedAt = timeNow()
	return nil
}

// ReleaseAllocation subtracts req from the node's allocated resources,
// called when a bound pod terminates.
func (s *Store) ReleaseAllocation(nodeID string, req model.ResourceList) {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.rec.Allocated = ns.rec.Allocated.Sub(req)
	ns.rec.UpdatedAt = timeNow()
}

// NodesByStatus returns a snapshot filtered by status, used by the lease
// engine so it never walks nodes it has no reconciliation work for.
func (s *Store) NodesByStatus(status model.NodeStatus) []*model.Node {
	var out []*model.Node
	for _, ns := range s.nodes.all() {
		ns.mu.RLock()
		if ns.rec.Status == status {
			cp := *ns.rec
			out = append(out, &cp)
		}
		ns.mu.RUnlock()
	}
	return out
}

// ClusterStats is an aggregate read-only snapshot for the admin health
// surface.
type ClusterStats struct {
	TotalNodes   int
	OnlineNodes  int
	SuspectNodes int
	OfflineNodes int
	Allocatable  model.ResourceList
	Allocated    model.ResourceList
	PodsByStatus map[model.PodStatus]int
}

// ClusterStats computes the current aggregate view across nodes and pods.
// Each record is read under its own lock; the aggregate is not one
// point-in-time cut across all of them, which is fine for a health
// surface.
func (s *Store) ClusterStats() ClusterStats {
	stats := ClusterStats{PodsByStatus: make(map[model.PodStatus]int)}
	for _, ns := range s.nodes.all() {
		ns.mu.RLock()
		stats.TotalNodes++
		switch ns.rec.Status {
		case model.NodeOnline:
			stats.OnlineNodes++
		case model.NodeSuspect:
			stats.SuspectNodes++
		case model.NodeOffline:
			stats.OfflineNodes++
		}
		stats.Allocatable = stats.Allocatable.Add(ns.rec.Allocatable)
		stats.Allocated = stats.Allocated.Add(ns.rec.Allocated)
		ns.mu.RUnlock()
	}
	for _, ps := range s.pods.all() {
		ps.mu.RLock()
		stats.PodsByStatus[ps.rec.Status]++
		ps.mu.RUnlock()
	}
	return stats
}
