package store

import (
	"context"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/events"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

// CreatePod records a new pending pod, typically produced by the workload
// controller scaling a deployment up.
func (s *Store) CreatePod(ctx context.Context, p *model.Pod) error {
	now := timeNow()
	p.Status = model.PodPending
	p.CreatedAt = now
	p.UpdatedAt = now

	s.pods.put(p.ID, p)

	if err := s.adapter.SavePod(ctx, p); err != nil {
		s.pods.delete(p.ID)
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}

// GetPod returns a copy of the pod's current view, or NotFound.
func (s *Store) GetPod(id string) (*model.Pod, error) {
	ps, ok := s.pods.get(id)
	if !ok {
		return nil, apierrors.NewNotFound("pod", id)
	}
	ps.mu.RLock()
	cp := *ps.rec
	ps.mu.RUnlock()
	return &cp, nil
}

// ListPods returns a snapshot of all known pods.
func (s *Store) ListPods() []*model.Pod {
	slots := s.pods.all()
	out := make([]*model.Pod, 0, len(slots))
	for _, ps := range slots {
		ps.mu.RLock()
		cp := *ps.rec
		ps.mu.RUnlock()
		out = append(out, &cp)
	}
	return out
}

// PendingPods returns pods awaiting a scheduling decision, for the
// scheduler's work queue.
func (s *Store) PendingPods() []*model.Pod {
	var out []*model.Pod
	for _, ps := range s.pods.all() {
		ps.mu.RLock()
		if ps.rec.Status == model.PodPending {
			cp := *ps.rec
			out = append(out, &cp)
		}
		ps.mu.RUnlock()
	}
	return out
}

// PodsByNode returns the live (non-terminal) pods bound to a node.
func (s *Store) PodsByNode(nodeID string) []*model.Pod {
	var out []*model.Pod
	for _, ps := range s.pods.all() {
		ps.mu.RLock()
		if ps.rec.NodeID == nodeID && !ps.rec.Status.Terminal() {
			cp := *ps.rec
			out = append(out, &cp)
		}
		ps.mu.RUnlock()
	}
	return out
}

// PodsByDeployment returns all pods owned by a deployment.
func (s *Store) PodsByDeployment(deploymentID string) []*model.Pod {
	var out []*model.Pod
	for _, ps := range s.pods.all() {
		ps.mu.RLock()
		if ps.rec.DeploymentID == deploymentID {
			cp := *ps.rec
			out = append(out, &cp)
		}
		ps.mu.RUnlock()
	}
	return out
}

// podReservation returns the capacity a bound pod holds against its node:
// its resource request, plus one unit on the pods dimension so per-node
// pod-count capacity is enforceable.
func podReservation(p *model.Pod) model.ResourceList {
	r := p.Request
	r.Pods = 1
	return r
}

// BindPod assigns a pending pod to a node. The node's capacity check, the
// reservation, and the pod's transition happen while both record locks are
// held (node acquired before pod), so a racing placement can never
// oversubscribe the node or double-bind the pod.
func (s *Store) BindPod(ctx context.Context, podID, nodeID string) error {
	ns, ok := s.nodes.get(nodeID)
	if !ok {
		return apierrors.NewNotFound("node", nodeID)
	}
	ps, ok := s.pods.get(podID)
	if !ok {
		return apierrors.NewNotFound("pod", podID)
	}

	ns.mu.Lock()
	ps.mu.Lock()

	if !model.CanTransition(ps.rec.Status, model.PodScheduled) {
		ps.mu.Unlock()
		ns.mu.Unlock()
		return apierrors.NewInvalidState("pod is not in a schedulable state")
	}
	reservation := podReservation(ps.rec)
	if !ns.rec.Available().Fits(reservation) {
		ps.mu.Unlock()
		ns.mu.Unlock()
		return apierrors.NewConflict("node " + nodeID + " no longer has capacity")
	}

	now := timeNow()
	ns.rec.Allocated = ns.rec.Allocated.Add(reservation)
	ns.rec.UpdatedAt = now

	ps.rec.NodeID = nodeID
	ps.rec.Status = model.PodScheduled
	ps.rec.Incarnation++
	ps.rec.ScheduledAt = &now
	ps.rec.UpdatedAt = now
	snapshot := *ps.rec

	ps.mu.Unlock()
	ns.mu.Unlock()

	if err := s.adapter.SavePod(ctx, &snapshot); err != nil {
		// Undo both halves so the failed bind leaves the pre-operation
		// state, re-acquiring in the same node-then-pod order.
		ns.mu.Lock()
		ps.mu.Lock()
		ns.rec.Allocated = ns.rec.Allocated.Sub(reservation)
		ps.rec.NodeID = ""
		ps.rec.Status = model.PodPending
		ps.rec.Incarnation--
		ps.rec.ScheduledAt = nil
		ps.mu.Unlock()
		ns.mu.Unlock()
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}

	s.emit(events.Event{
		Category: events.CategoryPod, Severity: events.SeverityInfo,
		Type: "PodBound", ResourceType: "pod", ResourceID: podID,
		PreviousState: string(model.PodPending), NewState: string(model.PodScheduled),
	})
	return nil
}

// AdvancePodStatus applies a status report from the owning agent. An
// illegal transition (per the pod FSM) is rejected with InvalidState so a
// stale or duplicate report never corrupts the record.
func (s *Store) AdvancePodStatus(ctx context.Context, podID string, next model.PodStatus, reason string, restartCount int32) error {
	ps, ok := s.pods.get(podID)
	if !ok {
		return apierrors.NewNotFound("pod", podID)
	}

	ps.mu.Lock()
	prev := ps.rec.Status
	if !model.CanTransition(prev, next) {
		ps.mu.Unlock()
		return apierrors.NewInvalidState("illegal pod status transition " + string(prev) + " -> " + string(next))
	}
	now := timeNow()
	ps.rec.Status = next
	ps.rec.TerminationMsg = reason
	ps.rec.RestartCount = restartCount
	ps.rec.UpdatedAt = now
	switch next {
	case model.PodRunning:
		if ps.rec.StartedAt == nil {
			ps.rec.StartedAt = &now
		}
	case model.PodStopped, model.PodFailed, model.PodEvicted:
		ps.rec.StoppedAt = &now
	}
	snapshot := *ps.rec
	nodeID := ps.rec.NodeID
	ps.mu.Unlock()

	if err := s.adapter.SavePod(ctx, &snapshot); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	if snapshot.Status.Terminal() && nodeID != "" {
		s.ReleaseAllocation(nodeID, podReservation(&snapshot))
	}

	s.emit(events.Event{
		Category: events.CategoryPod, Severity: events.SeverityInfo,
		Type: "PodStatusChanged", ResourceType: "pod", ResourceID: podID,
		PreviousState: string(prev), NewState: string(next), Message: reason,
	})
	return nil
}

// MarkUnschedulable records that the scheduler could not place a pending
// pod this cycle, annotating the reason for the admin surface.
func (s *Store) MarkUnschedulable(ctx context.Context, podID, reason string) error {
	ps, ok := s.pods.get(podID)
	if !ok {
		return apierrors.NewNotFound("pod", podID)
	}
	ps.mu.Lock()
	ps.rec.TerminationMsg = reason
	ps.rec.UpdatedAt = timeNow()
	ps.mu.Unlock()

	s.emit(events.Event{
		Category: events.CategoryPod, Severity: events.SeverityWarning,
		Type: events.TypePodUnschedulable, ResourceType: "pod", ResourceID: podID,
		Message: reason,
	})
	return nil
}

// DeletePod removes a pod from the store. If the pod was bound and not yet
// terminal, its node reservation is released after the record is removed.
func (s *Store) DeletePod(ctx context.Context, podID string) error {
	ps, ok := s.pods.get(podID)
	if !ok {
		return apierrors.NewNotFound("pod", podID)
	}
	ps.mu.Lock()
	nodeID := ps.rec.NodeID
	reservation := podReservation(ps.rec)
	terminal := ps.rec.Status.Terminal()
	ps.mu.Unlock()

	s.pods.delete(podID)

	if !terminal && nodeID != "" {
		s.ReleaseAllocation(nodeID, reservation)
	}
	if err := s.adapter.DeletePod(ctx, podID); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}
