package store

import (
	"context"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/events"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

// CreateDeployment registers a new deployment in Active status.
func (s *Store) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	now := timeNow()
	d.Status = model.DeploymentActive
	d.CreatedAt = now
	d.UpdatedAt = now

	s.deployments.put(d.ID, d)

	if err := s.adapter.SaveDeployment(ctx, d); err != nil {
		s.deployments.delete(d.ID)
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}

// GetDeployment returns a copy of the deployment's current view, or NotFound.
func (s *Store) GetDeployment(id string) (*model.Deployment, error) {
	ds, ok := s.deployments.get(id)
	if !ok {
		return nil, apierrors.NewNotFound("deployment", id)
	}
	ds.mu.RLock()
	cp := *ds.rec
	ds.mu.RUnlock()
	return &cp, nil
}

// ListDeployments returns a snapshot of all known deployments.
func (s *Store) ListDeployments() []*model.Deployment {
	slots := s.deployments.all()
	out := make([]*model.Deployment, 0, len(slots))
	for _, ds := range slots {
		ds.mu.RLock()
		cp := *ds.rec
		ds.mu.RUnlock()
		out = append(out, &cp)
	}
	return out
}

// ActiveDeployments returns deployments the workload controller should
// reconcile this tick (excludes Paused and Deleting).
func (s *Store) ActiveDeployments() []*model.Deployment {
	return s.deploymentsByStatus(model.DeploymentActive)
}

// DeletingDeployments returns deployments awaiting teardown, so the
// workload controller can drain their pods and finally drop the record.
func (s *Store) DeletingDeployments() []*model.Deployment {
	return s.deploymentsByStatus(model.DeploymentDeleting)
}

func (s *Store) deploymentsByStatus(status model.DeploymentStatus) []*model.Deployment {
	var out []*model.Deployment
	for _, ds := range s.deployments.all() {
		ds.mu.RLock()
		if ds.rec.Status == status {
			cp := *ds.rec
			out = append(out, &cp)
		}
		ds.mu.RUnlock()
	}
	return out
}

// SetDesiredReplicas updates the scale target for a deployment.
func (s *Store) SetDesiredReplicas(ctx context.Context, id string, replicas int32) error {
	ds, ok := s.deployments.get(id)
	if !ok {
		return apierrors.NewNotFound("deployment", id)
	}
	ds.mu.Lock()
	ds.rec.DesiredReplicas = replicas
	ds.rec.UpdatedAt = timeNow()
	snapshot := *ds.rec
	ds.mu.Unlock()

	if err := s.adapter.SaveDeployment(ctx, &snapshot); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}

// replaceDeployment swaps the stored record for the reconciler's revised
// copy (or inserts it if the record vanished mid-pass) and persists it.
func (s *Store) replaceDeployment(ctx context.Context, d *model.Deployment) error {
	d.UpdatedAt = timeNow()
	if ds, ok := s.deployments.get(d.ID); ok {
		ds.mu.Lock()
		ds.rec = d
		ds.mu.Unlock()
	} else {
		s.deployments.put(d.ID, d)
	}

	if err := s.adapter.SaveDeployment(ctx, d); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}

// UpdateDeploymentObserved records the observed replica counts and version
// bookkeeping the reconciler computed this tick.
func (s *Store) UpdateDeploymentObserved(ctx context.Context, d *model.Deployment) error {
	return s.replaceDeployment(ctx, d)
}

// MarkDeploymentStalled persists a deployment that just entered crash-loop
// backoff (ConsecutiveFailures crossed the threshold for its current
// target version) and emits DeploymentStalled for the admin/alerting
// surface.
func (s *Store) MarkDeploymentStalled(ctx context.Context, d *model.Deployment) error {
	if err := s.replaceDeployment(ctx, d); err != nil {
		return err
	}
	s.emit(events.Event{
		Category: events.CategoryDeployment, Severity: events.SeverityWarning,
		Type: events.TypeDeploymentStalled, ResourceType: "deployment", ResourceID: d.ID,
		NewState: d.FailedVersion,
		Message:  "rollout paused after repeated failures of the target version",
	})
	return nil
}

// MarkDeleting transitions a deployment to Deleting so the workload
// controller scales it to zero and the store can later drop it.
func (s *Store) MarkDeleting(ctx context.Context, id string) error {
	ds, ok := s.deployments.get(id)
	if !ok {
		return apierrors.NewNotFound("deployment", id)
	}
	ds.mu.Lock()
	ds.rec.Status = model.DeploymentDeleting
	ds.rec.DesiredReplicas = 0
	ds.rec.UpdatedAt = timeNow()
	snapshot := *ds.rec
	ds.mu.Unlock()

	if err := s.adapter.SaveDeployment(ctx, &snapshot); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	s.emit(events.Event{
		Category: events.CategoryDeployment, Severity: events.SeverityInfo,
		Type: "DeploymentDeleting", ResourceType: "deployment", ResourceID: id,
	})
	return nil
}

// DeleteDeployment removes a fully-scaled-down deployment from the store.
func (s *Store) DeleteDeployment(ctx context.Context, id string) error {
	s.deployments.delete(id)

	if err := s.adapter.DeleteDeployment(ctx, id); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}
