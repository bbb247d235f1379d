package db

import (
	"context"
	"database/sql"

	"github.com/streamspace-labs/orchestrator/internal/model"
)

// Adapter implements internal/store.Adapter against this package's
// Database. It is a thin translation layer: every method maps one Go
// struct to one row. The JSONB columns rely on the model package's own
// sql.Scanner/driver.Valuer implementations (ResourceList, Labels, Taints,
// TolerationList, PodTemplate, Metadata).
type Adapter struct {
	db *Database
}

// NewAdapter wraps database as a store.Adapter.
func NewAdapter(database *Database) *Adapter {
	return &Adapter{db: database}
}

// --- nodes ---

func (a *Adapter) LoadNodes(ctx context.Context) ([]*model.Node, error) {
	rows, err := a.db.DB().QueryContext(ctx, `
		SELECT id, name, runtime_tag, allocatable, allocated, labels, taints,
		       unschedulable, status, suspect_since, last_heartbeat, session_id,
		       owner_id, runtime_version, api_key_hash, created_at, updated_at
		FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Node
	for rows.Next() {
		n := &model.Node{}
		var sessionID, runtimeVersion, apiKeyHash sql.NullString
		if err := rows.Scan(&n.ID, &n.Name, &n.RuntimeTag, &n.Allocatable, &n.Allocated,
			&n.Labels, &n.Taints, &n.Unschedulable, &n.Status, &n.SuspectSince,
			&n.LastHeartbeat, &sessionID, &n.OwnerID, &runtimeVersion, &apiKeyHash,
			&n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		n.SessionID = sessionID.String
		n.RuntimeVersion = runtimeVersion.String
		n.APIKeyHash = apiKeyHash.String
		out = append(out, n)
	}
	return out, rows.Err()
}

func (a *Adapter) SaveNode(ctx context.Context, n *model.Node) error {
	_, err := a.db.DB().ExecContext(ctx, `
		INSERT INTO nodes (id, name, runtime_tag, allocatable, allocated, labels, taints,
		                    unschedulable, status, suspect_since, last_heartbeat, session_id,
		                    owner_id, runtime_version, api_key_hash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, runtime_tag = EXCLUDED.runtime_tag,
			allocatable = EXCLUDED.allocatable, allocated = EXCLUDED.allocated,
			labels = EXCLUDED.labels, taints = EXCLUDED.taints,
			unschedulable = EXCLUDED.unschedulable, status = EXCLUDED.status,
			suspect_since = EXCLUDED.suspect_since, last_heartbeat = EXCLUDED.last_heartbeat,
			session_id = EXCLUDED.session_id, runtime_version = EXCLUDED.runtime_version,
			api_key_hash = EXCLUDED.api_key_hash, updated_at = EXCLUDED.updated_at`,
		n.ID, n.Name, n.RuntimeTag, n.Allocatable, n.Allocated, n.Labels, n.Taints,
		n.Unschedulable, n.Status, n.SuspectSince, n.LastHeartbeat, nullableString(n.SessionID),
		n.OwnerID, nullableString(n.RuntimeVersion), nullableString(n.APIKeyHash),
		n.CreatedAt, n.UpdatedAt)
	return err
}

func (a *Adapter) DeleteNode(ctx context.Context, id string) error {
	_, err := a.db.DB().ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	return err
}

// --- pods ---

func (a *Adapter) LoadPods(ctx context.Context) ([]*model.Pod, error) {
	rows, err := a.db.DB().QueryContext(ctx, `
		SELECT id, deployment_id, pack_name, pack_version, namespace, request, limit_,
		       tolerations, node_selector, priority, node_id, status, incarnation,
		       created_by, scheduled_at, started_at, stopped_at, termination_reason,
		       restart_count, created_at, updated_at
		FROM pods`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Pod
	for rows.Next() {
		p := &model.Pod{}
		var deploymentID, nodeID, createdBy sql.NullString
		if err := rows.Scan(&p.ID, &deploymentID, &p.PackName, &p.PackVersion, &p.Namespace,
			&p.Request, &p.Limit, &p.Tolerations, &p.NodeSelector, &p.Priority, &nodeID,
			&p.Status, &p.Incarnation, &createdBy, &p.ScheduledAt, &p.StartedAt,
			&p.StoppedAt, &p.TerminationMsg, &p.RestartCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.DeploymentID = deploymentID.String
		p.NodeID = nodeID.String
		p.CreatedBy = createdBy.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (a *Adapter) SavePod(ctx context.Context, p *model.Pod) error {
	_, err := a.db.DB().ExecContext(ctx, `
		INSERT INTO pods (id, deployment_id, pack_name, pack_version, namespace, request, limit_,
		                   tolerations, node_selector, priority, node_id, status, incarnation,
		                   created_by, scheduled_at, started_at, stopped_at, termination_reason,
		                   restart_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (id) DO UPDATE SET
			deployment_id = EXCLUDED.deployment_id, request = EXCLUDED.request,
			limit_ = EXCLUDED.limit_, tolerations = EXCLUDED.tolerations,
			node_selector = EXCLUDED.node_selector, priority = EXCLUDED.priority,
			node_id = EXCLUDED.node_id, status = EXCLUDED.status,
			incarnation = EXCLUDED.incarnation, scheduled_at = EXCLUDED.scheduled_at,
			started_at = EXCLUDED.started_at, stopped_at = EXCLUDED.stopped_at,
			termination_reason = EXCLUDED.termination_reason,
			restart_count = EXCLUDED.restart_count, updated_at = EXCLUDED.updated_at`,
		p.ID, nullableString(p.DeploymentID), p.PackName, p.PackVersion, p.Namespace,
		p.Request, p.Limit, p.Tolerations, p.NodeSelector, p.Priority, nullableString(p.NodeID),
		p.Status, p.Incarnation, nullableString(p.CreatedBy), p.ScheduledAt, p.StartedAt,
		p.StoppedAt, p.TerminationMsg, p.RestartCount, p.CreatedAt, p.UpdatedAt)
	return err
}

func (a *Adapter) DeletePod(ctx context.Context, id string) error {
	_, err := a.db.DB().ExecContext(ctx, `DELETE FROM pods WHERE id = $1`, id)
	return err
}

// --- deployments ---

func (a *Adapter) LoadDeployments(ctx context.Context) ([]*model.Deployment, error) {
	rows, err := a.db.DB().QueryContext(ctx, `
		SELECT id, namespace, name, pack_name, pack_version, follow_latest, desired_replicas,
		       template, priority_class, status, ready_replicas, available_replicas,
		       updated_replicas, last_successful_version, failed_version,
		       consecutive_failures, failure_backoff_until, created_at, updated_at
		FROM deployments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Deployment
	for rows.Next() {
		d := &model.Deployment{}
		var lastSuccessfulVer, failedVer sql.NullString
		if err := rows.Scan(&d.ID, &d.Namespace, &d.Name, &d.PackName, &d.PackVersion,
			&d.FollowLatest, &d.DesiredReplicas, &d.Template, &d.PriorityClass, &d.Status,
			&d.ReadyReplicas, &d.AvailableReplicas, &d.UpdatedReplicas, &lastSuccessfulVer,
			&failedVer, &d.ConsecutiveFailures, &d.FailureBackoffUntil, &d.CreatedAt,
			&d.UpdatedAt); err != nil {
			return nil, err
		}
		d.LastSuccessfulVer = lastSuccessfulVer.String
		d.FailedVersion = failedVer.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (a *Adapter) SaveDeployment(ctx context.Context, d *model.Deployment) error {
	_, err := a.db.DB().ExecContext(ctx, `
		INSERT INTO deployments (id, namespace, name, pack_name, pack_version, follow_latest,
		                          desired_replicas, template, priority_class, status,
		                          ready_replicas, available_replicas, updated_replicas,
		                          last_successful_version, failed_version, consecutive_failures,
		                          failure_backoff_until, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO UPDATE SET
			pack_version = EXCLUDED.pack_version, follow_latest = EXCLUDED.follow_latest,
			desired_replicas = EXCLUDED.desired_replicas, template = EXCLUDED.template,
			priority_class = EXCLUDED.priority_class, status = EXCLUDED.status,
			ready_replicas = EXCLUDED.ready_replicas, available_replicas = EXCLUDED.available_replicas,
			updated_replicas = EXCLUDED.updated_replicas,
			last_successful_version = EXCLUDED.last_successful_version,
			failed_version = EXCLUDED.failed_version,
			consecutive_failures = EXCLUDED.consecutive_failures,
			failure_backoff_until = EXCLUDED.failure_backoff_until, updated_at = EXCLUDED.updated_at`,
		d.ID, d.Namespace, d.Name, d.PackName, d.PackVersion, d.FollowLatest,
		d.DesiredReplicas, d.Template, d.PriorityClass, d.Status, d.ReadyReplicas,
		d.AvailableReplicas, d.UpdatedReplicas, nullableString(d.LastSuccessfulVer),
		nullableString(d.FailedVersion), d.ConsecutiveFailures, d.FailureBackoffUntil,
		d.CreatedAt, d.UpdatedAt)
	return err
}

func (a *Adapter) DeleteDeployment(ctx context.Context, id string) error {
	_, err := a.db.DB().ExecContext(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	return err
}

// --- packs ---

func (a *Adapter) LoadPacks(ctx context.Context) ([]*model.Pack, error) {
	rows, err := a.db.DB().QueryContext(ctx, `
		SELECT id, name, version, runtime_tag, owner_id, visibility, bundle_ref,
		       description, min_runtime_version, metadata, created_at, updated_at
		FROM packs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Pack
	for rows.Next() {
		p := &model.Pack{}
		var description, minRuntimeVersion sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Version, &p.RuntimeTag, &p.OwnerID,
			&p.Visibility, &p.BundleRef, &description, &minRuntimeVersion, &p.Metadata,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Description = description.String
		p.MinRuntimeVersion = minRuntimeVersion.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (a *Adapter) SavePack(ctx context.Context, p *model.Pack) error {
	_, err := a.db.DB().ExecContext(ctx, `
		INSERT INTO packs (id, name, version, runtime_tag, owner_id, visibility, bundle_ref,
		                    description, min_runtime_version, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			visibility = EXCLUDED.visibility, bundle_ref = EXCLUDED.bundle_ref,
			description = EXCLUDED.description, min_runtime_version = EXCLUDED.min_runtime_version,
			metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Version, p.RuntimeTag, p.OwnerID, p.Visibility, p.BundleRef,
		nullableString(p.Description), nullableString(p.MinRuntimeVersion), p.Metadata,
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (a *Adapter) DeletePack(ctx context.Context, id string) error {
	_, err := a.db.DB().ExecContext(ctx, `DELETE FROM packs WHERE id = $1`, id)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
