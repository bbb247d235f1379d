// Package workload implements the deployment controller: a periodic
// reconciler that drives each active deployment's observed pod population
// towards its declared template, replica count and target pack version.
package workload

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

const (
	defaultReconcileInterval = 5 * time.Second
	maxConsecutiveFailures   = 3
	maxFailureBackoff        = 5 * time.Minute
)

// Store is the subset of internal/store.Store the deployment controller
// reconciles against.
type Store interface {
	ActiveDeployments() []*model.Deployment
	DeletingDeployments() []*model.Deployment
	PodsByDeployment(deploymentID string) []*model.Pod
	CreatePod(ctx context.Context, p *model.Pod) error
	DeletePod(ctx context.Context, podID string) error
	AdvancePodStatus(ctx context.Context, podID string, next model.PodStatus, reason string, restartCount int32) error
	UpdateDeploymentObserved(ctx context.Context, d *model.Deployment) error
	MarkDeploymentStalled(ctx context.Context, d *model.Deployment) error
	DeleteDeployment(ctx context.Context, id string) error
	NodesByStatus(status model.NodeStatus) []*model.Node
	LatestVersion(packName string) (*model.Pack, error)
}

// PodTerminator requests that the owning agent stop a pod. Satisfied by
// *internal/session.Handler without either package importing the other.
type PodTerminator interface {
	TerminatePod(nodeID string, payload wire.PodTerminatePayload) bool
}

// Config tunes the reconcile cadence.
type Config struct {
	ReconcileInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = defaultReconcileInterval
	}
	return c
}

// Engine is the deployment reconciler.
type Engine struct {
	store      Store
	terminator PodTerminator
	cfg        Config
	stopCh     chan struct{}
	now        func() time.Time
}

// New builds an Engine. terminator may be nil if the session layer isn't
// wired yet; scale-down/rollout then mark pods stopping without a chance
// to notify the agent, relying on the pod FSM's terminal state alone.
func New(store Store, terminator PodTerminator, cfg Config) *Engine {
	return &Engine{
		store:      store,
		terminator: terminator,
		cfg:        cfg.withDefaults(),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start runs the reconcile loop until Stop. Blocks; run with go.
func (e *Engine) Start() {
	logger.Workload().Info().Dur("reconcileInterval", e.cfg.ReconcileInterval).Msg("deployment controller started")

	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.reconcileAll()
		case <-e.stopCh:
			logger.Workload().Info().Msg("deployment controller stopped")
			return
		}
	}
}

// Stop ends the reconcile loop.
func (e *Engine) Stop() {
	close(e.stopCh)
}

// reconcileAll reconciles every active deployment. One deployment's error
// never blocks another's.
func (e *Engine) reconcileAll() {
	for _, d := range e.store.ActiveDeployments() {
		e.reconcileOne(d)
	}
	for _, d := range e.store.DeletingDeployments() {
		e.reconcileDeleting(d)
	}
}

// reconcileDeleting tears a deleting deployment down: terminate every
// remaining pod, then drop the record once the population is empty.
func (e *Engine) reconcileDeleting(d *model.Deployment) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remaining := nonTerminalPods(e.store.PodsByDeployment(d.ID))
	if len(remaining) == 0 {
		if err := e.store.DeleteDeployment(ctx, d.ID); err != nil {
			logger.Workload().Error().Err(err).Str("deploymentId", d.ID).Msg("failed to delete drained deployment")
		}
		return
	}
	for _, p := range remaining {
		e.requestTermination(ctx, p, "deployment deleted")
	}
}

func (e *Engine) reconcileOne(d *model.Deployment) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current := nonTerminalPods(e.store.PodsByDeployment(d.ID))

	e.accountFailures(ctx, d)
	e.applyVersionDrift(ctx, d)

	if d.DaemonMode() {
		e.reconcileDaemon(ctx, d, current)
	} else {
		e.reconcileReplicaCount(ctx, d, current)
	}

	e.reconcileRollout(ctx, d, nonTerminalPods(e.store.PodsByDeployment(d.ID)))

	e.recomputeObserved(ctx, d)
}

// accountFailures folds any pod of the current target version that failed
// before ever reaching running into ConsecutiveFailures. Each accounted
// failure is deleted so it is never counted twice; a pod that reached
// running before failing is a runtime crash, not a rollout failure, and
// does not affect this counter.
func (e *Engine) accountFailures(ctx context.Context, d *model.Deployment) {
	var failures int32
	for _, p := range e.store.PodsByDeployment(d.ID) {
		if p.Status != model.PodFailed || p.PackVersion != d.PackVersion || p.StartedAt != nil {
			continue
		}
		failures++
		if err := e.store.DeletePod(ctx, p.ID); err != nil {
			logger.Workload().Error().Err(err).Str("podId", p.ID).Msg("failed to clean up a pre-running failure")
			failures--
		}
	}
	if failures == 0 {
		return
	}

	d.ConsecutiveFailures += failures
	logger.Workload().Warn().
		Str("deploymentId", d.ID).Str("version", d.PackVersion).
		Int32("consecutiveFailures", d.ConsecutiveFailures).
		Msg("pre-running pod failure observed")
	if err := e.store.UpdateDeploymentObserved(ctx, d); err != nil {
		logger.Workload().Error().Err(err).Str("deploymentId", d.ID).Msg("failed to persist consecutive failure count")
	}
}

// applyVersionDrift handles follow-latest version bumps and crash-loop
// backoff bookkeeping.
func (e *Engine) applyVersionDrift(ctx context.Context, d *model.Deployment) {
	dirty := false
	stalled := false

	if d.FollowLatest {
		if latest, err := e.store.LatestVersion(d.PackName); err == nil && latest.Version != d.PackVersion {
			d.PackVersion = latest.Version
			dirty = true
		}
	}

	if d.ConsecutiveFailures >= maxConsecutiveFailures {
		if d.FailedVersion != d.PackVersion {
			d.FailedVersion = d.PackVersion
			backoff := backoffFor(d.ConsecutiveFailures)
			until := e.now().Add(backoff)
			d.FailureBackoffUntil = &until
			stalled = true
			logger.Workload().Warn().
				Str("deploymentId", d.ID).Str("version", d.PackVersion).
				Int32("consecutiveFailures", d.ConsecutiveFailures).
				Dur("backoff", backoff).
				Msg("deployment stalled, pausing rollout")
		}
	}

	if stalled {
		if err := e.store.MarkDeploymentStalled(ctx, d); err != nil {
			logger.Workload().Error().Err(err).Str("deploymentId", d.ID).Msg("failed to persist stalled deployment")
		}
		return
	}
	if dirty {
		if err := e.store.UpdateDeploymentObserved(ctx, d); err != nil {
			logger.Workload().Error().Err(err).Str("deploymentId", d.ID).Msg("failed to persist version drift")
		}
	}
}

// backoffFor scales with how far past the threshold consecutiveFailures
// has climbed, capped at maxFailureBackoff.
func backoffFor(consecutiveFailures int32) time.Duration {
	over := consecutiveFailures - maxConsecutiveFailures
	backoff := time.Duration(1<<uint(over)) * time.Minute
	if backoff > maxFailureBackoff || backoff <= 0 {
		backoff = maxFailureBackoff
	}
	return backoff
}

// reconcileReplicaCount scales a fixed-replica deployment up or down to
// its desired count.
func (e *Engine) reconcileReplicaCount(ctx context.Context, d *model.Deployment, current []*model.Pod) {
	if d.InBackoff(e.now()) {
		return
	}

	want := int(d.DesiredReplicas)
	have := len(current)

	for i := have; i < want; i++ {
		e.scaleUp(ctx, d)
	}

	if have > want && !rolloutInProgress(d, current) {
		// During a version rollout the population deliberately surges one
		// above want; the rollout step owns retiring the stale pods, so
		// scale-down must not reap the replacement.
		toRemove := pickYoungest(current, have-want)
		for _, p := range toRemove {
			e.requestTermination(ctx, p, "scaled down")
		}
	}
}

// rolloutInProgress reports whether any live pod still runs a pack version
// other than the deployment's target.
func rolloutInProgress(d *model.Deployment, current []*model.Pod) bool {
	for _, p := range current {
		if p.PackVersion != d.PackVersion {
			return true
		}
	}
	return false
}

// reconcileDaemon drives a daemon-mode (replicas=0) deployment towards
// one pod per schedulable node.
func (e *Engine) reconcileDaemon(ctx context.Context, d *model.Deployment, current []*model.Pod) {
	if d.InBackoff(e.now()) {
		return
	}

	byNode := make(map[string]*model.Pod, len(current))
	unbound := 0
	for _, p := range current {
		if p.NodeID != "" {
			byNode[p.NodeID] = p
		} else {
			unbound++
		}
	}

	candidates := make(map[string]*model.Node)
	for _, n := range e.store.NodesByStatus(model.NodeOnline) {
		candidates[n.ID] = n
	}

	// Pods already created but not yet bound count against the shortfall,
	// so a pending daemon pod isn't duplicated on every tick while the
	// scheduler is still placing it.
	for nodeID, n := range candidates {
		if _, ok := byNode[nodeID]; ok {
			continue
		}
		if !n.Schedulable() {
			continue
		}
		if unbound > 0 {
			unbound--
			continue
		}
		e.scaleUp(ctx, d)
	}

	// A daemon pod whose node is no longer a schedulable candidate (offline,
	// cordoned) is scaled down; the lease engine, not this controller,
	// handles nodes that went fully offline, but a cordoned-but-still-online
	// node is this controller's responsibility.
	for nodeID, p := range byNode {
		n, stillCandidate := candidates[nodeID]
		if stillCandidate && n.Schedulable() {
			continue
		}
		e.requestTermination(ctx, p, "node no longer schedulable")
	}
}

// scaleUp creates one pending pod from the deployment's template.
func (e *Engine) scaleUp(ctx context.Context, d *model.Deployment) {
	p := &model.Pod{
		ID:           uuid.NewString(),
		DeploymentID: d.ID,
		PackName:     d.PackName,
		PackVersion:  d.PackVersion,
		Namespace:    d.Namespace,
		Request:      d.Template.Request,
		Limit:        d.Template.Limit,
		Tolerations:  d.Template.Tolerations,
		NodeSelector: d.Template.NodeSelector,
		Priority:     d.PriorityClass,
		CreatedBy:    "deployment-controller:" + d.ID,
	}
	if err := e.store.CreatePod(ctx, p); err != nil {
		logger.Workload().Error().Err(err).Str("deploymentId", d.ID).Msg("failed to create replica pod")
		return
	}
	logger.Workload().Info().Str("deploymentId", d.ID).Str("podId", p.ID).Msg("scaled up")
}

// requestTermination asks the owning agent to stop a running pod, or
// deletes it outright if it never got as far as running.
func (e *Engine) requestTermination(ctx context.Context, p *model.Pod, reason string) {
	if p.Status == model.PodRunning {
		if err := e.store.AdvancePodStatus(ctx, p.ID, model.PodStopping, reason, p.RestartCount); err != nil {
			logger.Workload().Error().Err(err).Str("podId", p.ID).Msg("failed to mark pod stopping")
			return
		}
		if e.terminator != nil && p.NodeID != "" {
			e.terminator.TerminatePod(p.NodeID, wire.PodTerminatePayload{
				PodID:       p.ID,
				Incarnation: p.Incarnation,
				Reason:      reason,
			})
		}
		return
	}

	if err := e.store.DeletePod(ctx, p.ID); err != nil {
		logger.Workload().Error().Err(err).Str("podId", p.ID).Msg("failed to delete not-yet-running pod")
	}
}

// reconcileRollout replaces pods on a stale pack version one at a time,
// surge-first: a new-version pod is created while the old one keeps
// serving, and only once the newcomer reports running is the oldest stale
// pod retired. The population never drops below the desired count during
// a version change. Each tick advances at most one step of the sequence
// (create, wait for running, retire, wait for drain), so the one-at-a-time
// pacing falls out of the tick cadence rather than extra state on the
// deployment record.
func (e *Engine) reconcileRollout(ctx context.Context, d *model.Deployment, current []*model.Pod) {
	if d.InBackoff(e.now()) {
		return
	}

	var stale []*model.Pod
	freshReady := true
	draining := false
	for _, p := range current {
		if p.PackVersion == d.PackVersion {
			if p.Status != model.PodRunning {
				freshReady = false
			}
			continue
		}
		if p.Status == model.PodStopping {
			draining = true
		}
		stale = append(stale, p)
	}
	if len(stale) == 0 {
		return
	}
	if !freshReady || draining {
		// Either the surge replacement hasn't reached running yet, or the
		// previously retired pod is still draining. One step at a time.
		return
	}

	if len(current) > e.desiredPopulation(d) {
		// The surge replacement is up; the oldest stale pod can go.
		for _, p := range pickOldest(stale, 1) {
			e.requestTermination(ctx, p, "version rollout")
		}
		return
	}
	e.scaleUp(ctx, d)
}

// desiredPopulation is the replica target the rollout surges one above:
// the declared count for a fixed-replica deployment, one per schedulable
// online node in daemon mode.
func (e *Engine) desiredPopulation(d *model.Deployment) int {
	if !d.DaemonMode() {
		return int(d.DesiredReplicas)
	}
	n := 0
	for _, node := range e.store.NodesByStatus(model.NodeOnline) {
		if node.Schedulable() {
			n++
		}
	}
	return n
}

// recomputeObserved refreshes the deployment's observed replica counts.
func (e *Engine) recomputeObserved(ctx context.Context, d *model.Deployment) {
	current := nonTerminalPods(e.store.PodsByDeployment(d.ID))

	var ready, available, updated int32
	for _, p := range current {
		if p.Status == model.PodRunning {
			ready++
			available++
		}
		if p.PackVersion == d.PackVersion {
			updated++
		}
	}

	if d.ReadyReplicas == ready && d.AvailableReplicas == available && d.UpdatedReplicas == updated {
		return
	}

	d.ReadyReplicas = ready
	d.AvailableReplicas = available
	d.UpdatedReplicas = updated
	if updated > 0 && updated == int32(len(current)) {
		d.LastSuccessfulVer = d.PackVersion
		d.ConsecutiveFailures = 0
	}

	if err := e.store.UpdateDeploymentObserved(ctx, d); err != nil {
		logger.Workload().Error().Err(err).Str("deploymentId", d.ID).Msg("failed to persist observed counts")
	}
}

func nonTerminalPods(pods []*model.Pod) []*model.Pod {
	out := make([]*model.Pod, 0, len(pods))
	for _, p := range pods {
		if !p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out
}

// pickYoungest returns the n newest pods (tie-break higher id) for
// scale-down selection.
func pickYoungest(pods []*model.Pod, n int) []*model.Pod {
	sorted := append([]*model.Pod(nil), pods...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// pickOldest returns the n oldest pods (tie-break lower id), used when
// retiring a stale-version pod during rollout.
func pickOldest(pods []*model.Pod, n int) []*model.Pod {
	sorted := append([]*model.Pod(nil), pods...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
