// Package routing implements the routing arbiter: answers a calling
// pod's route:request by picking a healthy target pod for a service,
// spreading load with a deterministic rolling counter.
package routing

import (
	"context"
	"sort"
	"sync"

	"github.com/streamspace-labs/orchestrator/internal/cache"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// Store is the subset of internal/store.Store the arbiter reads from. A
// target service id is resolved as a deployment id directly: the data
// model treats "deployment" and "service" as the same entity (see
// model.Deployment's doc comment), and the wire protocol has no separate
// service-registry lookup, so callers address a service by its owning
// deployment's id.
type Store interface {
	PodsByDeployment(deploymentID string) []*model.Pod
}

// PolicyGate is consulted before every route resolution. The default
// implementation allows everything; a deployment that needs network
// segmentation supplies its own.
type PolicyGate interface {
	Allow(ctx context.Context, callerPodID, targetServiceID string) (bool, string)
}

// AllowAllPolicy is the default PolicyGate: no network policy engine ships
// with this module, so every call is allowed. Wiring a real engine behind
// this interface is an integration decision left to the deployer.
type AllowAllPolicy struct{}

func (AllowAllPolicy) Allow(ctx context.Context, callerPodID, targetServiceID string) (bool, string) {
	return true, ""
}

// counter is satisfied by *internal/cache.Cache.
type counter interface {
	Increment(ctx context.Context, key string) (int64, error)
}

// Arbiter implements session.RouteResolver.
type Arbiter struct {
	store  Store
	policy PolicyGate
	shared counter

	local *localCounters
}

type localCounters struct {
	mu     sync.Mutex
	counts map[string]uint64
}

// New builds an Arbiter. shared may be nil or a disabled *cache.Cache; the
// arbiter falls back to an in-process counter whenever the shared counter
// is unavailable, so a single-replica control plane never needs Redis.
func New(store Store, policy PolicyGate, shared counter) *Arbiter {
	if policy == nil {
		policy = AllowAllPolicy{}
	}
	return &Arbiter{
		store:  store,
		policy: policy,
		shared: shared,
		local:  &localCounters{counts: make(map[string]uint64)},
	}
}

// ResolveRoute implements internal/session.RouteResolver.
func (a *Arbiter) ResolveRoute(ctx context.Context, callerPodID string, req wire.RouteRequestPayload) (wire.RouteResponsePayload, error) {
	if allowed, reason := a.policy.Allow(ctx, callerPodID, req.TargetServiceID); !allowed {
		return wire.RouteResponsePayload{Allowed: false, Reason: reason}, nil
	}

	healthy := healthyPods(a.store.PodsByDeployment(req.TargetServiceID))
	if len(healthy) == 0 {
		return wire.RouteResponsePayload{Allowed: false, Reason: "NoHealthyTarget"}, nil
	}

	idx := a.next(ctx, req.TargetServiceID, len(healthy))
	chosen := healthy[idx]

	return wire.RouteResponsePayload{
		Allowed:      true,
		TargetPodID:  chosen.ID,
		TargetNodeID: chosen.NodeID,
	}, nil
}

// healthyPods filters to running pods, sorted by id for a stable rotation
// order (so the same index always names the same pod between calls).
func healthyPods(pods []*model.Pod) []*model.Pod {
	out := make([]*model.Pod, 0, len(pods))
	for _, p := range pods {
		if p.Status == model.PodRunning && p.NodeID != "" {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// next returns the rotation index for targetServiceID, preferring the
// shared Redis counter (for multi-replica spread) and falling back to an
// in-process counter when the shared one is disabled or unreachable.
func (a *Arbiter) next(ctx context.Context, targetServiceID string, n int) int {
	if a.shared != nil {
		if v, err := a.shared.Increment(ctx, cache.RoutingCounterKey(targetServiceID)); err == nil {
			return int(uint64(v) % uint64(n))
		}
	}
	return int(a.local.increment(targetServiceID) % uint64(n))
}

func (l *localCounters) increment(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key]
}
