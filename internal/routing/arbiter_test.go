package routing

import (
	"context"
	"testing"

	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

type fakeStore struct {
	pods []*model.Pod
}

func (f *fakeStore) PodsByDeployment(deploymentID string) []*model.Pod { return f.pods }

type denyPolicy struct{ reason string }

func (d denyPolicy) Allow(ctx context.Context, callerPodID, targetServiceID string) (bool, string) {
	return false, d.reason
}

func TestResolveRouteDeniedByPolicy(t *testing.T) {
	a := New(&fakeStore{}, denyPolicy{reason: "blocked"}, nil)
	resp, err := a.ResolveRoute(context.Background(), "caller", wire.RouteRequestPayload{TargetServiceID: "svc"})
	if err != nil {
		t.Fatalf("ResolveRoute: %v", err)
	}
	if resp.Allowed || resp.Reason != "blocked" {
		t.Errorf("resp = %+v, want denied with policy reason", resp)
	}
}

func TestResolveRouteNoHealthyTarget(t *testing.T) {
	store := &fakeStore{pods: []*model.Pod{{ID: "p1", Status: model.PodPending}}}
	a := New(store, nil, nil)
	resp, err := a.ResolveRoute(context.Background(), "caller", wire.RouteRequestPayload{TargetServiceID: "svc"})
	if err != nil {
		t.Fatalf("ResolveRoute: %v", err)
	}
	if resp.Allowed || resp.Reason != "NoHealthyTarget" {
		t.Errorf("resp = %+v, want NoHealthyTarget", resp)
	}
}

func TestResolveRouteRotatesAcrossHealthyPods(t *testing.T) {
	store := &fakeStore{pods: []*model.Pod{
		{ID: "p1", Status: model.PodRunning, NodeID: "n1"},
		{ID: "p2", Status: model.PodRunning, NodeID: "n2"},
	}}
	a := New(store, nil, nil)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		resp, err := a.ResolveRoute(context.Background(), "caller", wire.RouteRequestPayload{TargetServiceID: "svc"})
		if err != nil {
			t.Fatalf("ResolveRoute: %v", err)
		}
		if !resp.Allowed {
			t.Fatalf("resp = %+v, want allowed", resp)
		}
		seen[resp.TargetPodID] = true
	}
	if len(seen) != 2 {
		t.Errorf("seen targets = %v, want rotation across both healthy pods", seen)
	}
}

func TestResolveRouteIgnoresNonRunningOrUnboundPods(t *testing.T) {
	store := &fakeStore{pods: []*model.Pod{
		{ID: "starting", Status: model.PodStarting, NodeID: "n1"},
		{ID: "no-node", Status: model.PodRunning},
		{ID: "healthy", Status: model.PodRunning, NodeID: "n2"},
	}}
	a := New(store, nil, nil)

	resp, err := a.ResolveRoute(context.Background(), "caller", wire.RouteRequestPayload{TargetServiceID: "svc"})
	if err != nil {
		t.Fatalf("ResolveRoute: %v", err)
	}
	if resp.TargetPodID != "healthy" {
		t.Errorf("TargetPodID = %q, want healthy", resp.TargetPodID)
	}
}
