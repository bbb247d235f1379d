package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

type fakeStore struct {
	mu            sync.Mutex
	pending       []*model.Pod
	nodes         []*model.Node
	bindErr       error
	bound         map[string]string
	unschedulable map[string]string
	terminatingNS map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{bound: map[string]string{}, unschedulable: map[string]string{}}
}

func (f *fakeStore) PendingPods() []*model.Pod {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Pod(nil), f.pending...)
}
func (f *fakeStore) GetPackByNameVersion(name, version string) (*model.Pack, error) {
	return nil, apierrors.NewNotFound("pack", name)
}
func (f *fakeStore) NodesByStatus(status model.NodeStatus) []*model.Node {
	if status != model.NodeOnline {
		return nil
	}
	return f.nodes
}
func (f *fakeStore) NamespaceTerminating(namespace string) bool {
	return f.terminatingNS[namespace]
}
func (f *fakeStore) BindPod(ctx context.Context, podID, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil {
		return f.bindErr
	}
	f.bound[podID] = nodeID
	f.pending = removePod(f.pending, podID)
	return nil
}
func (f *fakeStore) MarkUnschedulable(ctx context.Context, podID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unschedulable[podID] = reason
	return nil
}

func removePod(pods []*model.Pod, id string) []*model.Pod {
	out := pods[:0:0]
	for _, p := range pods {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

type fakeAssigner struct {
	mu       sync.Mutex
	assigned []wire.PodAssignPayload
}

func (f *fakeAssigner) AssignPod(nodeID string, payload wire.PodAssignPayload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, payload)
	return true
}

type fakeTokens struct{}

func (fakeTokens) Issue(podID string) (string, error) { return "token-" + podID, nil }

func TestSchedulePodBindsAndAssigns(t *testing.T) {
	store := newFakeStore()
	store.pending = []*model.Pod{{ID: "p1", Request: model.ResourceList{CPU: qty("0.1")}}}
	store.nodes = []*model.Node{schedulableNode("n1")}
	assigner := &fakeAssigner{}

	e := New(store, assigner, fakeTokens{}, Config{})
	e.schedulePod("p1")

	if store.bound["p1"] != "n1" {
		t.Fatalf("bound = %+v, want p1->n1", store.bound)
	}
	if len(assigner.assigned) != 1 || assigner.assigned[0].PodToken != "token-p1" {
		t.Errorf("assigned = %+v, want one payload with a minted token", assigner.assigned)
	}
}

func TestSchedulePodMarksUnschedulableWhenNoCandidates(t *testing.T) {
	store := newFakeStore()
	store.pending = []*model.Pod{{ID: "p1"}}
	e := New(store, nil, nil, Config{})

	e.schedulePod("p1")

	if _, ok := store.bound["p1"]; ok {
		t.Error("expected no bind when there are no nodes")
	}
	if store.unschedulable["p1"] != model.ReasonNoNodes {
		t.Errorf("unschedulable reason = %q, want %q", store.unschedulable["p1"], model.ReasonNoNodes)
	}
}

func TestSchedulePodBackoffDoublesOnRepeatedFailure(t *testing.T) {
	store := newFakeStore()
	store.pending = []*model.Pod{{ID: "p1"}}
	e := New(store, nil, nil, Config{})

	e.schedulePod("p1")
	first := e.backoff["p1"].cur
	e.schedulePod("p1")
	second := e.backoff["p1"].cur

	if second != first*2 {
		t.Errorf("backoff after second failure = %v, want %v (doubled)", second, first*2)
	}
}

func TestSchedulePodConflictDoesNotBackoff(t *testing.T) {
	store := newFakeStore()
	store.pending = []*model.Pod{{ID: "p1", Request: model.ResourceList{CPU: qty("0.1")}}}
	store.nodes = []*model.Node{schedulableNode("n1")}
	store.bindErr = apierrors.NewConflict("lost the race")
	e := New(store, nil, nil, Config{})

	e.schedulePod("p1")

	if _, ok := e.backoff["p1"]; ok {
		t.Error("expected a bind conflict to not apply a backoff penalty")
	}
}

func TestEligibleRespectsBackoffWindow(t *testing.T) {
	e := New(newFakeStore(), nil, nil, Config{})
	e.backOff("p1")
	if e.eligible("p1", time.Now()) {
		t.Error("expected a pod to be ineligible immediately after backing off")
	}
	future := time.Now().Add(time.Hour)
	if !e.eligible("p1", future) {
		t.Error("expected a pod to become eligible again once its backoff window passes")
	}
}

func TestClearBackoffRemovesState(t *testing.T) {
	e := New(newFakeStore(), nil, nil, Config{})
	e.backOff("p1")
	e.clearBackoff("p1")
	if _, ok := e.backoff["p1"]; ok {
		t.Error("expected clearBackoff to remove the pod's backoff state")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("PollInterval = %v, want default", cfg.PollInterval)
	}
	if cfg.Workers <= 0 {
		t.Errorf("Workers = %d, want a positive default", cfg.Workers)
	}
}

func TestSchedulePodSkipsTerminatingNamespace(t *testing.T) {
	store := newFakeStore()
	store.terminatingNS = map[string]bool{"doomed": true}
	store.pending = []*model.Pod{{ID: "p1", Namespace: "doomed", Request: model.ResourceList{CPU: qty("0.1")}}}
	store.nodes = []*model.Node{schedulableNode("n1")}
	e := New(store, nil, nil, Config{})

	e.schedulePod("p1")

	if _, ok := store.bound["p1"]; ok {
		t.Error("expected no bind into a terminating namespace")
	}
	if store.unschedulable["p1"] != model.ReasonQuotaExceeded {
		t.Errorf("unschedulable reason = %q, want %q", store.unschedulable["p1"], model.ReasonQuotaExceeded)
	}
}
