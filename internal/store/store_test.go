package store

import (
	"context"
	"errors"
	"testing"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

// fakeAdapter is an in-memory Adapter double. saveNodeErr (and friends) let
// a test force a durable-write failure to exercise the rollback paths.
type fakeAdapter struct {
	nodes       map[string]*model.Node
	pods        map[string]*model.Pod
	deployments map[string]*model.Deployment
	packs       map[string]*model.Pack

	saveNodeErr error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		nodes:       map[string]*model.Node{},
		pods:        map[string]*model.Pod{},
		deployments: map[string]*model.Deployment{},
		packs:       map[string]*model.Pack{},
	}
}

func (f *fakeAdapter) LoadNodes(ctx context.Context) ([]*model.Node, error) {
	out := make([]*model.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}
func (f *fakeAdapter) LoadPods(ctx context.Context) ([]*model.Pod, error) {
	out := make([]*model.Pod, 0, len(f.pods))
	for _, p := range f.pods {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeAdapter) LoadDeployments(ctx context.Context) ([]*model.Deployment, error) {
	out := make([]*model.Deployment, 0, len(f.deployments))
	for _, d := range f.deployments {
		out = append(out, d)
	}
	return out, nil
}
func (f *fakeAdapter) LoadPacks(ctx context.Context) ([]*model.Pack, error) {
	out := make([]*model.Pack, 0, len(f.packs))
	for _, p := range f.packs {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeAdapter) SaveNode(ctx context.Context, n *model.Node) error {
	if f.saveNodeErr != nil {
		return f.saveNodeErr
	}
	cp := *n
	f.nodes[n.ID] = &cp
	return nil
}
func (f *fakeAdapter) DeleteNode(ctx context.Context, id string) error {
	delete(f.nodes, id)
	return nil
}
func (f *fakeAdapter) SavePod(ctx context.Context, p *model.Pod) error {
	cp := *p
	f.pods[p.ID] = &cp
	return nil
}
func (f *fakeAdapter) DeletePod(ctx context.Context, id string) error {
	delete(f.pods, id)
	return nil
}
func (f *fakeAdapter) SaveDeployment(ctx context.Context, d *model.Deployment) error {
	cp := *d
	f.deployments[d.ID] = &cp
	return nil
}
func (f *fakeAdapter) DeleteDeployment(ctx context.Context, id string) error {
	delete(f.deployments, id)
	return nil
}
func (f *fakeAdapter) SavePack(ctx context.Context, p *model.Pack) error {
	cp := *p
	f.packs[p.ID] = &cp
	return nil
}
func (f *fakeAdapter) DeletePack(ctx context.Context, id string) error {
	delete(f.packs, id)
	return nil
}

func newTestStore() (*Store, *fakeAdapter) {
	adapter := newFakeAdapter()
	return New(adapter, nil), adapter
}

func TestCreateNodeRejectsDuplicateLiveName(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if err := s.CreateNode(ctx, &model.Node{ID: "n1", Name: "worker-1"}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	err := s.CreateNode(ctx, &model.Node{ID: "n2", Name: "worker-1"})
	if err == nil {
		t.Fatal("expected duplicate live node name to conflict")
	}
	if appErr, ok := apierrors.As(err); !ok || appErr.Code != apierrors.CodeConflict {
		t.Errorf("error = %v, want CONFLICT", err)
	}
}

func TestCreateNodeAllowsReregisteringOfflineName(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if err := s.CreateNode(ctx, &model.Node{ID: "n1", Name: "worker-1"}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if _, err := s.MarkOffline(ctx, "n1"); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	if err := s.CreateNode(ctx, &model.Node{ID: "n2", Name: "worker-1"}); err != nil {
		t.Errorf("expected re-registration under an offline name to succeed, got %v", err)
	}
}

func TestCreateNodeRollsBackOnAdapterFailure(t *testing.T) {
	s, adapter := newTestStore()
	adapter.saveNodeErr = errors.New("disk full")

	err := s.CreateNode(context.Background(), &model.Node{ID: "n1", Name: "worker-1"})
	if err == nil {
		t.Fatal("expected adapter failure to surface")
	}
	if _, getErr := s.GetNode("n1"); getErr == nil {
		t.Error("expected the in-memory node to be rolled back after a failed durable save")
	}
}

func TestGetNodeByNamePrefersLiveOverOffline(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if err := s.CreateNode(ctx, &model.Node{ID: "n1", Name: "worker-1"}); err != nil {
		t.Fatalf("CreateNode n1: %v", err)
	}
	if _, err := s.MarkOffline(ctx, "n1"); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	if err := s.CreateNode(ctx, &model.Node{ID: "n2", Name: "worker-1"}); err != nil {
		t.Fatalf("CreateNode n2: %v", err)
	}

	got, err := s.GetNodeByName("worker-1")
	if err != nil {
		t.Fatalf("GetNodeByName: %v", err)
	}
	if got.ID != "n2" {
		t.Errorf("GetNodeByName = %q, want n2 (the live registration)", got.ID)
	}
}

func TestReserveAllocationRejectsOvercommit(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	node := &model.Node{ID: "n1", Name: "worker-1", Allocatable: model.ResourceList{Pods: 1}}
	if err := s.CreateNode(ctx, node); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	if err := s.ReserveAllocation("n1", model.ResourceList{Pods: 1}); err != nil {
		t.Fatalf("first ReserveAllocation: %v", err)
	}
	if err := s.ReserveAllocation("n1", model.ResourceList{Pods: 1}); err == nil {
		t.Error("expected a second reservation past capacity to conflict")
	}
}

func TestReleaseAllocationFreesCapacity(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	node := &model.Node{ID: "n1", Name: "worker-1", Allocatable: model.ResourceList{Pods: 1}}
	if err := s.CreateNode(ctx, node); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.ReserveAllocation("n1", model.ResourceList{Pods: 1}); err != nil {
		t.Fatalf("ReserveAllocation: %v", err)
	}
	s.ReleaseAllocation("n1", model.ResourceList{Pods: 1})
	if err := s.ReserveAllocation("n1", model.ResourceList{Pods: 1}); err != nil {
		t.Errorf("expected released capacity to be reusable, got %v", err)
	}
}

func TestMarkSuspectThenOfflineRevokesPods(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if err := s.CreateNode(ctx, &model.Node{ID: "n1", Name: "worker-1", Allocatable: model.ResourceList{Pods: 1}}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.CreatePod(ctx, &model.Pod{ID: "p1"}); err != nil {
		t.Fatalf("CreatePod: %v", err)
	}
	if err := s.BindPod(ctx, "p1", "n1"); err != nil {
		t.Fatalf("BindPod: %v", err)
	}
	if err := s.AdvancePodStatus(ctx, "p1", model.PodStarting, "", 0); err != nil {
		t.Fatalf("AdvancePodStatus starting: %v", err)
	}
	if err := s.AdvancePodStatus(ctx, "p1", model.PodRunning, "", 0); err != nil {
		t.Fatalf("AdvancePodStatus running: %v", err)
	}

	if err := s.MarkSuspect(ctx, "n1"); err != nil {
		t.Fatalf("MarkSuspect: %v", err)
	}
	node, err := s.GetNode("n1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Status != model.NodeSuspect {
		t.Errorf("status = %v, want suspect", node.Status)
	}

	lost, err := s.MarkOffline(ctx, "n1")
	if err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	if len(lost) != 1 || lost[0].ID != "p1" {
		t.Fatalf("lost = %+v, want exactly pod p1", lost)
	}
	if lost[0].Status != model.PodEvicted {
		t.Errorf("evicted pod status = %v, want evicted", lost[0].Status)
	}
}

func TestMarkOfflineIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	if err := s.CreateNode(ctx, &model.Node{ID: "n1", Name: "worker-1"}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.MarkSuspect(ctx, "n1"); err != nil {
		t.Fatalf("MarkSuspect: %v", err)
	}
	if _, err := s.MarkOffline(ctx, "n1"); err != nil {
		t.Fatalf("first MarkOffline: %v", err)
	}
	lost, err := s.MarkOffline(ctx, "n1")
	if err != nil {
		t.Fatalf("second MarkOffline: %v", err)
	}
	if lost != nil {
		t.Errorf("expected a second MarkOffline on an already-offline node to be a no-op, got %+v", lost)
	}
}

func TestClusterStatsAggregates(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	if err := s.CreateNode(ctx, &model.Node{ID: "n1", Name: "a", Allocatable: model.ResourceList{Pods: 5}}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.CreateNode(ctx, &model.Node{ID: "n2", Name: "b", Allocatable: model.ResourceList{Pods: 5}}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.MarkSuspect(ctx, "n2"); err != nil {
		t.Fatalf("MarkSuspect: %v", err)
	}
	if err := s.CreatePod(ctx, &model.Pod{ID: "p1"}); err != nil {
		t.Fatalf("CreatePod: %v", err)
	}

	stats := s.ClusterStats()
	if stats.TotalNodes != 2 || stats.OnlineNodes != 1 || stats.SuspectNodes != 1 {
		t.Errorf("stats = %+v, want 2 total, 1 online, 1 suspect", stats)
	}
	if stats.PodsByStatus[model.PodPending] != 1 {
		t.Errorf("PodsByStatus[pending] = %d, want 1", stats.PodsByStatus[model.PodPending])
	}
}

func TestLoadFromAdapterReclaimsUnacknowledgedPods(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.nodes["n1"] = &model.Node{ID: "n1", Name: "worker-1", Allocated: model.ResourceList{Pods: 1}}
	adapter.pods["p1"] = &model.Pod{ID: "p1", NodeID: "n1", Status: model.PodScheduled, Request: model.ResourceList{Pods: 1}}

	s := New(adapter, nil)
	if err := s.LoadFromAdapter(context.Background()); err != nil {
		t.Fatalf("LoadFromAdapter: %v", err)
	}

	pod, err := s.GetPod("p1")
	if err != nil {
		t.Fatalf("GetPod: %v", err)
	}
	if pod.Status != model.PodPending || pod.NodeID != "" {
		t.Errorf("pod = %+v, want reclaimed to pending with no node", pod)
	}
	node, err := s.GetNode("n1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Allocated.Pods != 0 {
		t.Errorf("node.Allocated.Pods = %d, want 0 after reclaim", node.Allocated.Pods)
	}
}
