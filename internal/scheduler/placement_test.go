package scheduler

import (
	"testing"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/streamspace-labs/orchestrator/internal/model"
)

func qty(s string) resource.Quantity {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func schedulableNode(id string) *model.Node {
	return &model.Node{
		ID:          id,
		Status:      model.NodeOnline,
		Allocatable: model.ResourceList{CPU: qty("2"), Memory: qty("4Gi"), Pods: 10},
	}
}

func TestComputePlacementNoCandidates(t *testing.T) {
	d := ComputePlacement(PlacementInput{Pod: &model.Pod{}})
	if d.Reason != model.ReasonNoNodes {
		t.Errorf("Reason = %q, want %q", d.Reason, model.ReasonNoNodes)
	}
}

func TestComputePlacementFiltersUnschedulableAndCordoned(t *testing.T) {
	offline := schedulableNode("offline")
	offline.Status = model.NodeOffline
	cordoned := schedulableNode("cordoned")
	cordoned.Unschedulable = true
	ok := schedulableNode("ok")

	d := ComputePlacement(PlacementInput{Pod: &model.Pod{Request: model.ResourceList{CPU: qty("1")}}, Candidates: []*model.Node{offline, cordoned, ok}})
	if d.NodeID != "ok" {
		t.Errorf("NodeID = %q, want ok", d.NodeID)
	}
}

func TestComputePlacementRejectsInsufficientResources(t *testing.T) {
	small := schedulableNode("small")
	small.Allocatable = model.ResourceList{CPU: qty("1"), Pods: 10}

	d := ComputePlacement(PlacementInput{Pod: &model.Pod{Request: model.ResourceList{CPU: qty("2")}}, Candidates: []*model.Node{small}})
	if d.NodeID != "" || d.Reason != model.ReasonInsufficientResources {
		t.Errorf("decision = %+v, want insufficient-resources rejection", d)
	}
}

func TestComputePlacementTaintRejectionThenToleration(t *testing.T) {
	tainted := schedulableNode("tainted")
	tainted.Taints = []model.Taint{{Key: "gpu", Effect: model.NoSchedule}}

	pod := &model.Pod{Request: model.ResourceList{CPU: qty("1")}}
	d := ComputePlacement(PlacementInput{Pod: pod, Candidates: []*model.Node{tainted}})
	if d.NodeID != "" || d.Reason != model.ReasonTaintNotTolerated {
		t.Errorf("decision = %+v, want taint-not-tolerated rejection", d)
	}

	pod.Tolerations = []model.Toleration{{Key: "gpu", Operator: model.TolerationExists, Effect: model.NoSchedule}}
	d = ComputePlacement(PlacementInput{Pod: pod, Candidates: []*model.Node{tainted}})
	if d.NodeID != "tainted" {
		t.Errorf("decision = %+v, want the tainted node to be chosen once tolerated", d)
	}
}

func TestComputePlacementPrefersMoreFreeCapacity(t *testing.T) {
	busy := schedulableNode("busy")
	busy.Allocated = model.ResourceList{CPU: qty("1.8"), Memory: qty("3.5Gi")}
	idle := schedulableNode("idle")

	d := ComputePlacement(PlacementInput{Pod: &model.Pod{Request: model.ResourceList{CPU: qty("0.1")}}, Candidates: []*model.Node{busy, idle}})
	if d.NodeID != "idle" {
		t.Errorf("NodeID = %q, want idle (more free capacity scores higher)", d.NodeID)
	}
}

func TestComputePlacementTieBreaksByNodeID(t *testing.T) {
	a := schedulableNode("b-node")
	b := schedulableNode("a-node")

	d := ComputePlacement(PlacementInput{Pod: &model.Pod{}, Candidates: []*model.Node{a, b}})
	if d.NodeID != "a-node" {
		t.Errorf("NodeID = %q, want a-node (lexicographically first on tie)", d.NodeID)
	}
}

func TestComputePlacementPackVisibilityRestrictsPrivatePacks(t *testing.T) {
	node := schedulableNode("n1")
	node.OwnerID = "owner-a"
	pack := &model.Pack{Visibility: model.VisibilityPrivate}
	pod := &model.Pod{CreatedBy: "owner-b", Request: model.ResourceList{CPU: qty("0.1")}}

	d := ComputePlacement(PlacementInput{Pod: pod, Pack: pack, Candidates: []*model.Node{node}})
	if d.NodeID != "" {
		t.Errorf("expected a private pack to be rejected on a node owned by someone else, got %+v", d)
	}

	pod.CreatedBy = "owner-a"
	d = ComputePlacement(PlacementInput{Pod: pod, Pack: pack, Candidates: []*model.Node{node}})
	if d.NodeID != "n1" {
		t.Errorf("expected a private pack to be placeable on its owner's node, got %+v", d)
	}
}

func TestComputePlacementRuntimeTagIncompatibility(t *testing.T) {
	node := schedulableNode("n1")
	node.RuntimeTag = model.RuntimeBrowser
	pack := &model.Pack{RuntimeTag: model.RuntimeServer}

	d := ComputePlacement(PlacementInput{Pod: &model.Pod{}, Pack: pack, Candidates: []*model.Node{node}})
	if d.NodeID != "" {
		t.Errorf("expected a browser node to be rejected for a server-only pack, got %+v", d)
	}
}

func TestComputePlacementRejectsTerminatingNamespace(t *testing.T) {
	node := schedulableNode("n1")
	pod := &model.Pod{Namespace: "doomed", Request: model.ResourceList{CPU: qty("0.1")}}

	d := ComputePlacement(PlacementInput{Pod: pod, Candidates: []*model.Node{node}, NamespaceTerminating: true})
	if d.NodeID != "" || d.Reason != model.ReasonQuotaExceeded {
		t.Errorf("decision = %+v, want rejection for a terminating namespace", d)
	}

	d = ComputePlacement(PlacementInput{Pod: pod, Candidates: []*model.Node{node}})
	if d.NodeID != "n1" {
		t.Errorf("decision = %+v, want the same pod to place once the namespace is not terminating", d)
	}
}
