package scheduler

import (
	"sort"

	"github.com/streamspace-labs/orchestrator/internal/model"
)

// Score weights. Kept as package constants rather than a tunable struct:
// these are fixed defaults and nothing currently exposes per-deployment
// overrides.
const (
	weightResource  = 0.5
	weightSpread    = 0.3
	weightAffinity  = 0.2
	weightSoftTaint = 0.2
)

// PlacementInput is the snapshot the scheduler gathers from the store
// before making a decision. Filter/score logic never touches the store
// itself so it can be exercised without one.
type PlacementInput struct {
	Pod        *model.Pod
	Pack       *model.Pack // may be nil if the pack was deleted after the pod was queued
	Candidates []*model.Node
	QueueDepth int
	// NamespaceTerminating is the store's answer for the pod's namespace:
	// a namespace being torn down admits no new pods on any node.
	NamespaceTerminating bool
}

// PlacementDecision is ComputePlacement's pure output: either a chosen
// node, or a failure reason category for PodUnschedulable.
type PlacementDecision struct {
	NodeID string
	Reason string // one of the model.Reason* categories; empty when NodeID is set
}

// scored pairs a surviving candidate with its score for sorting.
type scored struct {
	node  *model.Node
	score float64
}

// ComputePlacement runs the filter then score steps and
// returns the winning node, or the failure reason category that best
// explains why none qualified. It has no side effects and does not mutate
// input.
func ComputePlacement(input PlacementInput) PlacementDecision {
	if len(input.Candidates) == 0 {
		return PlacementDecision{Reason: model.ReasonNoNodes}
	}

	survivors, reason := filter(input)
	if len(survivors) == 0 {
		return PlacementDecision{Reason: reason}
	}

	ranked := make([]scored, 0, len(survivors))
	for _, n := range survivors {
		ranked = append(ranked, scored{node: n, score: score(input.Pod, n)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].node.ID < ranked[j].node.ID
	})

	return PlacementDecision{NodeID: ranked[0].node.ID}
}

// filter applies the hard placement constraints and returns the survivors plus the most
// specific rejection reason observed (used only when every candidate is
// eliminated, to report why).
func filter(input PlacementInput) ([]*model.Node, string) {
	pod := input.Pod
	var survivors []*model.Node
	reason := model.ReasonNoCompatibleNodes

	if input.NamespaceTerminating {
		// No node can host a pod whose namespace is being torn down;
		// reported as quota-exceeded since the refusal is namespace
		// admission policy, not node capacity.
		return nil, model.ReasonQuotaExceeded
	}

	for _, n := range input.Candidates {
		if !n.Schedulable() {
			continue
		}
		if input.Pack != nil && !n.RuntimeTag.Compatible(input.Pack.RuntimeTag) {
			continue
		}
		if input.Pack != nil && input.Pack.MinRuntimeVersion != "" && n.RuntimeVersion < input.Pack.MinRuntimeVersion {
			continue
		}
		if !n.Labels.Matches(pod.NodeSelector) {
			reason = model.ReasonAffinityNotMet
			continue
		}
		if !model.TaintsTolerated(n.EffectiveTaints(), pod.Tolerations) {
			reason = model.ReasonTaintNotTolerated
			continue
		}
		if input.Pack != nil && !packVisibleToNode(input.Pack, n, pod) {
			continue
		}
		if !n.Available().Fits(pod.Request) {
			reason = model.ReasonInsufficientResources
			continue
		}
		survivors = append(survivors, n)
	}
	return survivors, reason
}

// packVisibleToNode applies the access-policy filter: a private pack may
// only run on a node owned by the pod's creator; public packs run
// anywhere. There is no separate "admin node" concept in the data model,
// and unlike Pack.VisibleTo there is no admin override here: owner-id
// equality is the only way a node is admitted to a private pack.
func packVisibleToNode(pack *model.Pack, n *model.Node, pod *model.Pod) bool {
	if pack.Visibility == model.VisibilityPublic {
		return true
	}
	return n.OwnerID == pod.CreatedBy
}

// score computes the weighted placement score for one surviving node.
func score(pod *model.Pod, n *model.Node) float64 {
	freeFraction := averageFreeFraction(n)
	loadShare := 1 - freeFraction
	affinity := 0.0
	if len(pod.NodeSelector) > 0 {
		affinity = 1.0
	}
	preferPenalty := normalizedCount(model.PreferNoScheduleCount(n.EffectiveTaints(), pod.Tolerations))

	return weightResource*freeFraction +
		weightSpread*(1-loadShare) +
		weightAffinity*affinity -
		weightSoftTaint*preferPenalty
}

// averageFreeFraction averages the node's remaining cpu/memory capacity as
// a fraction of its allocatable, clamped to [0,1].
func averageFreeFraction(n *model.Node) float64 {
	available := n.Available()
	allocatable := n.Allocatable
	cpuFrac := fraction(available.CPU.MilliValue(), allocatable.CPU.MilliValue())
	memFrac := fraction(available.Memory.Value(), allocatable.Memory.Value())
	return (cpuFrac + memFrac) / 2
}

func fraction(remaining, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(remaining) / float64(total)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// normalizedCount bounds an unbounded non-negative count into (0,1) so it
// composes with the other weighted, bounded score terms.
func normalizedCount(n int) float64 {
	return float64(n) / float64(n+1)
}
