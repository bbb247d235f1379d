package model

import "time"

// PodStatus is a position in the pod lifecycle finite state machine.
type PodStatus string

const (
	PodPending   PodStatus = "pending"
	PodScheduled PodStatus = "scheduled"
	PodStarting  PodStatus = "starting"
	PodRunning   PodStatus = "running"
	PodStopping  PodStatus = "stopping"
	PodStopped   PodStatus = "stopped"
	PodFailed    PodStatus = "failed"
	PodEvicted   PodStatus = "evicted"
)

// validPodTransitions enumerates the legal pod lifecycle edges. A revocation by the
// lease engine bypasses this table deliberately (any non-terminal status
// moves straight to evicted).
var validPodTransitions = map[PodStatus][]PodStatus{
	PodPending:   {PodScheduled, PodFailed},
	PodScheduled: {PodStarting, PodFailed},
	PodStarting:  {PodRunning, PodFailed},
	PodRunning:   {PodStopping, PodFailed, PodEvicted},
	PodStopping:  {PodStopped, PodFailed},
	PodStopped:   {},
	PodFailed:    {},
	PodEvicted:   {},
}

// CanTransition reports whether moving from cur to next is a legal FSM edge.
func CanTransition(cur, next PodStatus) bool {
	for _, allowed := range validPodTransitions[cur] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether status has no further transitions.
func (s PodStatus) Terminal() bool {
	return len(validPodTransitions[s]) == 0
}

// Pod is a running or scheduled instance of a pack on a node.
type Pod struct {
	ID             string       `json:"id" db:"id"`
	DeploymentID   string       `json:"deploymentId,omitempty" db:"deployment_id"`
	PackName       string       `json:"packName" db:"pack_name"`
	PackVersion    string       `json:"packVersion" db:"pack_version"`
	Namespace      string       `json:"namespace" db:"namespace"`
	Request        ResourceList `json:"request" db:"request"`
	Limit          ResourceList `json:"limit" db:"limit_"`
	Tolerations    TolerationList `json:"tolerations,omitempty" db:"tolerations"`
	NodeSelector   Labels       `json:"nodeSelector,omitempty" db:"node_selector"`
	Priority       int32        `json:"priority" db:"priority"`
	NodeID         string       `json:"nodeId,omitempty" db:"node_id"`
	Status         PodStatus    `json:"status" db:"status"`
	Incarnation    int64        `json:"incarnation" db:"incarnation"`
	CreatedBy      string       `json:"createdBy" db:"created_by"`
	ScheduledAt    *time.Time   `json:"scheduledAt,omitempty" db:"scheduled_at"`
	StartedAt      *time.Time   `json:"startedAt,omitempty" db:"started_at"`
	StoppedAt      *time.Time   `json:"stoppedAt,omitempty" db:"stopped_at"`
	TerminationMsg string       `json:"terminationReason,omitempty" db:"termination_reason"`
	RestartCount   int32        `json:"restartCount" db:"restart_count"`
	CreatedAt      time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time    `json:"updatedAt" db:"updated_at"`
}

// Bound reports whether the pod currently occupies a node.
func (p *Pod) Bound() bool {
	switch p.Status {
	case PodScheduled, PodStarting, PodRunning, PodStopping:
		return p.NodeID != ""
	default:
		return false
	}
}

// Unschedulable failure reason categories carried on PodUnschedulable events.
const (
	ReasonNoNodes               = "no-nodes"
	ReasonNoCompatibleNodes     = "no-compatible-nodes"
	ReasonInsufficientResources = "insufficient-resources"
	ReasonTaintNotTolerated     = "taint-not-tolerated"
	ReasonAffinityNotMet        = "affinity-not-met"
	ReasonQuotaExceeded         = "quota-exceeded"
)

// TerminationReasonNodeLost is set on pods revoked by the lease engine.
const TerminationReasonNodeLost = "node_lost"
