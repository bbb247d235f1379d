package wire

import "github.com/streamspace-labs/orchestrator/internal/model"

// NodeRegisterPayload is the node:register request body.
type NodeRegisterPayload struct {
	Name        string            `json:"name"`
	RuntimeType model.RuntimeTag  `json:"runtimeType"`
	Version     string            `json:"capabilitiesVersion,omitempty"`
	Allocatable model.ResourceList `json:"allocatable"`
	Labels      model.Labels      `json:"labels,omitempty"`
	Taints      []model.Taint     `json:"taints,omitempty"`
	APIKey      string            `json:"apiKey,omitempty"`
	BootstrapKey string           `json:"bootstrapKey,omitempty"`
}

// NodeRegisterAck is returned on successful registration. APIKey is only
// populated on first-time (bootstrap) registration.
type NodeRegisterAck struct {
	Node   model.Node `json:"node"`
	APIKey string     `json:"apiKey,omitempty"`
}

// NodeHeartbeatPayload is the node:heartbeat request body.
type NodeHeartbeatPayload struct {
	NodeID     string              `json:"nodeId"`
	Status     model.NodeStatus    `json:"status,omitempty"`
	Allocated  *model.ResourceList `json:"allocated,omitempty"`
	ActivePods int                 `json:"activePods,omitempty"`
}

// NodeHeartbeatAck acknowledges a heartbeat.
type NodeHeartbeatAck struct {
	LastHeartbeat string `json:"lastHeartbeat"`
}

// PodAssignPayload is sent server -> agent to place a pod. PodToken is a
// short-lived credential the agent must hand to the pod's runtime process
// (e.g. as an env var); the pod-runtime session presents it back on
// connect to authenticate for group:*/route:* messages.
type PodAssignPayload struct {
	PodID       string             `json:"id"`
	Incarnation int64              `json:"incarnation"`
	PackName    string             `json:"packName"`
	PackVersion string             `json:"packVersion"`
	BundleRef   string             `json:"bundleRef"`
	Limit       model.ResourceList `json:"limit"`
	Env         map[string]string  `json:"env,omitempty"`
	PodToken    string             `json:"podToken,omitempty"`
}

// PodTerminatePayload is sent server -> agent to stop a pod.
type PodTerminatePayload struct {
	PodID       string `json:"podId"`
	Incarnation int64  `json:"incarnation"`
	Reason      string `json:"reason"`
}

// PodStatusPayload is sent agent -> server to report a transition.
type PodStatusPayload struct {
	PodID        string          `json:"podId"`
	Incarnation  int64           `json:"incarnation"`
	Status       model.PodStatus `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	RestartCount int32           `json:"restartCount"`
}

// GroupPayload covers group:join/leave/get-pods/get-groups.
type GroupPayload struct {
	PodID   string `json:"podId"`
	GroupID string `json:"groupId,omitempty"`
}

// RouteRequestPayload is sent pod -> server to resolve a target pod.
type RouteRequestPayload struct {
	CallerServiceID string `json:"callerServiceId"`
	TargetServiceID string `json:"targetServiceId"`
	NonSticky       bool   `json:"nonSticky"`
}

// RouteResponsePayload answers a RouteRequestPayload.
type RouteResponsePayload struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	TargetPodID  string `json:"targetPodId,omitempty"`
	TargetNodeID string `json:"targetNodeId,omitempty"`
}
