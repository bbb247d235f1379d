// Package wire defines the agent wire protocol: a length-prefixed JSON
// envelope carrying a closed set of message types between the control
// plane and agent/pod-runtime sessions.
package wire

import (
	"encoding/json"
)

// Message is the top-level envelope for every frame exchanged over a
// session. Type determines how Payload should be unmarshalled.
type Message struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Message types, agent/pod -> server.
const (
	TypeNodeRegister    = "node:register"
	TypeNodeHeartbeat   = "node:heartbeat"
	TypePodStatus       = "pod:status"
	TypeGroupJoin       = "group:join"
	TypeGroupLeave      = "group:leave"
	TypeGroupLeaveAll   = "group:leave-all"
	TypeGroupGetPods    = "group:get-pods"
	TypeGroupGetGroups  = "group:get-groups"
	TypeRouteRequest    = "route:request"
)

// Message types, server -> agent/pod.
const (
	TypeNodeRegisterAck  = "node:register:ack"
	TypeNodeRegisterErr  = "node:register:error"
	TypeNodeHeartbeatAck = "node:heartbeat:ack"
	TypePodAssign        = "pod:assign"
	TypePodAssignAck     = "pod:assign:ack"
	TypePodTerminate     = "pod:terminate"
	TypePodTerminateAck  = "pod:terminate:ack"
	TypeGroupJoinAck     = "group:join:ack"
	TypeGroupLeaveAck    = "group:leave:ack"
	TypeGroupLeaveAllAck = "group:leave-all:ack"
	TypeGroupGetPodsAck  = "group:get-pods:ack"
	TypeGroupGetGroupsAck = "group:get-groups:ack"
	TypeRouteResponse    = "route:response"
	TypeGroupError       = "group:error"
	TypeErrorSuffix      = ":error"
)

// New builds an outbound Message by marshalling payload.
func New(msgType string, correlationID string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: raw, CorrelationID: correlationID}, nil
}

// Decode unmarshals msg.Payload into out.
func (m Message) Decode(out any) error {
	return json.Unmarshal(m.Payload, out)
}
