package session

import (
	"encoding/json"

	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// AssignPod sends a pod:assign command to the node hosting nodeID. Called
// by the scheduler right after store.BindPod succeeds. Returns false if no
// session is currently connected for that node, meaning the command could
// not be delivered and the caller should leave the pod for the next
// reconcile pass rather than assume it landed.
func (h *Handler) AssignPod(nodeID string, payload wire.PodAssignPayload) bool {
	return h.send(nodeID, wire.TypePodAssign, payload)
}

// TerminatePod sends a pod:terminate command to the node hosting nodeID.
// Called by the workload controller during rollout, scale-down or
// explicit deletion.
func (h *Handler) TerminatePod(nodeID string, payload wire.PodTerminatePayload) bool {
	return h.send(nodeID, wire.TypePodTerminate, payload)
}

func (h *Handler) send(nodeID, msgType string, payload any) bool {
	msg, err := wire.New(msgType, "", payload)
	if err != nil {
		logger.Session().Error().Err(err).Str("type", msgType).Msg("failed to build outbound frame")
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Session().Error().Err(err).Str("type", msgType).Msg("failed to marshal outbound frame")
		return false
	}
	return h.Hub.SendToNode(nodeID, data)
}
