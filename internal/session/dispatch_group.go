package session

import (
	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// groupAck mirrors the group:*:ack payload shape; kept local since none of
// the five group operations need more than membership lists back.
type groupAck struct {
	PodID  string   `json:"podId"`
	Groups []string `json:"groups,omitempty"`
	Pods   []string `json:"pods,omitempty"`
}

// handleGroup dispatches group:join/leave/leave-all/get-pods/get-groups. A
// pod-runtime session may only operate on its own podId.
func (h *Handler) handleGroup(s *Session, msg wire.Message) {
	var payload wire.GroupPayload
	if err := msg.Decode(&payload); err != nil {
		h.replyError(s, msg, apierrors.NewValidation("malformed group payload", nil))
		return
	}
	if !s.Identity().OwnsPod(payload.PodID) {
		h.replyError(s, msg, apierrors.NewForbidden("session does not own this pod"))
		return
	}

	var ackType string
	var ack groupAck
	switch msg.Type {
	case wire.TypeGroupJoin:
		if payload.GroupID == "" {
			h.replyError(s, msg, apierrors.NewValidation("groupId is required", nil))
			return
		}
		h.Groups.Join(payload.GroupID, payload.PodID)
		ackType, ack = wire.TypeGroupJoinAck, groupAck{PodID: payload.PodID}
	case wire.TypeGroupLeave:
		if payload.GroupID == "" {
			h.replyError(s, msg, apierrors.NewValidation("groupId is required", nil))
			return
		}
		h.Groups.Leave(payload.GroupID, payload.PodID)
		ackType, ack = wire.TypeGroupLeaveAck, groupAck{PodID: payload.PodID}
	case wire.TypeGroupLeaveAll:
		h.Groups.RemoveAll(payload.PodID)
		ackType, ack = wire.TypeGroupLeaveAllAck, groupAck{PodID: payload.PodID}
	case wire.TypeGroupGetPods:
		ackType = wire.TypeGroupGetPodsAck
		ack = groupAck{PodID: payload.PodID, Pods: h.Groups.PodsIn(payload.GroupID)}
	case wire.TypeGroupGetGroups:
		ackType = wire.TypeGroupGetGroupsAck
		ack = groupAck{PodID: payload.PodID, Groups: h.Groups.GroupsOf(payload.PodID)}
	default:
		h.replyError(s, msg, apierrors.NewUnknownType(msg.Type))
		return
	}

	out, err := wire.New(ackType, msg.CorrelationID, ack)
	if err != nil {
		return
	}
	s.Send(out)
}
