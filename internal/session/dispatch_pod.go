package session

import (
	"context"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// handlePodStatus records a status transition reported by the node hosting
// the pod. No response is sent: the agent learns the outcome only
// through a future pod:terminate or the next pod:assign.
func (h *Handler) handlePodStatus(ctx context.Context, s *Session, msg wire.Message) {
	var payload wire.PodStatusPayload
	if err := msg.Decode(&payload); err != nil {
		logger.Session().Warn().Err(err).Str("sessionId", s.ID).Msg("malformed pod:status payload")
		return
	}

	pod, err := h.Pods.GetPod(payload.PodID)
	if err != nil {
		logger.Session().Warn().Str("podId", payload.PodID).Msg("pod:status for unknown pod")
		return
	}
	if !s.Identity().OwnsNode(pod.NodeID) {
		logger.Session().Warn().Str("podId", payload.PodID).Str("sessionId", s.ID).
			Msg("pod:status from a session that does not own the pod's node")
		return
	}
	if payload.Incarnation != pod.Incarnation {
		// A report for an older placement of this pod id; the pod has been
		// rebound (or revoked) since the agent sent it.
		logger.Session().Debug().Str("podId", payload.PodID).
			Int64("reported", payload.Incarnation).Int64("current", pod.Incarnation).
			Msg("dropping stale pod:status")
		return
	}

	if err := h.Pods.AdvancePodStatus(ctx, payload.PodID, payload.Status, payload.Reason, payload.RestartCount); err != nil {
		if appErr, ok := apierrors.As(err); ok && appErr.Code == apierrors.CodeInvalidState {
			logger.Session().Warn().Err(err).Str("podId", payload.PodID).Msg("rejected illegal pod status transition")
			return
		}
		logger.Session().Error().Err(err).Str("podId", payload.PodID).Msg("failed to record pod status")
	}
}

// handlePodAssignAck and handlePodTerminateAck are informational: the
// commanding side (scheduler or workload controller) does not block on
// them, since the authoritative signal is the pod's next pod:status
// report. They're logged so a slow or silently-dropped command is at
// least visible.
func (h *Handler) handlePodAssignAck(s *Session, msg wire.Message) {
	logger.Session().Debug().Str("sessionId", s.ID).Str("correlationId", msg.CorrelationID).Msg("pod:assign acked")
}

func (h *Handler) handlePodTerminateAck(s *Session, msg wire.Message) {
	logger.Session().Debug().Str("sessionId", s.ID).Str("correlationId", msg.CorrelationID).Msg("pod:terminate acked")
}
