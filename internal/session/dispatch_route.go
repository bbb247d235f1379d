package session

import (
	"context"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// handleRouteRequest resolves a pod's request for a peer pod fronting
// targetServiceId, deferring the actual policy/health decision to the
// routing arbiter (internal/routing). A nil Routes means the arbiter
// hasn't been wired yet; every request then fails closed.
func (h *Handler) handleRouteRequest(ctx context.Context, s *Session, msg wire.Message) {
	var payload wire.RouteRequestPayload
	if err := msg.Decode(&payload); err != nil {
		h.replyError(s, msg, apierrors.NewValidation("malformed route:request payload", nil))
		return
	}

	callerPodID := s.Identity().PodID
	if callerPodID == "" {
		h.replyError(s, msg, apierrors.NewForbidden("session has no bound pod to route from"))
		return
	}

	if h.Routes == nil {
		h.replyError(s, msg, apierrors.NewBackendUnavailable("routing arbiter", nil))
		return
	}

	resp, err := h.Routes.ResolveRoute(ctx, callerPodID, payload)
	if err != nil {
		appErr, ok := apierrors.As(err)
		if !ok {
			appErr = apierrors.NewBackendUnavailable("routing arbiter", err)
		}
		h.replyError(s, msg, appErr)
		return
	}

	out, err := wire.New(wire.TypeRouteResponse, msg.CorrelationID, resp)
	if err != nil {
		return
	}
	s.Send(out)
}
