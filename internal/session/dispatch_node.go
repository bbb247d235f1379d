package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// handleNodeRegister admits a node's identity-establishing message. A node
// with no existing record self-registers with a bootstrap key and is
// handed a freshly minted API key for all future reconnects; an existing
// node reconnects with that key (or mTLS) instead.
func (h *Handler) handleNodeRegister(ctx context.Context, s *Session, msg wire.Message) {
	var payload wire.NodeRegisterPayload
	if err := msg.Decode(&payload); err != nil {
		h.replyError(s, msg, apierrors.NewValidation("malformed node:register payload", nil))
		return
	}
	if payload.Name == "" {
		h.replyError(s, msg, apierrors.NewValidation("name is required", nil))
		return
	}

	req := s.httpRequest()
	if key := payload.APIKey; key != "" && req.Header.Get("X-Agent-API-Key") == "" {
		req.Header.Set("X-Agent-API-Key", key)
	}
	if key := payload.BootstrapKey; key != "" && req.Header.Get("X-Agent-API-Key") == "" {
		req.Header.Set("X-Agent-API-Key", key)
	}
	ownerID, bootstrapped, err := h.Auth.AuthenticateNode(ctx, req, payload.Name)
	if err != nil {
		if appErr, ok := apierrors.As(err); ok {
			h.replyError(s, msg, appErr)
		} else {
			h.replyError(s, msg, apierrors.NewForbidden("authentication failed"))
		}
		return
	}

	node := &model.Node{
		ID:             uuid.NewString(),
		Name:           payload.Name,
		RuntimeTag:     payload.RuntimeType,
		Allocatable:    payload.Allocatable,
		Labels:         payload.Labels,
		OwnerID:        ownerID,
		RuntimeVersion: payload.Version,
		SessionID:      s.ID,
	}
	if len(payload.Taints) > 0 {
		node.Taints = model.Taints(payload.Taints)
	}

	if err := h.Nodes.CreateNode(ctx, node); err != nil {
		appErr, _ := apierrors.As(err)
		h.replyError(s, msg, appErr)
		return
	}

	s.SetNodeID(node.ID)

	ack := wire.NodeRegisterAck{Node: *node}
	if bootstrapped {
		key, err := h.Auth.MintNodeAPIKey(ctx, node.ID)
		if err != nil {
			logger.Session().Error().Err(err).Str("nodeId", node.ID).Msg("failed to mint node api key")
		} else {
			ack.APIKey = key
		}
	}

	out, err := wire.New(wire.TypeNodeRegisterAck, msg.CorrelationID, ack)
	if err != nil {
		logger.Session().Error().Err(err).Msg("failed to build node:register:ack")
		return
	}
	s.Send(out)
	logger.Session().Info().Str("nodeId", node.ID).Str("name", node.Name).Msg("node registered")
}

// handleNodeHeartbeat applies a liveness report from an already-registered
// node. The lease engine's recovery path (suspect -> online) is driven
// entirely through Nodes.UpdateHeartbeat, not here.
func (h *Handler) handleNodeHeartbeat(ctx context.Context, s *Session, msg wire.Message) {
	var payload wire.NodeHeartbeatPayload
	if err := msg.Decode(&payload); err != nil {
		h.replyError(s, msg, apierrors.NewValidation("malformed node:heartbeat payload", nil))
		return
	}
	if !s.Identity().OwnsNode(payload.NodeID) {
		h.replyError(s, msg, apierrors.NewForbidden("session does not own this node"))
		return
	}

	if err := h.Nodes.UpdateHeartbeat(ctx, payload.NodeID, payload.Allocated); err != nil {
		appErr, _ := apierrors.As(err)
		h.replyError(s, msg, appErr)
		return
	}

	ack := wire.NodeHeartbeatAck{LastHeartbeat: nowRFC3339()}
	out, err := wire.New(wire.TypeNodeHeartbeatAck, msg.CorrelationID, ack)
	if err != nil {
		return
	}
	s.Send(out)
}
