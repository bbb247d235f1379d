package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// Authenticator resolves the WebSocket upgrade request's credential into a
// principal through the bootstrap/reconnect/pod-token rules. It is
// consulted before anything other than the identity-establishing message
// is accepted from the connection.
type Authenticator interface {
	// AuthenticateNode checks a node's bootstrap key, API key or mTLS
	// identity and returns the ownerId the node registers under.
	AuthenticateNode(ctx context.Context, r *http.Request, nodeName string) (ownerID string, bootstrapped bool, err error)
	// AuthenticatePod checks a pod-runtime session's short-lived token.
	AuthenticatePod(ctx context.Context, r *http.Request, podID string) error
	// MintNodeAPIKey returns a freshly minted API key for a just-bootstrapped
	// node, persisted by the caller's own hashing path.
	MintNodeAPIKey(ctx context.Context, nodeID string) (string, error)
}

// RouteResolver answers route:request frames. It is optional: a nil
// resolver causes every route:request to fail with BACKEND_UNAVAILABLE,
// which is preferable to silently misrouting traffic.
type RouteResolver interface {
	ResolveRoute(ctx context.Context, callerPodID string, req wire.RouteRequestPayload) (wire.RouteResponsePayload, error)
}

// NodeRegistry is the subset of internal/store.Store the session layer
// needs to admit and track agent connections.
type NodeRegistry interface {
	CreateNode(ctx context.Context, n *model.Node) error
	GetNode(id string) (*model.Node, error)
	UpdateHeartbeat(ctx context.Context, nodeID string, allocated *model.ResourceList) error
}

// PodRegistry is the subset of internal/store.Store the session layer
// needs to record pod status reports from the owning runtime.
type PodRegistry interface {
	GetPod(id string) (*model.Pod, error)
	AdvancePodStatus(ctx context.Context, podID string, next model.PodStatus, reason string, restartCount int32) error
}

// Handler wires the Hub's transport to the control plane's domain state.
// It is the Dispatcher every Session's readPump calls into.
type Handler struct {
	Hub    *Hub
	Nodes  NodeRegistry
	Pods   PodRegistry
	Auth   Authenticator
	Routes RouteResolver
	Groups *GroupRegistry

	upgrader websocket.Upgrader
}

// NewHandler builds a Handler. Routes may be nil until internal/routing is
// wired; route:request then fails closed rather than panicking.
func NewHandler(hub *Hub, nodes NodeRegistry, pods PodRegistry, auth Authenticator, routes RouteResolver) *Handler {
	return &Handler{
		Hub:    hub,
		Nodes:  nodes,
		Pods:   pods,
		Auth:   auth,
		Routes: routes,
		Groups: NewGroupRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the WebSocket upgrade endpoint.
func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/agents/connect", h.Connect)
}

// Connect upgrades the HTTP request to a WebSocket and starts the
// session's read/write pumps. Identity is not yet known at this point;
// the connection is only admitted to send node:register until it
// authenticates (handled inline in handleNodeRegister).
func (h *Handler) Connect(c *gin.Context) {
	podID := c.Query("podId")
	if podID != "" {
		if err := h.Auth.AuthenticatePod(c.Request.Context(), c.Request, podID); err != nil {
			c.JSON(http.StatusUnauthorized, apierrors.NewForbidden("pod token rejected").ToResponse())
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Session().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	identity := model.Session{
		ID:          id,
		ConnectedAt: time.Now(),
	}
	s := newSession(id, conn, c.Request, h.Hub, h, identity)

	h.Hub.register <- s
	if podID != "" {
		s.SetPodID(podID)
	}
	go s.writePump()
	s.readPump()
}

// Dispatch implements session.Dispatcher: it decodes msg.Type and routes
// to the matching handler, replying with a *:error frame for anything it
// doesn't recognize.
func (h *Handler) Dispatch(s *Session, msg wire.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Type {
	case wire.TypeNodeRegister:
		h.handleNodeRegister(ctx, s, msg)
	case wire.TypeNodeHeartbeat:
		h.handleNodeHeartbeat(ctx, s, msg)
	case wire.TypePodStatus:
		h.handlePodStatus(ctx, s, msg)
	case wire.TypePodAssignAck:
		h.handlePodAssignAck(s, msg)
	case wire.TypePodTerminateAck:
		h.handlePodTerminateAck(s, msg)
	case wire.TypeGroupJoin, wire.TypeGroupLeave, wire.TypeGroupLeaveAll, wire.TypeGroupGetPods, wire.TypeGroupGetGroups:
		h.handleGroup(s, msg)
	case wire.TypeRouteRequest:
		h.handleRouteRequest(ctx, s, msg)
	default:
		h.replyError(s, msg, apierrors.NewUnknownType(msg.Type))
	}
}

// OnDisconnect releases any group membership and lets the caller's
// owning systems (lease engine, routing) learn about the drop via their
// own polling of the store; the session layer itself does not mark the
// node offline, since a dropped connection may just be recoverable flap
// (the lease engine decides that, not this layer).
func (h *Handler) OnDisconnect(s *Session) {
	identity := s.Identity()
	h.Groups.RemoveAll(identity.PodID)
}

func (h *Handler) replyError(s *Session, in wire.Message, appErr *apierrors.AppError) {
	resp := in.Type + wire.TypeErrorSuffix
	out, err := wire.New(resp, in.CorrelationID, appErr.ToResponse())
	if err != nil {
		logger.Session().Error().Err(err).Msg("failed to build error frame")
		return
	}
	s.Send(out)
}
