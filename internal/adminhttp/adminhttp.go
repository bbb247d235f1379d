// Package adminhttp is the control plane's only HTTP surface: a
// liveness/readiness probe pair, the WebSocket upgrade endpoint the
// session layer hangs off, and the administrative node operations
// (cordon/uncordon/drain) and cluster stats snapshot. It is
// deliberately thin: operator auth is a single bearer-token check, and
// everything else rides the wire protocol through the upgrade endpoint.
package adminhttp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/auth"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/session"
	"github.com/streamspace-labs/orchestrator/internal/store"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

// Pinger is satisfied by *sql.DB (pass internal/db.Database.DB()); kept as
// an interface so this package doesn't need to know how the durable
// adapter is wired.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Store is the subset of internal/store.Store the admin surface reads and
// mutates directly.
type Store interface {
	ClusterStats() store.ClusterStats
	SetUnschedulable(ctx context.Context, nodeID string, unschedulable bool) error
	PodsByNode(nodeID string) []*model.Pod
	MarkNamespaceTerminating(namespace string)
	ClearNamespaceTerminating(namespace string)
}

// PodTerminator delivers a pod:terminate frame to the owning agent.
// Satisfied by *internal/session.Handler.
type PodTerminator interface {
	TerminatePod(nodeID string, payload wire.PodTerminatePayload) bool
}

// Server wires the admin HTTP surface's dependencies.
type Server struct {
	db         Pinger
	store      Store
	terminator PodTerminator
	sessions   *session.Handler
	jwt        *auth.JWTManager
}

func NewServer(db Pinger, st Store, terminator PodTerminator, sessions *session.Handler, jwt *auth.JWTManager) *Server {
	return &Server{db: db, store: st, terminator: terminator, sessions: sessions, jwt: jwt}
}

// RegisterRoutes mounts every route this surface exposes onto router. The
// mutating node operations require an admin/operator bearer token when a
// JWTManager was configured; without one (no JWT_SECRET_KEY set) they are
// left open, matching a local/dev deployment.
func (s *Server) RegisterRoutes(router gin.IRoutes) {
	router.GET("/healthz", s.healthz)
	router.GET("/readyz", s.readyz)
	router.GET("/v1/cluster/stats", s.clusterStats)
	router.POST("/v1/nodes/:id/cordon", s.requireOperator(s.cordonNode))
	router.POST("/v1/nodes/:id/uncordon", s.requireOperator(s.uncordonNode))
	router.POST("/v1/nodes/:id/drain", s.requireOperator(s.drainNode))
	router.POST("/v1/namespaces/:name/terminating", s.requireOperator(s.markNamespaceTerminating))
	router.DELETE("/v1/namespaces/:name/terminating", s.requireOperator(s.clearNamespaceTerminating))
	s.sessions.RegisterRoutes(router)
}

// requireOperator wraps a handler with a bearer-token check when a
// JWTManager is configured. principalId/role from the validated claims are
// not currently consumed beyond the role check; node mutation handlers act
// on the path parameter, not the caller's identity.
func (s *Server) requireOperator(next gin.HandlerFunc) gin.HandlerFunc {
	if s.jwt == nil {
		return next
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		claims, err := s.jwt.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		if claims.Role != "admin" && claims.Role != "operator" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin or operator role required"})
			c.Abort()
			return
		}
		next(c)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) clusterStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ClusterStats())
}

// cordonNode marks a node unschedulable: no new binds, but its already
// running pods are left alone.
func (s *Server) cordonNode(c *gin.Context) {
	s.setUnschedulable(c, true)
}

func (s *Server) uncordonNode(c *gin.Context) {
	s.setUnschedulable(c, false)
}

func (s *Server) setUnschedulable(c *gin.Context, unschedulable bool) {
	nodeID := c.Param("id")
	if err := s.store.SetUnschedulable(c.Request.Context(), nodeID, unschedulable); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodeId": nodeID, "unschedulable": unschedulable})
}

// drainNode cordons a node and proactively requests termination of every
// non-terminal pod bound to it, rather than waiting for lease expiry to
// force it.
func (s *Server) drainNode(c *gin.Context) {
	nodeID := c.Param("id")
	ctx := c.Request.Context()

	if err := s.store.SetUnschedulable(ctx, nodeID, true); err != nil {
		writeError(c, err)
		return
	}

	var drained []string
	for _, p := range s.store.PodsByNode(nodeID) {
		if p.Status.Terminal() {
			continue
		}
		if s.terminator != nil {
			s.terminator.TerminatePod(nodeID, wire.PodTerminatePayload{
				PodID:       p.ID,
				Incarnation: p.Incarnation,
				Reason:      "node drain",
			})
		}
		drained = append(drained, p.ID)
	}
	c.JSON(http.StatusOK, gin.H{"nodeId": nodeID, "drainedPods": drained})
}

// markNamespaceTerminating begins namespace teardown admission control:
// the scheduler stops placing new pods into the namespace until the mark
// is cleared. Existing pods are untouched; their deployments are drained
// through the ordinary deletion path.
func (s *Server) markNamespaceTerminating(c *gin.Context) {
	name := c.Param("name")
	s.store.MarkNamespaceTerminating(name)
	c.JSON(http.StatusOK, gin.H{"namespace": name, "terminating": true})
}

func (s *Server) clearNamespaceTerminating(c *gin.Context) {
	name := c.Param("name")
	s.store.ClearNamespaceTerminating(name)
	c.JSON(http.StatusOK, gin.H{"namespace": name, "terminating": false})
}

func writeError(c *gin.Context, err error) {
	appErr, ok := apierrors.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(appErr.StatusCode, gin.H{"code": appErr.Code, "message": appErr.Message, "details": appErr.Details})
}
