package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/auth"
	"github.com/streamspace-labs/orchestrator/internal/model"
	"github.com/streamspace-labs/orchestrator/internal/session"
	"github.com/streamspace-labs/orchestrator/internal/store"
	"github.com/streamspace-labs/orchestrator/internal/wire"
)

type fakeAdminStore struct {
	stats         store.ClusterStats
	unschedulable map[string]bool
	setErr        error
	podsByNode    map[string][]*model.Pod
	terminatingNS map[string]bool
}

func (f *fakeAdminStore) ClusterStats() store.ClusterStats { return f.stats }

func (f *fakeAdminStore) SetUnschedulable(ctx context.Context, nodeID string, unschedulable bool) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.unschedulable == nil {
		f.unschedulable = map[string]bool{}
	}
	f.unschedulable[nodeID] = unschedulable
	return nil
}

func (f *fakeAdminStore) PodsByNode(nodeID string) []*model.Pod { return f.podsByNode[nodeID] }

func (f *fakeAdminStore) MarkNamespaceTerminating(namespace string) {
	if f.terminatingNS == nil {
		f.terminatingNS = map[string]bool{}
	}
	f.terminatingNS[namespace] = true
}

func (f *fakeAdminStore) ClearNamespaceTerminating(namespace string) {
	delete(f.terminatingNS, namespace)
}

type fakeTerminator struct {
	terminated []string
}

func (f *fakeTerminator) TerminatePod(nodeID string, payload wire.PodTerminatePayload) bool {
	f.terminated = append(f.terminated, payload.PodID)
	return true
}

type fakeSessionNodes struct{}

func (fakeSessionNodes) CreateNode(ctx context.Context, n *model.Node) error { return nil }
func (fakeSessionNodes) GetNode(id string) (*model.Node, error)             { return nil, apierrors.NewNotFound("node", id) }
func (fakeSessionNodes) UpdateHeartbeat(ctx context.Context, nodeID string, allocated *model.ResourceList) error {
	return nil
}

type fakeSessionPods struct{}

func (fakeSessionPods) GetPod(id string) (*model.Pod, error) { return nil, apierrors.NewNotFound("pod", id) }
func (fakeSessionPods) AdvancePodStatus(ctx context.Context, podID string, next model.PodStatus, reason string, restartCount int32) error {
	return nil
}

type fakeSessionAuth struct{}

func (fakeSessionAuth) AuthenticateNode(ctx context.Context, r *http.Request, nodeName string) (string, bool, error) {
	return "owner", false, nil
}
func (fakeSessionAuth) AuthenticatePod(ctx context.Context, r *http.Request, podID string) error {
	return nil
}
func (fakeSessionAuth) MintNodeAPIKey(ctx context.Context, nodeID string) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T, st *fakeAdminStore, terminator PodTerminator, jwt *auth.JWTManager) (*httptest.Server, *fakeTerminator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	hub := session.NewHub()
	go hub.Run()
	sessions := session.NewHandler(hub, fakeSessionNodes{}, fakeSessionPods{}, fakeSessionAuth{}, nil)

	var term *fakeTerminator
	if terminator == nil {
		term = &fakeTerminator{}
		terminator = term
	}

	srv := NewServer(sqlDB, st, terminator, sessions, jwt)
	router := gin.New()
	srv.RegisterRoutes(router)

	httpSrv := httptest.NewServer(router)
	t.Cleanup(httpSrv.Close)
	return httpSrv, term
}

func TestHealthzAlwaysOK(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdminStore{}, nil, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestClusterStatsReturnsStoreSnapshot(t *testing.T) {
	st := &fakeAdminStore{stats: store.ClusterStats{TotalNodes: 3, OnlineNodes: 2}}
	srv, _ := newTestServer(t, st, nil, nil)

	resp, err := http.Get(srv.URL + "/v1/cluster/stats")
	if err != nil {
		t.Fatalf("GET /v1/cluster/stats: %v", err)
	}
	defer resp.Body.Close()

	var got store.ClusterStats
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalNodes != 3 || got.OnlineNodes != 2 {
		t.Errorf("got = %+v, want TotalNodes=3 OnlineNodes=2", got)
	}
}

func TestCordonNodeIsOpenWithoutJWTManager(t *testing.T) {
	st := &fakeAdminStore{}
	srv, _ := newTestServer(t, st, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/nodes/n1/cordon", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cordon: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no JWT manager is configured", resp.StatusCode)
	}
	if !st.unschedulable["n1"] {
		t.Error("expected node n1 to be marked unschedulable")
	}
}

func TestCordonNodeRequiresBearerTokenWhenJWTConfigured(t *testing.T) {
	jwt := auth.NewJWTManager(auth.JWTConfig{SecretKey: "secret", TokenDuration: time.Hour})
	st := &fakeAdminStore{}
	srv, _ := newTestServer(t, st, nil, jwt)

	resp, err := http.Post(srv.URL+"/v1/nodes/n1/cordon", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cordon: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a bearer token", resp.StatusCode)
	}
}

func TestCordonNodeRejectsNonOperatorRole(t *testing.T) {
	jwt := auth.NewJWTManager(auth.JWTConfig{SecretKey: "secret", TokenDuration: time.Hour})
	token, err := jwt.GenerateToken("user-1", "viewer")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	st := &fakeAdminStore{}
	srv, _ := newTestServer(t, st, nil, jwt)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/nodes/n1/cordon", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST cordon: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a viewer role", resp.StatusCode)
	}
}

func TestCordonNodeAcceptsOperatorToken(t *testing.T) {
	jwt := auth.NewJWTManager(auth.JWTConfig{SecretKey: "secret", TokenDuration: time.Hour})
	token, err := jwt.GenerateToken("user-1", "operator")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	st := &fakeAdminStore{}
	srv, _ := newTestServer(t, st, nil, jwt)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/nodes/n1/cordon", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST cordon: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 for an operator token", resp.StatusCode)
	}
}

func TestDrainNodeCordonsAndTerminatesNonTerminalPods(t *testing.T) {
	st := &fakeAdminStore{
		podsByNode: map[string][]*model.Pod{
			"n1": {
				{ID: "p1", Status: model.PodRunning},
				{ID: "p2", Status: model.PodStopped},
			},
		},
	}
	srv, term := newTestServer(t, st, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/nodes/n1/drain", "application/json", nil)
	if err != nil {
		t.Fatalf("POST drain: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !st.unschedulable["n1"] {
		t.Error("expected drain to cordon the node")
	}
	if len(term.terminated) != 1 || term.terminated[0] != "p1" {
		t.Errorf("terminated = %v, want only the non-terminal pod p1", term.terminated)
	}
}

func TestSetUnschedulableWritesStoreErrorResponse(t *testing.T) {
	st := &fakeAdminStore{setErr: apierrors.NewNotFound("node", "missing")}
	srv, _ := newTestServer(t, st, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/nodes/missing/cordon", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cordon: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a not-found node", resp.StatusCode)
	}
}

func TestNamespaceTerminatingMarkAndClear(t *testing.T) {
	st := &fakeAdminStore{}
	srv, _ := newTestServer(t, st, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/namespaces/doomed/terminating", "application/json", nil)
	if err != nil {
		t.Fatalf("POST terminating: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !st.terminatingNS["doomed"] {
		t.Error("expected the namespace to be marked terminating")
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/namespaces/doomed/terminating", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE terminating: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if st.terminatingNS["doomed"] {
		t.Error("expected the terminating mark to be cleared")
	}
}
