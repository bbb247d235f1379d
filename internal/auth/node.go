package auth

import (
	"context"
	"net/http"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

// NodeStore is the subset of internal/store.Store node auth needs.
type NodeStore interface {
	GetNodeByName(name string) (*model.Node, error)
	SetAPIKeyHash(ctx context.Context, nodeID, hash string) error
}

// NodeAuthenticator implements internal/session.Authenticator's node half:
// a node with no prior record self-registers with the bootstrap
// key, everything else reconnects with its minted API key or an mTLS
// client certificate whose CN equals the node's name.
type NodeAuthenticator struct {
	store        NodeStore
	bootstrapKey string
}

// NewNodeAuthenticator builds a NodeAuthenticator. bootstrapKey may be
// empty, in which case no node can ever complete first-time registration
// (a deliberately locked-down default for clusters that provision nodes
// out of band).
func NewNodeAuthenticator(store NodeStore, bootstrapKey string) *NodeAuthenticator {
	return &NodeAuthenticator{store: store, bootstrapKey: bootstrapKey}
}

// AuthenticateNode resolves the connecting node's identity.
func (a *NodeAuthenticator) AuthenticateNode(ctx context.Context, r *http.Request, nodeName string) (string, bool, error) {
	existing, err := a.store.GetNodeByName(nodeName)
	if err != nil {
		appErr, ok := apierrors.As(err)
		if !ok || appErr.Code != apierrors.CodeNotFound {
			return "", false, err
		}
		return a.authenticateBootstrap(r)
	}

	if cn := peerCertCommonName(r); cn != "" {
		if cn != existing.Name {
			return "", false, apierrors.NewForbidden("client certificate does not match node identity")
		}
		return existing.OwnerID, false, nil
	}

	key := r.Header.Get("X-Agent-API-Key")
	if key == "" {
		return "", false, apierrors.NewForbidden("missing node credential")
	}
	if existing.APIKeyHash == "" {
		return "", false, apierrors.NewForbidden("node has no api key configured")
	}
	if err := ValidateAPIKeyFormat(key); err != nil {
		return "", false, apierrors.NewForbidden(err.Error())
	}
	if !CompareAPIKey(key, existing.APIKeyHash) {
		return "", false, apierrors.NewForbidden("invalid node api key")
	}
	return existing.OwnerID, false, nil
}

// authenticateBootstrap admits a never-before-seen node name against the
// cluster-wide bootstrap key, the only credential a node can present
// before it has one of its own.
func (a *NodeAuthenticator) authenticateBootstrap(r *http.Request) (string, bool, error) {
	if a.bootstrapKey == "" {
		return "", false, apierrors.NewForbidden("node not registered and bootstrap auth is disabled")
	}
	key := r.Header.Get("X-Agent-API-Key")
	if key == "" || key != a.bootstrapKey {
		return "", false, apierrors.NewForbidden("node not registered; valid bootstrap key required")
	}
	ownerID := r.Header.Get("X-Owner-Id")
	if ownerID == "" {
		ownerID = "default"
	}
	return ownerID, true, nil
}

// MintNodeAPIKey generates a fresh API key for a just-bootstrapped node and
// persists its bcrypt hash, returning the plaintext key exactly once.
func (a *NodeAuthenticator) MintNodeAPIKey(ctx context.Context, nodeID string) (string, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		return "", err
	}
	if err := a.store.SetAPIKeyHash(ctx, nodeID, hash); err != nil {
		return "", err
	}
	return key, nil
}

func peerCertCommonName(r *http.Request) string {
	if r == nil || r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return r.TLS.PeerCertificates[0].Subject.CommonName
}
