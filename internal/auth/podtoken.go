package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
)

const podTokenTTL = 10 * time.Minute

// PodTokenIssuer mints and verifies the short-lived tokens a pod-runtime
// session presents on connect. Unlike node API keys these are validated on
// every pod-runtime connect rather than once at bootstrap, so verification
// uses a fast SHA256 digest lookup rather than bcrypt. Tokens are minted
// in-process at pod:assign time and are not durable: a control-plane
// restart invalidates any outstanding token, which only delays a
// pod-runtime reconnect until the next assignment.
type PodTokenIssuer struct {
	mu     sync.Mutex
	tokens map[string]podToken // sha256 digest (base64url) -> claim
}

type podToken struct {
	podID   string
	expires time.Time
}

func NewPodTokenIssuer() *PodTokenIssuer {
	return &PodTokenIssuer{tokens: make(map[string]podToken)}
}

// Issue mints a fresh token bound to podID, replacing any token previously
// issued for that pod.
func (i *PodTokenIssuer) Issue(podID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate pod token: %w", err)
	}
	plaintext := base64.URLEncoding.EncodeToString(raw)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.tokens[digest(plaintext)] = podToken{podID: podID, expires: time.Now().Add(podTokenTTL)}
	return plaintext, nil
}

// AuthenticatePod implements internal/session.Authenticator's pod half: the
// presented token must exist, be unexpired, and be bound to podID.
func (i *PodTokenIssuer) AuthenticatePod(ctx context.Context, r *http.Request, podID string) error {
	token := r.Header.Get("X-Pod-Token")
	if token == "" {
		token = r.URL.Query().Get("podToken")
	}
	if token == "" {
		return apierrors.NewForbidden("missing pod token")
	}

	i.mu.Lock()
	claim, ok := i.tokens[digest(token)]
	i.mu.Unlock()
	if !ok {
		return apierrors.NewForbidden("invalid pod token")
	}
	if time.Now().After(claim.expires) {
		return apierrors.NewForbidden("expired pod token")
	}
	if subtle.ConstantTimeCompare([]byte(claim.podID), []byte(podID)) != 1 {
		return apierrors.NewForbidden("pod token does not match this pod")
	}
	return nil
}

func digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return base64.URLEncoding.EncodeToString(sum[:])
}
