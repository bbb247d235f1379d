package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func requestWithPodToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		r.Header.Set("X-Pod-Token", token)
	}
	return r
}

func TestPodTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewPodTokenIssuer()
	token, err := issuer.Issue("pod-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := issuer.AuthenticatePod(nil, requestWithPodToken(token), "pod-1"); err != nil {
		t.Errorf("expected matching pod token to authenticate, got %v", err)
	}
}

func TestPodTokenIssuerRejectsWrongPod(t *testing.T) {
	issuer := NewPodTokenIssuer()
	token, err := issuer.Issue("pod-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := issuer.AuthenticatePod(nil, requestWithPodToken(token), "pod-2"); err == nil {
		t.Error("expected a token minted for pod-1 to be rejected for pod-2")
	}
}

func TestPodTokenIssuerRejectsMissingOrUnknownToken(t *testing.T) {
	issuer := NewPodTokenIssuer()

	if err := issuer.AuthenticatePod(nil, requestWithPodToken(""), "pod-1"); err == nil {
		t.Error("expected missing token to be rejected")
	}
	if err := issuer.AuthenticatePod(nil, requestWithPodToken("not-a-real-token"), "pod-1"); err == nil {
		t.Error("expected an unknown token to be rejected")
	}
}
