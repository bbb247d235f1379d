// Package auth implements the control plane's two credential surfaces:
// node registration (bootstrap key, minted API key, or mTLS identity) and
// pod-runtime session tokens minted at bind time, plus the JWT issuer used
// by the admin HTTP surface's own operator sessions.
package auth

// Credentials composes NodeAuthenticator and PodTokenIssuer into the single
// value internal/session.Handler wants for its Authenticator dependency.
// Neither half implements all three methods on its own.
type Credentials struct {
	*NodeAuthenticator
	*PodTokenIssuer
}

// NewCredentials wires the node and pod credential stores together.
func NewCredentials(nodes *NodeAuthenticator, pods *PodTokenIssuer) *Credentials {
	return &Credentials{NodeAuthenticator: nodes, PodTokenIssuer: pods}
}
