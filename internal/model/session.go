package model

import "time"

// PrincipalKind distinguishes what kind of caller a session authenticates.
type PrincipalKind string

const (
	PrincipalAgent      PrincipalKind = "agent"
	PrincipalPodRuntime PrincipalKind = "pod-runtime"
)

// Session is a live, non-persisted agent or pod-runtime connection.
type Session struct {
	ID            string        `json:"id"`
	PrincipalID   string        `json:"principalId"`
	PrincipalKind PrincipalKind `json:"principalKind"`
	NodeIDs       []string      `json:"nodeIds,omitempty"`
	PodID         string        `json:"podId,omitempty"`
	Capabilities  Labels        `json:"capabilities,omitempty"`
	ConnectedAt   time.Time     `json:"connectedAt"`
}

// OwnsNode reports whether this session may operate on nodeID.
func (s Session) OwnsNode(nodeID string) bool {
	for _, id := range s.NodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// OwnsPod reports whether this session may operate on podID (pod-runtime
// sessions are bound to exactly one pod for their lifetime).
func (s Session) OwnsPod(podID string) bool {
	return s.PrincipalKind == PrincipalPodRuntime && s.PodID == podID
}

// RoutingCacheEntry is held by the calling agent, not the server; included
// here only as the shared vocabulary the routing arbiter's responses feed.
type RoutingCacheEntry struct {
	TargetServiceID string    `json:"targetServiceId"`
	PodID           string    `json:"podId"`
	NodeID          string    `json:"nodeId"`
	CachedAt        time.Time     `json:"cachedAt"`
	TTL             time.Duration `json:"ttl"`
	Healthy         bool          `json:"healthy"`
}

func (e *RoutingCacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CachedAt) > e.TTL
}
