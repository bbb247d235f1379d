package cache

import "fmt"

// RoutingCounterKey is the per-deployment rolling counter the routing
// arbiter increments to pick the next pod in round-robin order. Kept in
// Redis so multiple control-plane replicas agree on rotation even though
// each only holds part of the in-memory store.
func RoutingCounterKey(deploymentID string) string {
	return fmt.Sprintf("routing:counter:%s", deploymentID)
}
