package model

import "time"

// RuntimeTag distinguishes the class of workload a node or pack can run.
type RuntimeTag string

const (
	RuntimeServer    RuntimeTag = "server"
	RuntimeBrowser   RuntimeTag = "browser"
	RuntimeUniversal RuntimeTag = "universal"
)

// Compatible reports whether a node's runtime tag can host a pack declaring
// packRuntime.
func (nodeRuntime RuntimeTag) Compatible(packRuntime RuntimeTag) bool {
	if packRuntime == RuntimeUniversal {
		return true
	}
	return nodeRuntime == packRuntime
}

// NodeStatus is the node's position in the health lease state machine.
type NodeStatus string

const (
	NodeOnline   NodeStatus = "online"
	NodeSuspect  NodeStatus = "suspect"
	NodeOffline  NodeStatus = "offline"
	NodeDraining NodeStatus = "draining"
)

// Node is a registered runtime agent capable of hosting pods.
type Node struct {
	ID             string       `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	RuntimeTag     RuntimeTag   `json:"runtimeTag" db:"runtime_tag"`
	Allocatable    ResourceList `json:"allocatable" db:"allocatable"`
	Allocated      ResourceList `json:"allocated" db:"allocated"`
	Labels         Labels       `json:"labels" db:"labels"`
	Taints         Taints       `json:"taints" db:"taints"`
	Unschedulable  bool         `json:"unschedulable" db:"unschedulable"`
	Status         NodeStatus   `json:"status" db:"status"`
	SuspectSince   *time.Time   `json:"suspectSince,omitempty" db:"suspect_since"`
	LastHeartbeat  time.Time    `json:"lastHeartbeat" db:"last_heartbeat"`
	SessionID      string       `json:"sessionId,omitempty" db:"session_id"`
	OwnerID        string       `json:"ownerId" db:"owner_id"`
	RuntimeVersion string       `json:"runtimeVersion,omitempty" db:"runtime_version"`
	APIKeyHash     string       `json:"-" db:"api_key_hash"`
	CreatedAt      time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time    `json:"updatedAt" db:"updated_at"`
}

// Available returns the node's remaining capacity (allocatable - allocated).
func (n *Node) Available() ResourceList {
	return n.Allocatable.Sub(n.Allocated)
}

// Schedulable reports whether the node can currently accept new pods:
// online, not cordoned, not draining.
func (n *Node) Schedulable() bool {
	return n.Status == NodeOnline && !n.Unschedulable
}

// EffectiveTaints returns the node's taints for filter/score purposes;
// extracted as its own method so the scheduler never reaches into the
// struct directly (keeps placement logic decoupled from storage shape).
func (n *Node) EffectiveTaints() []Taint {
	return n.Taints
}
