package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// DeploymentStatus is the workload's administrative lifecycle state.
type DeploymentStatus string

const (
	DeploymentActive   DeploymentStatus = "active"
	DeploymentPaused   DeploymentStatus = "paused"
	DeploymentDeleting DeploymentStatus = "deleting"
)

// PodTemplate describes the pods a deployment creates.
type PodTemplate struct {
	Labels       Labels         `json:"labels,omitempty"`
	Annotations  Labels         `json:"annotations,omitempty"`
	Request      ResourceList   `json:"request"`
	Limit        ResourceList   `json:"limit"`
	Tolerations  TolerationList `json:"tolerations,omitempty"`
	NodeSelector Labels         `json:"nodeSelector,omitempty"`
}

// Scan implements sql.Scanner for PodTemplate's JSONB column representation.
func (t *PodTemplate) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, t)
}

// Value implements driver.Valuer for PodTemplate.
func (t PodTemplate) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// Deployment (aka Workload) is a declarative replica count + template for
// pods of a given pack version. An external API may expose this entity
// under both the "deployment" and "service" names; the core keeps one type.
type Deployment struct {
	ID                  string           `json:"id" db:"id"`
	Namespace           string           `json:"namespace" db:"namespace"`
	Name                string           `json:"name" db:"name"`
	PackName            string           `json:"packName" db:"pack_name"`
	PackVersion         string           `json:"packVersion" db:"pack_version"`
	FollowLatest        bool             `json:"followLatest" db:"follow_latest"`
	DesiredReplicas     int32            `json:"desiredReplicas" db:"desired_replicas"`
	Template            PodTemplate      `json:"template" db:"template"`
	PriorityClass       int32            `json:"priorityClass" db:"priority_class"`
	Status              DeploymentStatus `json:"status" db:"status"`
	ReadyReplicas       int32            `json:"readyReplicas" db:"ready_replicas"`
	AvailableReplicas   int32            `json:"availableReplicas" db:"available_replicas"`
	UpdatedReplicas     int32            `json:"updatedReplicas" db:"updated_replicas"`
	LastSuccessfulVer   string           `json:"lastSuccessfulVersion,omitempty" db:"last_successful_version"`
	FailedVersion       string           `json:"failedVersion,omitempty" db:"failed_version"`
	ConsecutiveFailures int32            `json:"consecutiveFailures" db:"consecutive_failures"`
	FailureBackoffUntil *time.Time       `json:"failureBackoffUntil,omitempty" db:"failure_backoff_until"`
	CreatedAt           time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time        `json:"updatedAt" db:"updated_at"`
}

// DaemonMode reports whether this deployment runs one pod per matching node
// rather than a fixed replica count.
func (d *Deployment) DaemonMode() bool {
	return d.DesiredReplicas == 0
}

// InBackoff reports whether new rollouts of the failed version are currently
// paused.
func (d *Deployment) InBackoff(now time.Time) bool {
	return d.FailureBackoffUntil != nil && now.Before(*d.FailureBackoffUntil)
}
