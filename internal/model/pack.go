package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Visibility controls who may run a pack.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Metadata is an arbitrary string-keyed JSON map, stored as JSONB.
type Metadata map[string]interface{}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(map[string]interface{}(m))
}

// Pack is a named, versioned, executable bundle.
type Pack struct {
	ID                string     `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Version           string     `json:"version" db:"version"`
	RuntimeTag        RuntimeTag `json:"runtimeTag" db:"runtime_tag"`
	OwnerID           string     `json:"ownerId" db:"owner_id"`
	Visibility        Visibility `json:"visibility" db:"visibility"`
	BundleRef         string     `json:"bundleRef" db:"bundle_ref"`
	Description       string     `json:"description,omitempty" db:"description"`
	MinRuntimeVersion string     `json:"minRuntimeVersion,omitempty" db:"min_runtime_version"`
	Metadata          Metadata   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time  `json:"updatedAt" db:"updated_at"`
}

// VisibleTo reports whether callerOwnerID may run this pack.
func (p *Pack) VisibleTo(callerOwnerID string, isAdmin bool) bool {
	if p.Visibility == VisibilityPublic {
		return true
	}
	return isAdmin || p.OwnerID == callerOwnerID
}
