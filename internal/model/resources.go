// Package model defines the orchestrator's core value types: nodes, packs,
// pods, deployments, sessions and the resource/capability vocabulary they
// share.
package model

import (
	"database/sql/driver"
	"encoding/json"

	"k8s.io/apimachinery/pkg/api/resource"
)

// ResourceList is a cpu/memory/storage/pods quantity set, expressed with
// the same Quantity arithmetic Kubernetes uses (millicores, binary bytes).
type ResourceList struct {
	CPU     resource.Quantity `json:"cpu"`
	Memory  resource.Quantity `json:"memory"`
	Storage resource.Quantity `json:"storage,omitempty"`
	Pods    int64             `json:"pods,omitempty"`
}

// Sub returns l - other. The pods count is clamped at zero; Quantity
// fields may go negative, which callers treat as "does not fit".
func (l ResourceList) Sub(other ResourceList) ResourceList {
	out := l.DeepCopy()
	out.CPU.Sub(other.CPU)
	out.Memory.Sub(other.Memory)
	out.Storage.Sub(other.Storage)
	out.Pods -= other.Pods
	if out.Pods < 0 {
		out.Pods = 0
	}
	return out
}

// Add returns l + other.
func (l ResourceList) Add(other ResourceList) ResourceList {
	out := l.DeepCopy()
	out.CPU.Add(other.CPU)
	out.Memory.Add(other.Memory)
	out.Storage.Add(other.Storage)
	out.Pods += other.Pods
	return out
}

// Fits reports whether request fits within l on every dimension.
func (l ResourceList) Fits(request ResourceList) bool {
	if l.CPU.Cmp(request.CPU) < 0 {
		return false
	}
	if l.Memory.Cmp(request.Memory) < 0 {
		return false
	}
	if l.Storage.Cmp(request.Storage) < 0 {
		return false
	}
	if request.Pods > 0 && l.Pods < request.Pods {
		return false
	}
	return true
}

// DeepCopy returns an independent copy (Quantity carries internal cached
// state that must not be shared across goroutines).
func (l ResourceList) DeepCopy() ResourceList {
	return ResourceList{
		CPU:     l.CPU.DeepCopy(),
		Memory:  l.Memory.DeepCopy(),
		Storage: l.Storage.DeepCopy(),
		Pods:    l.Pods,
	}
}

// Scan implements sql.Scanner for ResourceList's JSONB column representation.
func (l *ResourceList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer for ResourceList.
func (l ResourceList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Labels is an arbitrary string->string tag set, stored as JSONB.
type Labels map[string]string

func (l *Labels) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

func (l Labels) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Matches reports whether every key in selector is present in l with an
// equal value (used for node-selector filtering).
func (l Labels) Matches(selector Labels) bool {
	for k, v := range selector {
		if l[k] != v {
			return false
		}
	}
	return true
}

// TaintEffect controls how a taint repels pods that don't tolerate it.
type TaintEffect string

const (
	NoSchedule       TaintEffect = "NoSchedule"
	PreferNoSchedule TaintEffect = "PreferNoSchedule"
	NoExecute        TaintEffect = "NoExecute"
)

// Taint is a node-side repulsion marker.
type Taint struct {
	Key    string      `json:"key"`
	Value  string      `json:"value,omitempty"`
	Effect TaintEffect `json:"effect"`
}

// TolerationOperator determines how a toleration matches a taint's value.
type TolerationOperator string

const (
	TolerationEqual  TolerationOperator = "Equal"
	TolerationExists TolerationOperator = "Exists"
)

// Toleration is a pod-side antidote to a node taint.
type Toleration struct {
	Key      string             `json:"key"`
	Operator TolerationOperator `json:"operator"`
	Value    string             `json:"value,omitempty"`
	Effect   TaintEffect        `json:"effect"`
}

// Tolerates reports whether t cancels out taint.
func (t Toleration) Tolerates(taint Taint) bool {
	if t.Effect != "" && t.Effect != taint.Effect {
		return false
	}
	if t.Key != taint.Key {
		return false
	}
	switch t.Operator {
	case TolerationExists:
		return true
	case TolerationEqual, "":
		return t.Value == taint.Value
	default:
		return false
	}
}

// Taints is a node's taint set, stored as JSONB.
type Taints []Taint

func (t *Taints) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, t)
}

func (t Taints) Value() (driver.Value, error) {
	return json.Marshal([]Taint(t))
}

// TolerationList is a pod's toleration set, stored as JSONB.
type TolerationList []Toleration

func (t *TolerationList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, t)
}

func (t TolerationList) Value() (driver.Value, error) {
	return json.Marshal([]Toleration(t))
}

// TaintsTolerated reports whether every taint with effect NoSchedule or
// NoExecute in taints is tolerated by at least one toleration.
func TaintsTolerated(taints []Taint, tolerations []Toleration) bool {
	for _, taint := range taints {
		if taint.Effect != NoSchedule && taint.Effect != NoExecute {
			continue
		}
		tolerated := false
		for _, tol := range tolerations {
			if tol.Tolerates(taint) {
				tolerated = true
				break
			}
		}
		if !tolerated {
			return false
		}
	}
	return true
}

// PreferNoScheduleCount counts untolerated soft taints, used as a scoring
// penalty rather than a filter rejection.
func PreferNoScheduleCount(taints []Taint, tolerations []Toleration) int {
	count := 0
	for _, taint := range taints {
		if taint.Effect != PreferNoSchedule {
			continue
		}
		tolerated := false
		for _, tol := range tolerations {
			if tol.Tolerates(taint) {
				tolerated = true
				break
			}
		}
		if !tolerated {
			count++
		}
	}
	return count
}
