// pkg/registry/schema.go
package registry

import (
	"fmt"
	"sort"
	"time"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/validation"
)

// Status is how far an activity's worker is rolled out.
type Status string

const (
	StatusImplemented Status = "implemented"
	StatusPlanned     Status = "planned"
	StatusDeprecated  Status = "deprecated"
)

func (s Status) Valid() bool {
	switch s {
	case StatusImplemented, StatusPlanned, StatusDeprecated:
		return true
	}
	return false
}

type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

// Activity is the contract of one job type: the variables it accepts, the
// variables it completes with and the BPMN error codes it may throw.
type Activity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Version     string `json:"version"`
	TaskType    string `json:"taskType"`
	Status      Status `json:"implementationStatus"`

	InputSchema  JSONSchema            `json:"inputSchema"`
	OutputSchema JSONSchema            `json:"outputSchema"`
	ErrorCodes   []apperrors.ErrorCode `json:"errorCodes"`
	Timeout      string                `json:"timeout"`
	Retries      int                   `json:"retries"`
	Tags         []string              `json:"tags"`
}

// JobTimeout parses Timeout. An activity without one reports zero.
func (a *Activity) JobTimeout() (time.Duration, error) {
	if a.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("activity %s has invalid timeout %q", a.ID, a.Timeout)
	}
	if d <= 0 {
		return 0, fmt.Errorf("activity %s has non-positive timeout %q", a.ID, a.Timeout)
	}
	return d, nil
}

// Declares reports whether code is one of the activity's error codes.
func (a *Activity) Declares(code apperrors.ErrorCode) bool {
	for _, c := range a.ErrorCodes {
		if c == code {
			return true
		}
	}
	return false
}

// JSONSchema is a JSON Schema document kept in decoded form so the registry
// file round-trips unchanged.
type JSONSchema map[string]interface{}

// Required lists the top-level required properties in declaration order.
func (s JSONSchema) Required() []string {
	raw, _ := s["required"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if name, ok := r.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// Properties lists the top-level property names, sorted.
func (s JSONSchema) Properties() []string {
	props, _ := s["properties"].(map[string]interface{})
	out := make([]string, 0, len(props))
	for name := range props {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Undeclared returns the required properties that have no entry under
// properties.
func (s JSONSchema) Undeclared() []string {
	props, _ := s["properties"].(map[string]interface{})
	var out []string
	for _, name := range s.Required() {
		if _, ok := props[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Compile returns nil for an empty schema.
func (s JSONSchema) Compile() (*validation.Schema, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return validation.CompileSchema(map[string]interface{}(s))
}
