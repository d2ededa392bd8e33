// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"legal-rag-workers/internal/common/validation"
)

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse activity registry: %w", err)
	}
	seen := make(map[string]bool, len(reg.Activities))
	for _, a := range reg.Activities {
		if a.TaskType == "" {
			return nil, fmt.Errorf("activity %q has no taskType", a.ID)
		}
		if seen[a.TaskType] {
			return nil, fmt.Errorf("duplicate taskType %q", a.TaskType)
		}
		if a.Status != "" && !a.Status.Valid() {
			return nil, fmt.Errorf("activity %q has unknown implementationStatus %q", a.ID, a.Status)
		}
		seen[a.TaskType] = true
	}
	return &reg, nil
}

// Find returns the activity registered for taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// InputValidator compiles the activity's input schema. An activity without
// one gets a nil validator, which accepts everything.
func (a *Activity) InputValidator() (*validation.Schema, error) {
	if a == nil {
		return nil, nil
	}
	s, err := a.InputSchema.Compile()
	if err != nil {
		return nil, fmt.Errorf("%s input schema: %w", a.TaskType, err)
	}
	return s, nil
}

// OutputValidator compiles the schema the activity's completion variables
// must satisfy.
func (a *Activity) OutputValidator() (*validation.Schema, error) {
	if a == nil {
		return nil, nil
	}
	s, err := a.OutputSchema.Compile()
	if err != nil {
		return nil, fmt.Errorf("%s output schema: %w", a.TaskType, err)
	}
	return s, nil
}

// Validators compiles the input schema of every activity, keyed by task type.
func (r *ActivityRegistry) Validators() (map[string]*validation.Schema, error) {
	out := make(map[string]*validation.Schema, len(r.Activities))
	for i := range r.Activities {
		s, err := r.Activities[i].InputValidator()
		if err != nil {
			return nil, err
		}
		if s != nil {
			out[r.Activities[i].TaskType] = s
		}
	}
	return out, nil
}
