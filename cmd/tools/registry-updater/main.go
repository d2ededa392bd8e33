// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/pkg/registry"

	chatcontinue "legal-rag-workers/internal/workers/legal-conversation/chat-continue"
	chatdelete "legal-rag-workers/internal/workers/legal-conversation/chat-delete"
	chathistory "legal-rag-workers/internal/workers/legal-conversation/chat-history"
	chatstart "legal-rag-workers/internal/workers/legal-conversation/chat-start"
	legalquery "legal-rag-workers/internal/workers/legal-research/legal-query"
)

// servedTaskTypes are the task types the worker manager opens workers for.
var servedTaskTypes = []string{
	legalquery.TaskType,
	chatstart.TaskType,
	chatcontinue.TaskType,
	chathistory.TaskType,
	chatdelete.TaskType,
}

func main() {
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)

	updatePath := updateCmd.String("path", "configs/activity-registry.json", "Path to registry file")
	idUpdate := updateCmd.String("id", "", "Activity ID to update")
	field := updateCmd.String("field", "", "Field to update (status, version, timeout, retries, description)")
	value := updateCmd.String("value", "", "New value for the field")

	validatePath := validateCmd.String("path", "configs/activity-registry.json", "Path to registry file")

	checkPath := checkCmd.String("path", "configs/activity-registry.json", "Path to registry file")
	checkTask := checkCmd.String("taskType", "", "Task type whose input schema to check against")
	checkFile := checkCmd.String("vars", "", "JSON file holding the job variables")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "update":
		updateCmd.Parse(os.Args[2:])
		if *idUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: id, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err = updateActivity(*updatePath, *idUpdate, *field, *value); err == nil {
			fmt.Printf("Updated activity %s, field %s to %s\n", *idUpdate, *field, *value)
		}

	case "validate":
		validateCmd.Parse(os.Args[2:])
		var reg *registry.ActivityRegistry
		if reg, err = registry.LoadRegistry(*validatePath); err == nil {
			if err = validateRegistry(reg, servedTaskTypes); err == nil {
				fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
			}
		}

	case "check":
		checkCmd.Parse(os.Args[2:])
		if *checkTask == "" || *checkFile == "" {
			fmt.Println("Error: taskType and vars are required for check.")
			checkCmd.Usage()
			os.Exit(1)
		}
		var problems []string
		if problems, err = checkVariables(*checkPath, *checkTask, *checkFile); err == nil {
			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Println("  " + p)
				}
				err = fmt.Errorf("%d schema violations", len(problems))
			} else {
				fmt.Println("Variables match the input schema.")
			}
		}

	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func updateActivity(path, id, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	a := findByID(reg, id)
	if a == nil {
		return fmt.Errorf("activity with ID %s not found", id)
	}
	switch field {
	case "status":
		status := registry.Status(value)
		if !status.Valid() {
			return fmt.Errorf("invalid status value: %s", value)
		}
		a.Status = status
	case "version":
		a.Version = value
	case "description":
		a.Description = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		a.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		a.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return saveRegistry(reg, path)
}

func findByID(reg *registry.ActivityRegistry, id string) *registry.Activity {
	for i := range reg.Activities {
		if reg.Activities[i].ID == id {
			return &reg.Activities[i]
		}
	}
	return nil
}

// validateRegistry checks required fields, compiles every schema and
// verifies each served task type has a complete activity.
func validateRegistry(reg *registry.ActivityRegistry, served []string) error {
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	for _, a := range reg.Activities {
		if a.ID == "" {
			return fmt.Errorf("activity missing required field: ID")
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate activity ID: %s", a.ID)
		}
		ids[a.ID] = true
		if a.DisplayName == "" {
			return fmt.Errorf("activity %s missing required field: DisplayName", a.ID)
		}
		if _, err := a.JobTimeout(); err != nil {
			return err
		}
		for _, schema := range []registry.JSONSchema{a.InputSchema, a.OutputSchema} {
			if undeclared := schema.Undeclared(); len(undeclared) > 0 {
				return fmt.Errorf("activity %s requires undeclared properties %v", a.ID, undeclared)
			}
		}
	}

	schemas, err := reg.Validators()
	if err != nil {
		return err
	}

	var missing []string
	for _, taskType := range served {
		a, ok := reg.Find(taskType)
		if !ok {
			missing = append(missing, taskType)
			continue
		}
		if schemas[taskType] == nil {
			missing = append(missing, taskType+" (no input schema)")
		}
		out, err := a.OutputValidator()
		if err != nil {
			return err
		}
		if out == nil {
			missing = append(missing, taskType+" (no output schema)")
		}
		if !a.Declares(apperrors.ErrCodeInputInvalid) {
			missing = append(missing, taskType+" (INPUT_INVALID not declared)")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("served task types missing or incomplete in registry: %v", missing)
	}
	return nil
}

// checkVariables validates a job variables document against the input
// schema of taskType and returns the violations.
func checkVariables(path, taskType, varsFile string) ([]string, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	a, ok := reg.Find(taskType)
	if !ok {
		return nil, fmt.Errorf("unknown task type %s", taskType)
	}
	schema, err := a.InputValidator()
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, fmt.Errorf("task type %s has no input schema", taskType)
	}

	raw, err := os.ReadFile(varsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables: %w", err)
	}
	res := schema.ValidateJSON(raw)
	if res.Valid {
		return nil, nil
	}
	return res.GetErrorMessages(), nil
}

func saveRegistry(reg *registry.ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func help() {
	fmt.Println(`
Usage: registry-updater <command> [flags]

Commands:
  update    Update an existing activity's field
  validate  Validate the registry and compile its input schemas
  check     Check a job variables file against an activity's input schema
  help      Show this help message

Examples:
  registry-updater update -id legal-query -field timeout -value 90s
  registry-updater validate -path configs/activity-registry.json
  registry-updater check -taskType legal-chat-continue -vars vars.json`)
}
