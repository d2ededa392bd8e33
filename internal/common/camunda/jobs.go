package camunda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/validation"
)

// DecodeVariables checks the job variables against schema, when one is
// given, and decodes them into out. Both failures are INPUT_INVALID.
func DecodeVariables(job entities.Job, schema *validation.Schema, out interface{}) error {
	raw := []byte(job.Variables)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if schema != nil {
		if res := schema.ValidateJSON(raw); !res.Valid {
			return errors.NewInputError(res.Error())
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewInputError(fmt.Sprintf("parse variables: %v", err))
	}
	return nil
}

// CompleteJob completes job with output as its variables.
func CompleteJob(client worker.JobClient, job entities.Job, output interface{}, log logger.Logger) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		log.Error("failed to create complete job command", map[string]interface{}{"error": err, "jobKey": job.Key})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		log.Error("failed to send complete job command", map[string]interface{}{"error": err, "jobKey": job.Key})
	}
}
