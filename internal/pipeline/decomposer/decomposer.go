// Package decomposer splits a legal question into independently answerable
// sub-questions.
package decomposer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/retry"
	"legal-rag-workers/internal/common/validation"
	"legal-rag-workers/internal/models"
	"legal-rag-workers/internal/pipeline/llm"
	"legal-rag-workers/internal/pipeline/query"
)

// Name identifies decomposition calls in logs, errors and test doubles.
const Name = "decomposition"

var promptTemplate = template.Must(template.New(Name).Parse(`You are a legal research assistant. Break the legal query below into between {{.Min}} and {{.Max}} simpler sub-questions that together address it and can each be answered independently.

Instructions:
- Do not answer any question, only decompose the query.
- Phrase each sub-question so that it retrieves specific statutes, cases or citations.
- Cover statutory provisions, relevant case law, jurisdiction, the elements of each legal concept and procedure where they apply.
- Every sub-question must be self-contained and distinct from the others.
{{- if .Context}}

The user is continuing a conversation. Use it to resolve references in the query.
{{.Context}}
{{- end}}

Query: {{.Question}}

Respond with JSON of the form {"questions": ["...", "..."]}.`))

type Options struct {
	Model        string
	MinQuestions int
	MaxQuestions int
	MaxTokens    int
	Temperature  float64
	Retry        retry.Policy
}

// Result is an ordered decomposition. Fallback marks the single-question
// decomposition used when the model never produced a valid one.
type Result struct {
	Questions []string `json:"questions"`
	Fallback  bool     `json:"fallback"`
}

type Decomposer struct {
	completer      llm.Completer
	opts           Options
	schema         *validation.Schema
	responseSchema json.RawMessage
	logger         logger.Logger
}

func New(completer llm.Completer, opts Options, log logger.Logger) *Decomposer {
	if opts.MinQuestions <= 0 {
		opts.MinQuestions = 4
	}
	if opts.MaxQuestions < opts.MinQuestions {
		opts.MaxQuestions = opts.MinQuestions
	}
	if opts.Retry.Name == "" {
		opts.Retry = retry.DefaultPolicy(Name)
	}

	def := map[string]interface{}{
		"type":     "object",
		"required": []string{"questions"},
		"properties": map[string]interface{}{
			"questions": map[string]interface{}{
				"type":     "array",
				"minItems": opts.MinQuestions,
				"maxItems": opts.MaxQuestions,
				"items":    map[string]interface{}{"type": "string", "minLength": 1},
			},
		},
	}
	raw, _ := json.Marshal(def)

	return &Decomposer{
		completer:      completer,
		opts:           opts,
		schema:         validation.MustCompileSchema(def),
		responseSchema: raw,
		logger:         log.WithFields(map[string]interface{}{"component": "decomposer"}),
	}
}

// Decompose asks the model for sub-questions. Output that stays malformed
// through every attempt degrades to the original question alone; an
// unavailable model is returned as an error.
func (d *Decomposer) Decompose(ctx context.Context, q models.Question) (Result, error) {
	prompt, err := llm.Render(promptTemplate, map[string]interface{}{
		"Question": q.Normalized,
		"Context":  q.Context,
		"Min":      d.opts.MinQuestions,
		"Max":      d.opts.MaxQuestions,
	})
	if err != nil {
		return Result{}, err
	}

	questions, err := llm.Call(ctx, d.completer, d.opts.Retry, llm.Request{
		Name:        Name,
		Prompt:      prompt,
		Schema:      d.responseSchema,
		Model:       d.opts.Model,
		MaxTokens:   d.opts.MaxTokens,
		Temperature: d.opts.Temperature,
	}, d.parse)
	if err == nil {
		return Result{Questions: questions}, nil
	}

	if apperrors.IsMalformed(err) {
		d.logger.Warn("decomposition fallback to original question", map[string]interface{}{
			"fingerprint": q.Fingerprint,
			"error":       err.Error(),
		})
		return Result{Questions: []string{q.Normalized}, Fallback: true}, nil
	}
	return Result{}, err
}

func (d *Decomposer) parse(resp *llm.Response) ([]string, error) {
	raw := resp.Structured
	if len(raw) == 0 {
		var ok bool
		if raw, ok = llm.ExtractJSON(resp.Text); !ok {
			return nil, apperrors.NewMalformedOutputError(Name, "response is not JSON")
		}
	}
	if res := d.schema.ValidateJSON(raw); !res.Valid {
		return nil, apperrors.NewMalformedOutputError(Name, res.Error())
	}

	var out struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.NewMalformedOutputError(Name, err.Error())
	}

	seen := make(map[string]int, len(out.Questions))
	questions := make([]string, 0, len(out.Questions))
	for i, q := range out.Questions {
		q = query.Normalize(q)
		if q == "" {
			return nil, apperrors.NewMalformedOutputError(Name, fmt.Sprintf("sub-question %d is empty", i))
		}
		key := strings.ToLower(q)
		if j, dup := seen[key]; dup {
			return nil, apperrors.NewMalformedOutputError(Name, fmt.Sprintf("sub-question %d duplicates %d", i, j))
		}
		seen[key] = i
		questions = append(questions, q)
	}
	return questions, nil
}
