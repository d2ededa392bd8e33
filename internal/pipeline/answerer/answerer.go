// Package answerer answers one sub-question from its retrieved documents.
package answerer

import (
	"context"
	"errors"
	"strings"
	"text/template"

	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/retry"
	"legal-rag-workers/internal/models"
	"legal-rag-workers/internal/pipeline/llm"
)

const Name = "answer"

const (
	InsufficientEvidenceText = "Based on the provided documents, I cannot answer this question adequately."
	stubText                 = "This sub-question could not be answered because its research step did not complete."
)

var promptTemplate = template.Must(template.New(Name).Parse(`You are a legal research assistant answering one question STRICTLY from the documents provided.

Original legal query: {{.Question}}

Rules:
1. Use only information explicitly found in the documents below.
2. If they are insufficient, say: "{{.Insufficient}}"
3. Quote exact citations, case references and statutory provisions as they appear.
4. Cite every statement with the label of its document, for example {{.ExampleLabel}}, and its document id.
5. When documents conflict, present both positions with their sources.

Question: {{.SubQuestion}}

Documents:
{{- range .Documents}}
{{.Label}} (id: {{.ID}})
{{.Content}}
{{- end}}

Answer:`))

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Retry       retry.Policy
}

type Answerer struct {
	completer llm.Completer
	opts      Options
	logger    logger.Logger
}

func New(completer llm.Completer, opts Options, log logger.Logger) *Answerer {
	if opts.Retry.Name == "" {
		opts.Retry = retry.DefaultPolicy(Name)
	}
	return &Answerer{
		completer: completer,
		opts:      opts,
		logger:    log.WithFields(map[string]interface{}{"component": "answerer"}),
	}
}

// Answer produces the sub-answer for sub. With no documents it returns an
// insufficient-evidence answer without calling the model.
func (a *Answerer) Answer(ctx context.Context, q models.Question, sub models.SubQuestion, docs []models.DocumentHit) (models.SubAnswer, error) {
	if len(docs) == 0 {
		return models.SubAnswer{
			SubQuestion: sub,
			Text:        InsufficientEvidenceText,
			Mode:        models.ModeInsufficientEvidence,
			Documents:   []models.DocumentHit{},
		}, nil
	}

	prompt, err := llm.Render(promptTemplate, map[string]interface{}{
		"Question":     q.PromptText(),
		"SubQuestion":  sub.Text,
		"Documents":    docs,
		"Insufficient": InsufficientEvidenceText,
		"ExampleLabel": docs[0].Label(),
	})
	if err != nil {
		return models.SubAnswer{}, err
	}

	text, err := llm.Call(ctx, a.completer, a.opts.Retry, llm.Request{
		Name:        Name,
		Prompt:      prompt,
		Model:       a.opts.Model,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	}, func(resp *llm.Response) (string, error) {
		t := strings.TrimSpace(resp.Text)
		if t == "" {
			return "", errors.New("empty answer")
		}
		return t, nil
	})
	if err != nil {
		return models.SubAnswer{}, err
	}

	return models.SubAnswer{
		SubQuestion: sub,
		Text:        text,
		Mode:        models.ModeAnswered,
		Documents:   docs,
		CitedIDs:    CitedIDs(text, docs),
	}, nil
}

// Stub is the placeholder for a sub-question whose processing failed.
func Stub(sub models.SubQuestion, cause error) models.SubAnswer {
	s := models.SubAnswer{
		SubQuestion: sub,
		Text:        stubText,
		Mode:        models.ModeStub,
		Documents:   []models.DocumentHit{},
	}
	if cause != nil {
		s.Error = cause.Error()
	}
	return s
}

// CitedIDs returns, in document order, the ids of documents whose id or
// title appears in text.
func CitedIDs(text string, docs []models.DocumentHit) []string {
	lower := strings.ToLower(text)
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		title := strings.ToLower(d.Metadata.Title)
		if strings.Contains(lower, strings.ToLower(d.ID)) || (title != "" && strings.Contains(lower, title)) {
			out = append(out, d.ID)
		}
	}
	return out
}
