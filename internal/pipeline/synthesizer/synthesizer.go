// Package synthesizer merges ordered sub-answers into the final answer.
package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/retry"
	"legal-rag-workers/internal/models"
	"legal-rag-workers/internal/pipeline/llm"
)

const Name = "synthesis"

const FallbackNote = "Note: the research findings could not be synthesized into a single analysis. The answers to each sub-question are reproduced below."

var promptTemplate = template.Must(template.New(Name).Parse(`You are an expert legal analyst synthesizing research into an answer to a complex legal query. Use ONLY the information in the sub-question answers below.

Original query: {{.Question}}

Instructions:
1. Do not introduce legal information, cases or principles absent from the sub-answers.
2. Where the sub-answers report insufficient documents, state: "The provided documents did not contain sufficient information about [specific aspect]."
3. Present conflicting interpretations fairly.
4. Keep every citation and statutory reference exactly as it appears.

Sub-questions and answers, in order:
{{- range .Pairs}}

{{.Number}}. {{.Question}}
{{.Answer}}
{{- end}}

Structure the analysis as Introduction, Legal Framework, Analysis and Conclusion, and end with a direct answer to the original query.

Final Analysis:`))

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Retry       retry.Policy
}

type Synthesizer struct {
	completer llm.Completer
	opts      Options
	logger    logger.Logger
}

func New(completer llm.Completer, opts Options, log logger.Logger) *Synthesizer {
	if opts.Retry.Name == "" {
		opts.Retry = retry.DefaultPolicy(Name)
	}
	return &Synthesizer{
		completer: completer,
		opts:      opts,
		logger:    log.WithFields(map[string]interface{}{"component": "synthesizer"}),
	}
}

type promptPair struct {
	Number   int
	Question string
	Answer   string
}

// Synthesize drafts the final answer from pairs in sub-question order.
// Output that stays malformed degrades to the sub-answers concatenated
// verbatim; an unavailable model is returned as an error.
func (s *Synthesizer) Synthesize(ctx context.Context, q models.Question, pairs []models.SubAnswer) (models.FinalAnswer, error) {
	ordered := Ordered(pairs)
	docs := CitedDocuments(ordered)

	view := make([]promptPair, len(ordered))
	for i, p := range ordered {
		view[i] = promptPair{Number: i + 1, Question: p.SubQuestion.Text, Answer: p.Text}
	}
	prompt, err := llm.Render(promptTemplate, map[string]interface{}{
		"Question": q.PromptText(),
		"Pairs":    view,
	})
	if err != nil {
		return models.FinalAnswer{}, err
	}

	text, err := llm.Call(ctx, s.completer, s.opts.Retry, llm.Request{
		Name:        Name,
		Prompt:      prompt,
		Model:       s.opts.Model,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}, func(resp *llm.Response) (string, error) {
		t := strings.TrimSpace(resp.Text)
		if t == "" {
			return "", errors.New("empty synthesis")
		}
		return t, nil
	})
	if err == nil {
		return models.FinalAnswer{Text: text, Synthesized: true, Documents: docs}, nil
	}

	if apperrors.IsMalformed(err) {
		s.logger.Warn("synthesis fallback to concatenated sub-answers", map[string]interface{}{
			"fingerprint": q.Fingerprint,
			"error":       err.Error(),
		})
		return models.FinalAnswer{Text: Concatenate(ordered), Synthesized: false, Documents: docs}, nil
	}
	return models.FinalAnswer{}, err
}

// Ordered returns pairs sorted by sub-question index.
func Ordered(pairs []models.SubAnswer) []models.SubAnswer {
	out := append([]models.SubAnswer(nil), pairs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubQuestion.Index < out[j].SubQuestion.Index
	})
	return out
}

// CitedDocuments is the union of documents cited by pairs, one entry per id
// at its highest score.
func CitedDocuments(pairs []models.SubAnswer) []models.DocumentHit {
	lists := make([][]models.DocumentHit, 0, len(pairs))
	for _, p := range pairs {
		lists = append(lists, p.Cited())
	}
	return models.DedupeHits(lists...)
}

// Concatenate renders the sub-answers verbatim under FallbackNote.
func Concatenate(pairs []models.SubAnswer) string {
	var b strings.Builder
	b.WriteString(FallbackNote)
	for i, p := range Ordered(pairs) {
		fmt.Fprintf(&b, "\n\n%d. %s\n%s", i+1, p.SubQuestion.Text, p.Text)
	}
	return b.String()
}
