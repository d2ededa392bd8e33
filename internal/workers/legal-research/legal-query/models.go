// internal/workers/legal-research/legal-query/models.go
package legalquery

import "legal-rag-workers/internal/models"

type Input struct {
	Question       string   `json:"question"`
	TopK           int      `json:"topK,omitempty"`
	ScoreThreshold *float64 `json:"scoreThreshold,omitempty"`
	EnableFollowup bool     `json:"enableFollowup,omitempty"`
}

func (in *Input) Options() models.Options {
	return models.Options{TopK: in.TopK, ScoreThreshold: in.ScoreThreshold, EnableFollowup: in.EnableFollowup}
}

type Output struct {
	Answer                string               `json:"answer"`
	Synthesized           bool                 `json:"synthesized"`
	Degraded              bool                 `json:"degraded"`
	DecompositionFallback bool                 `json:"decompositionFallback"`
	SubQuestions          []string             `json:"subQuestions"`
	Pairs                 []Pair               `json:"pairs"`
	Documents             []models.DocumentHit `json:"documents"`
	CacheHits             models.CacheHits     `json:"cacheHits"`
	SessionID             string               `json:"sessionId,omitempty"`
	ProcessingTimeMs      int64                `json:"processingTimeMs"`
}

type Pair struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Mode      models.AnswerMode `json:"mode"`
	Documents []string          `json:"documents"`
}

// NewOutput flattens a pipeline result into process variables.
func NewOutput(res *models.PipelineResult) *Output {
	out := &Output{
		Answer:                res.Final.Text,
		Synthesized:           res.Final.Synthesized,
		Degraded:              res.Degraded(),
		DecompositionFallback: res.DecompositionFallback,
		SubQuestions:          make([]string, len(res.SubQuestions)),
		Pairs:                 make([]Pair, len(res.Pairs)),
		Documents:             res.Documents,
		CacheHits:             res.CacheHits,
		SessionID:             res.SessionID,
		ProcessingTimeMs:      res.ProcessingTime.Milliseconds(),
	}
	for i, s := range res.SubQuestions {
		out.SubQuestions[i] = s.Text
	}
	for i, p := range res.Pairs {
		ids := make([]string, len(p.Documents))
		for j, d := range p.Documents {
			ids[j] = d.ID
		}
		out.Pairs[i] = Pair{Question: p.SubQuestion.Text, Answer: p.Text, Mode: p.Mode, Documents: ids}
	}
	if out.Documents == nil {
		out.Documents = []models.DocumentHit{}
	}
	return out
}
