// internal/models/question.go
package models

// Question is an accepted, normalised question. It is created by the query
// package and never mutated.
type Question struct {
	Raw         string `json:"raw"`
	Normalized  string `json:"normalized"`
	Context     string `json:"context,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// PromptText is the text handed to the language model: the conversation
// context block, when present, followed by the question.
func (q Question) PromptText() string {
	if q.Context == "" {
		return q.Normalized
	}
	return q.Context + "\n\nCurrent question: " + q.Normalized
}

// Conversation frames a follow-up question: the rendered context block and
// the documents the framing turns relied on.
type Conversation struct {
	Context   string
	Documents []DocumentHit
}

// SubQuestion is one decomposed question at a fixed position of its parent.
type SubQuestion struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	Fingerprint string `json:"fingerprint"`
}

// Options are the knobs a caller may pass to a pipeline run. Zero values
// select the configured defaults.
type Options struct {
	TopK           int      `json:"topK,omitempty" validate:"omitempty,gte=1,lte=50"`
	ScoreThreshold *float64 `json:"scoreThreshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	EnableFollowup bool     `json:"enableFollowup,omitempty"`
}

// RunSettings are Options resolved against defaults.
type RunSettings struct {
	TopK           int
	ScoreThreshold float64
}

// Resolve fills unset options from defaults.
func (o Options) Resolve(defaults RunSettings) RunSettings {
	s := defaults
	if o.TopK > 0 {
		s.TopK = o.TopK
	}
	if o.ScoreThreshold != nil {
		s.ScoreThreshold = *o.ScoreThreshold
	}
	return s
}

// Threshold is a convenience for building Options literals.
func Threshold(v float64) *float64 {
	return &v
}
