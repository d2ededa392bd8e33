// internal/models/answer.go
package models

import "time"

// AnswerMode says how a sub-answer was produced. Consumers branch on the
// mode, never on the answer text.
type AnswerMode string

const (
	ModeAnswered             AnswerMode = "answered"
	ModeInsufficientEvidence AnswerMode = "insufficient_evidence"
	ModeStub                 AnswerMode = "stub"
)

// SubAnswer pairs a sub-question with its generated answer and the
// documents it was answered from.
type SubAnswer struct {
	SubQuestion SubQuestion   `json:"subQuestion"`
	Text        string        `json:"text"`
	Mode        AnswerMode    `json:"mode"`
	Documents   []DocumentHit `json:"documents"`
	CitedIDs    []string      `json:"citedIds,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Cited returns the documents referenced by CitedIDs. When the answer cites
// nothing explicitly every retrieved document counts as cited.
func (a SubAnswer) Cited() []DocumentHit {
	if len(a.CitedIDs) == 0 {
		return a.Documents
	}
	want := make(map[string]struct{}, len(a.CitedIDs))
	for _, id := range a.CitedIDs {
		want[id] = struct{}{}
	}
	out := make([]DocumentHit, 0, len(a.CitedIDs))
	for _, d := range a.Documents {
		if _, ok := want[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// FinalAnswer is the synthesized answer with the union of documents cited by
// its sub-answers.
type FinalAnswer struct {
	Text        string        `json:"text"`
	Synthesized bool          `json:"synthesized"`
	Documents   []DocumentHit `json:"documents"`
}

// State is a pipeline run state.
type State string

const (
	StatePending                State = "PENDING"
	StateDecomposing            State = "DECOMPOSING"
	StateRetrievingAndAnswering State = "RETRIEVING_AND_ANSWERING"
	StateSynthesizing           State = "SYNTHESIZING"
	StateDone                   State = "DONE"
	StateFailed                 State = "FAILED"
)

// CacheHits records which stages were served from cache. Retrieval and
// SubAnswers hold sub-question indices in ascending order.
type CacheHits struct {
	Final         bool  `json:"final"`
	Decomposition bool  `json:"decomposition"`
	Retrieval     []int `json:"retrieval,omitempty"`
	SubAnswers    []int `json:"subAnswers,omitempty"`
}

// PipelineResult is the outcome of a run that reached DONE.
type PipelineResult struct {
	Question              Question      `json:"question"`
	SubQuestions          []SubQuestion `json:"subQuestions"`
	Pairs                 []SubAnswer   `json:"pairs"`
	Final                 FinalAnswer   `json:"final"`
	Documents             []DocumentHit `json:"documents"`
	CacheHits             CacheHits     `json:"cacheHits"`
	DecompositionFallback bool          `json:"decompositionFallback"`
	States                []State       `json:"states"`
	ProcessingTime        time.Duration `json:"processingTime"`
	SessionID             string        `json:"sessionId,omitempty"`
	// PriorDocuments counts the earlier-turn documents merged into the run.
	PriorDocuments int `json:"priorDocuments,omitempty"`
}

// Degraded reports whether any part of the result came from a fallback.
func (r PipelineResult) Degraded() bool {
	if r.DecompositionFallback || !r.Final.Synthesized {
		return true
	}
	for _, p := range r.Pairs {
		if p.Mode == ModeStub {
			return true
		}
	}
	return false
}
