// internal/workers/legal-conversation/chat-continue/models.go
package chatcontinue

import "legal-rag-workers/internal/models"

type Input struct {
	SessionID      string   `json:"sessionId"`
	Question       string   `json:"question"`
	TopK           int      `json:"topK,omitempty"`
	ScoreThreshold *float64 `json:"scoreThreshold,omitempty"`
}

type Output struct {
	SessionID           string               `json:"sessionId"`
	Answer              string               `json:"answer"`
	Documents           []models.DocumentHit `json:"documents"`
	Turn                int                  `json:"turn"`
	PreviousContextUsed bool                 `json:"previousContextUsed"`
}
