// internal/workers/legal-conversation/chat-start/models.go
package chatstart

import "legal-rag-workers/internal/models"

type Input struct {
	Question       string   `json:"question"`
	TopK           int      `json:"topK,omitempty"`
	ScoreThreshold *float64 `json:"scoreThreshold,omitempty"`
}

type Output struct {
	SessionID string               `json:"sessionId"`
	Answer    string               `json:"answer"`
	Documents []models.DocumentHit `json:"documents"`
}
