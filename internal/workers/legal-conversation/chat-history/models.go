// internal/workers/legal-conversation/chat-history/models.go
package chathistory

import "legal-rag-workers/internal/models"

type Input struct {
	SessionID string `json:"sessionId"`
}

type Output struct {
	SessionID string                 `json:"sessionId"`
	Turns     []models.Turn          `json:"turns"`
	Metadata  models.SessionMetadata `json:"metadata"`
}
