// internal/workers/legal-conversation/chat-delete/models.go
package chatdelete

type Input struct {
	SessionID string `json:"sessionId"`
}

type Output struct {
	SessionID string `json:"sessionId"`
	Deleted   bool   `json:"deleted"`
}
