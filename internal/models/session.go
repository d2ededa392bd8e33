// internal/models/session.go
package models

import "time"

// Turn is one question/answer exchange of a conversation.
type Turn struct {
	Index            int           `json:"index"`
	Question         string        `json:"question"`
	Answer           FinalAnswer   `json:"answer"`
	ContextDocuments []DocumentHit `json:"contextDocuments"`
	// PreviousContext is set when earlier turns' documents fed the answer.
	PreviousContext bool      `json:"previousContextUsed"`
	CreatedAt       time.Time `json:"createdAt"`
}

type SessionMetadata struct {
	MessageCount   int      `json:"messageCount"`
	ContextSources []string `json:"contextSources"`
}

// Session is a conversation snapshot. The conversation manager replaces
// sessions wholesale; a Session value handed out is never modified.
type Session struct {
	ID           string          `json:"sessionId"`
	Turns        []Turn          `json:"turns"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastActivity time.Time       `json:"lastActivity"`
	Metadata     SessionMetadata `json:"metadata"`
}

// WithTurn returns a copy of s with t appended and the metadata updated.
func (s *Session) WithTurn(t Turn) *Session {
	next := &Session{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: t.CreatedAt,
		Turns:        make([]Turn, 0, len(s.Turns)+1),
	}
	t.Index = len(s.Turns)
	next.Turns = append(next.Turns, s.Turns...)
	next.Turns = append(next.Turns, t)

	next.Metadata.MessageCount = s.Metadata.MessageCount + 2
	seen := make(map[string]struct{}, len(s.Metadata.ContextSources))
	next.Metadata.ContextSources = make([]string, 0, len(s.Metadata.ContextSources)+len(t.ContextDocuments))
	for _, src := range s.Metadata.ContextSources {
		seen[src] = struct{}{}
		next.Metadata.ContextSources = append(next.Metadata.ContextSources, src)
	}
	for _, title := range Titles(t.ContextDocuments) {
		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}
		next.Metadata.ContextSources = append(next.Metadata.ContextSources, title)
	}
	return next
}

// Clone returns a deep enough copy that callers cannot reach the stored
// slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	c.Metadata.ContextSources = append([]string(nil), s.Metadata.ContextSources...)
	return &c
}
