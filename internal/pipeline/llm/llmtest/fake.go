// Package llmtest provides a recording llm.Completer for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"legal-rag-workers/internal/pipeline/llm"
)

// Fake records every request and answers with Handler, or with a fixed
// text when Handler is nil.
type Fake struct {
	Handler func(ctx context.Context, req llm.Request) (*llm.Response, error)

	mu    sync.Mutex
	calls []llm.Request
}

func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.Handler == nil {
		return &llm.Response{Text: "ok"}, nil
	}
	return f.Handler(ctx, req)
}

// Calls returns the recorded requests named name, or all of them when name
// is empty.
func (f *Fake) Calls(name string) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, 0, len(f.calls))
	for _, c := range f.calls {
		if name == "" || c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) Count(name string) int {
	return len(f.Calls(name))
}

// PromptContaining reports whether any request named name had substr in its
// prompt.
func (f *Fake) PromptContaining(name, substr string) bool {
	for _, c := range f.Calls(name) {
		if strings.Contains(c.Prompt, substr) {
			return true
		}
	}
	return false
}

func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}
