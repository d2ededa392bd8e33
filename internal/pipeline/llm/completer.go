// Package llm is the text-completion contract used by the decomposer, the
// sub-answerer and the synthesizer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	apperrors "legal-rag-workers/internal/common/errors"
	commonhttp "legal-rag-workers/internal/common/http"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/retry"
)

const GeneratePath = "/api/ai/generate"

// Request is one completion call. Setting Schema asks for structured output;
// the response then carries it in Structured.
type Request struct {
	Name        string
	Prompt      string
	Schema      json.RawMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Text       string
	Structured json.RawMessage
}

// Completer fails with an UPSTREAM_* error when the service is unreachable
// or rate-limited and with MALFORMED_OUTPUT when the response is unusable.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

type generateRequest struct {
	Prompt         string          `json:"prompt"`
	Model          string          `json:"model,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`
}

type generateResponse struct {
	Text       string          `json:"text"`
	Structured json.RawMessage `json:"structured,omitempty"`
}

// HTTPCompleter talks to the GenAI generate endpoint.
type HTTPCompleter struct {
	client *commonhttp.Client
	logger logger.Logger
}

func NewHTTPCompleter(client *commonhttp.Client, log logger.Logger) *HTTPCompleter {
	return &HTTPCompleter{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "llm"}),
	}
}

func (c *HTTPCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	var out generateResponse
	err := c.client.PostJSON(ctx, GeneratePath, generateRequest{
		Prompt:         req.Prompt,
		Model:          req.Model,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseSchema: req.Schema,
	}, &out)
	if err != nil {
		c.logger.Debug("completion failed", map[string]interface{}{
			"call":  req.Name,
			"model": req.Model,
			"error": err.Error(),
		})
		return nil, err
	}

	resp := &Response{Text: out.Text, Structured: out.Structured}
	if len(req.Schema) > 0 && len(bytes.TrimSpace(resp.Structured)) == 0 {
		structured, ok := ExtractJSON(out.Text)
		if !ok {
			return nil, apperrors.NewMalformedOutputError(req.Name, "structured output requested but response holds no JSON")
		}
		resp.Structured = structured
	}
	return resp, nil
}

// ExtractJSON returns the JSON document in text, tolerating a surrounding
// markdown code fence.
func ExtractJSON(text string) (json.RawMessage, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" || !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

// Call completes req under policy and hands every response to parse. A
// parse error is treated as malformed output and re-prompted immediately;
// upstream errors back off.
func Call[T any](ctx context.Context, c Completer, p retry.Policy, req Request, parse func(*Response) (T, error)) (T, error) {
	if p.Name == "" {
		p.Name = req.Name
	}
	return retry.Do(ctx, p, func(ctx context.Context) (T, error) {
		var zero T
		resp, err := c.Complete(ctx, req)
		if err != nil {
			return zero, err
		}
		v, err := parse(resp)
		if err != nil {
			if apperrors.IsMalformed(err) {
				return zero, err
			}
			return zero, apperrors.NewMalformedOutputError(req.Name, err.Error())
		}
		return v, nil
	}, nil)
}

// Render executes a prompt template.
func Render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", apperrors.NewInternalError(fmt.Errorf("render %s prompt: %w", t.Name(), err))
	}
	return buf.String(), nil
}
