package conversation

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"legal-rag-workers/internal/models"
)

// TokenCounter measures text against the context budget.
type TokenCounter interface {
	Count(text string) int
}

// CharCounter counts runes.
type CharCounter struct{}

func (CharCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// TiktokenCounter counts model tokens. The encoding is loaded on first use;
// if it cannot be loaded the counter falls back to rune counting.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

func NewTiktokenCounter(model string) *TiktokenCounter {
	enc, ok := modelEncodings[model]
	if !ok {
		enc = "cl100k_base"
	}
	return &TiktokenCounter{encoding: enc}
}

func (t *TiktokenCounter) Count(text string) int {
	t.once.Do(func() {
		if enc, err := tiktoken.GetEncoding(t.encoding); err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return utf8.RuneCountInString(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewCounter returns a TiktokenCounter for model, or a CharCounter when
// model is empty.
func NewCounter(model string) TokenCounter {
	if model == "" {
		return CharCounter{}
	}
	return NewTiktokenCounter(model)
}

const contextHeader = "Previous conversation (most recent first):"

// Window selects the turns framing a follow-up question.
type Window struct {
	MaxTurns int
	Budget   int
	Counter  TokenCounter
}

// Build renders the context block for turns, newest first. It stops at
// MaxTurns or at the first turn that would exceed Budget. When not even the
// newest turn fits, its answer is truncated to fit. An empty history gives
// an empty block.
func (w Window) Build(turns []models.Turn) string {
	block, _ := w.render(turns)
	return block
}

// Frame is Build together with the context documents of the turns the block
// frames, deduplicated by id.
func (w Window) Frame(turns []models.Turn) models.Conversation {
	block, used := w.render(turns)
	if used == 0 {
		return models.Conversation{}
	}
	framed := make([][]models.DocumentHit, 0, used)
	for _, t := range turns[len(turns)-used:] {
		framed = append(framed, t.ContextDocuments)
	}
	docs := models.DedupeHits(framed...)
	if len(docs) == 0 {
		docs = nil
	}
	return models.Conversation{Context: block, Documents: docs}
}

// render returns the block and how many of the newest turns it frames.
func (w Window) render(turns []models.Turn) (string, int) {
	if len(turns) == 0 || w.MaxTurns <= 0 || w.Budget <= 0 {
		return "", 0
	}
	counter := w.Counter
	if counter == nil {
		counter = CharCounter{}
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	used := 0
	for i := len(turns) - 1; i >= 0 && used < w.MaxTurns; i-- {
		block := renderTurn(turns[i], turns[i].Answer.Text)
		candidate := b.String() + "\n\n" + block
		if counter.Count(candidate) > w.Budget {
			if used == 0 {
				if t := truncateToFit(counter, b.String()+"\n\n", turns[i], w.Budget); t != "" {
					return t, 1
				}
				return "", 0
			}
			break
		}
		b.WriteString("\n\n")
		b.WriteString(block)
		used++
	}
	if used == 0 {
		return "", 0
	}
	return b.String(), used
}

func renderTurn(t models.Turn, answer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\nAssistant: %s", t.Question, answer)
	if titles := models.Titles(t.Answer.Documents); len(titles) > 0 {
		fmt.Fprintf(&b, "\nSources: %s", strings.Join(titles, "; "))
	}
	return b.String()
}

// truncateToFit finds the longest answer prefix that keeps prefix+turn
// within budget.
func truncateToFit(counter TokenCounter, prefix string, t models.Turn, budget int) string {
	answer := []rune(t.Answer.Text)
	lo, hi := 0, len(answer)
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		text := prefix + renderTurn(t, string(answer[:mid])+"...")
		if counter.Count(text) <= budget {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best < 0 {
		return ""
	}
	return prefix + renderTurn(t, string(answer[:best])+"...")
}
