// Package query turns raw caller text into an accepted models.Question.
package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "legal-rag-workers/internal/common/errors"
)

const (
	MinLength = 10
	MaxLength = 2000

	// maxRepeats is the length of a run of one word that is rejected.
	maxRepeats = 6
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`ignore previous instructions`),
	regexp.MustCompile(`disregard.*prior`),
	regexp.MustCompile(`bypass`),
	regexp.MustCompile(`system prompt`),
	regexp.MustCompile(`as\s+if\s+you\s+were\s+not\s+restricted`),
}

// Normalize strips control characters and collapses whitespace runs into a
// single space. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, f)
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// Sanitize normalises raw and rejects it with INPUT_INVALID when it is too
// short, too long, looks like a prompt injection or repeats one word
// excessively.
func Sanitize(raw string) (string, error) {
	text := Normalize(raw)
	if text == "" {
		return "", apperrors.NewInputError("question is empty")
	}

	n := utf8.RuneCountInString(text)
	if n < MinLength {
		return "", apperrors.NewInputError(fmt.Sprintf("question too short: minimum length is %d characters", MinLength))
	}
	if n > MaxLength {
		return "", apperrors.NewInputError(fmt.Sprintf("question too long: maximum length is %d characters", MaxLength))
	}

	lower := strings.ToLower(text)
	for _, p := range injectionPatterns {
		if p.MatchString(lower) {
			return "", apperrors.NewInputError("question contains potentially unsafe instructions")
		}
	}

	if hasRepeatedRun(text, maxRepeats) {
		return "", apperrors.NewInputError("question contains excessive repetition")
	}
	return text, nil
}

// hasRepeatedRun reports whether the same word appears limit or more times
// in a row. Words are compared on their letters and digits only.
func hasRepeatedRun(text string, limit int) bool {
	prev := ""
	run := 0
	for _, f := range strings.Fields(text) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w == "" {
			prev, run = "", 0
			continue
		}
		if w == prev {
			run++
		} else {
			prev, run = w, 1
		}
		if run >= limit {
			return true
		}
	}
	return false
}
