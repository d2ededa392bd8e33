package query

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"legal-rag-workers/internal/models"
)

// FingerprintConfig is the configuration that changes what a run computes
// and therefore belongs in the cache key.
type FingerprintConfig struct {
	Models         []string
	TopK           int
	ScoreThreshold float64
}

// Fingerprint hashes the lower-cased normalised text together with the
// conversation context and cfg.
func Fingerprint(normalized, context string, cfg FingerprintConfig) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(Normalize(normalized))))
	h.Write([]byte{0})
	h.Write([]byte(context))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(cfg.Models, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(cfg.TopK)))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatFloat(cfg.ScoreThreshold, 'f', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

// SubFingerprint keys the per-sub-question cache stages.
func SubFingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(Normalize(text))))
	return hex.EncodeToString(sum[:16])
}

// New sanitises raw and returns the fingerprinted Question. context is the
// conversation block prepended for follow-ups and may be empty.
func New(raw, context string, cfg FingerprintConfig) (models.Question, error) {
	text, err := Sanitize(raw)
	if err != nil {
		return models.Question{}, err
	}
	return models.Question{
		Raw:         raw,
		Normalized:  text,
		Context:     context,
		Fingerprint: Fingerprint(text, context, cfg),
	}, nil
}

// SubQuestions numbers texts in order.
func SubQuestions(texts []string) []models.SubQuestion {
	out := make([]models.SubQuestion, len(texts))
	for i, t := range texts {
		t = Normalize(t)
		out[i] = models.SubQuestion{Index: i, Text: t, Fingerprint: SubFingerprint(t)}
	}
	return out
}
