// internal/models/document.go
package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SourceType classifies where a legal document came from.
type SourceType string

const (
	SourceCase        SourceType = "case"
	SourceLegislation SourceType = "legislation"
	SourceArticle     SourceType = "article"
	SourceDocument    SourceType = "document"
)

// DocumentMetadata is the citation metadata carried with every hit.
type DocumentMetadata struct {
	DocumentID   string     `json:"documentId"`
	Title        string     `json:"title"`
	SourceType   SourceType `json:"sourceType"`
	Citation     string     `json:"citation,omitempty"`
	Court        string     `json:"court,omitempty"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	Year         int        `json:"year,omitempty"`
}

// MetadataFromFields builds metadata from index fields. The title is the
// first non-empty of case_title, legislation_title and article_title, and
// falls back to the document id.
func MetadataFromFields(documentID string, fields map[string]interface{}) DocumentMetadata {
	meta := DocumentMetadata{
		DocumentID:   documentID,
		SourceType:   SourceDocument,
		Title:        documentID,
		Citation:     stringField(fields, "citation"),
		Court:        stringField(fields, "court"),
		Jurisdiction: stringField(fields, "jurisdiction"),
		Year:         intField(fields, "year"),
	}
	if id := stringField(fields, "document_id"); id != "" && meta.DocumentID == "" {
		meta.DocumentID = id
		meta.Title = id
	}

	switch {
	case stringField(fields, "case_title") != "":
		meta.Title = stringField(fields, "case_title")
		meta.SourceType = SourceCase
	case stringField(fields, "legislation_title") != "":
		meta.Title = stringField(fields, "legislation_title")
		meta.SourceType = SourceLegislation
	case stringField(fields, "article_title") != "":
		meta.Title = stringField(fields, "article_title")
		meta.SourceType = SourceArticle
	}
	return meta
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intField(fields map[string]interface{}, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

// DocumentHit is one retrieved document with a relevance score in [0,1].
type DocumentHit struct {
	ID       string           `json:"id"`
	Score    float64          `json:"score"`
	Content  string           `json:"content,omitempty"`
	Metadata DocumentMetadata `json:"metadata"`
}

// Label renders the hit the way answer prompts cite it.
func (h DocumentHit) Label() string {
	title := h.Metadata.Title
	if title == "" {
		title = h.ID
	}
	switch h.Metadata.SourceType {
	case SourceCase:
		return fmt.Sprintf("[Case: %s]", title)
	case SourceLegislation:
		return fmt.Sprintf("[Legislation: %s]", title)
	case SourceArticle:
		return fmt.Sprintf("[Article: %s]", title)
	}
	return fmt.Sprintf("[Document ID: %s]", h.ID)
}

// SortHits orders by score descending, then id ascending.
func SortHits(hits []DocumentHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// DedupeHits merges hit lists by id, keeping the highest-scoring copy, and
// returns them in SortHits order.
func DedupeHits(lists ...[]DocumentHit) []DocumentHit {
	best := make(map[string]DocumentHit)
	for _, list := range lists {
		for _, h := range list {
			if cur, ok := best[h.ID]; !ok || h.Score > cur.Score {
				best[h.ID] = h
			}
		}
	}

	out := make([]DocumentHit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	SortHits(out)
	return out
}

// Titles returns the distinct titles of hits in first-seen order.
func Titles(hits []DocumentHit) []string {
	seen := make(map[string]struct{}, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		t := h.Metadata.Title
		if t == "" {
			t = h.ID
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
