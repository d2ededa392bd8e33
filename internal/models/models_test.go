package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFromFields(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]interface{}
		wantTitle string
		wantType  SourceType
	}{
		{"case", map[string]interface{}{"case_title": "Carlill v Carbolic", "year": float64(1893)}, "Carlill v Carbolic", SourceCase},
		{"legislation", map[string]interface{}{"legislation_title": "Sale of Goods Act"}, "Sale of Goods Act", SourceLegislation},
		{"article", map[string]interface{}{"article_title": "Offer and acceptance"}, "Offer and acceptance", SourceArticle},
		{"fallback to id", map[string]interface{}{"court": "UKHL"}, "doc-1", SourceDocument},
		{"blank title ignored", map[string]interface{}{"case_title": "  "}, "doc-1", SourceDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := MetadataFromFields("doc-1", tt.fields)
			assert.Equal(t, tt.wantTitle, meta.Title)
			assert.Equal(t, tt.wantType, meta.SourceType)
			assert.Equal(t, "doc-1", meta.DocumentID)
		})
	}

	meta := MetadataFromFields("doc-2", map[string]interface{}{"year": "2001", "jurisdiction": "UK"})
	assert.Equal(t, 2001, meta.Year)
	assert.Equal(t, "UK", meta.Jurisdiction)
}

func TestLabel(t *testing.T) {
	hit := DocumentHit{ID: "d1", Metadata: DocumentMetadata{Title: "Carlill", SourceType: SourceCase}}
	assert.Equal(t, "[Case: Carlill]", hit.Label())

	hit.Metadata.SourceType = SourceLegislation
	assert.Equal(t, "[Legislation: Carlill]", hit.Label())

	hit.Metadata.SourceType = SourceDocument
	assert.Equal(t, "[Document ID: d1]", hit.Label())
}

func TestDedupeHits_HighestScoreWins(t *testing.T) {
	a := []DocumentHit{{ID: "D", Score: 0.7}, {ID: "B", Score: 0.5}}
	b := []DocumentHit{{ID: "D", Score: 0.9}, {ID: "A", Score: 0.5}}

	got := DedupeHits(a, b)
	require.Len(t, got, 3)
	assert.Equal(t, "D", got[0].ID)
	assert.Equal(t, 0.9, got[0].Score)
	// equal scores fall back to id order
	assert.Equal(t, "A", got[1].ID)
	assert.Equal(t, "B", got[2].ID)
}

func TestOptionsResolve(t *testing.T) {
	defaults := RunSettings{TopK: 5, ScoreThreshold: 0.3}

	assert.Equal(t, defaults, Options{}.Resolve(defaults))
	assert.Equal(t, RunSettings{TopK: 8, ScoreThreshold: 0}, Options{TopK: 8, ScoreThreshold: Threshold(0)}.Resolve(defaults))
}

func TestSubAnswerCited(t *testing.T) {
	docs := []DocumentHit{{ID: "a"}, {ID: "b"}}
	assert.Len(t, SubAnswer{Documents: docs}.Cited(), 2)

	cited := SubAnswer{Documents: docs, CitedIDs: []string{"b"}}.Cited()
	require.Len(t, cited, 1)
	assert.Equal(t, "b", cited[0].ID)
}

func TestSessionWithTurn(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{ID: "s1", CreatedAt: now, LastActivity: now}

	first := s.WithTurn(Turn{
		Question:         "What is an offer?",
		CreatedAt:        now.Add(time.Minute),
		ContextDocuments: []DocumentHit{{ID: "d1", Metadata: DocumentMetadata{Title: "Carlill"}}},
	})
	second := first.WithTurn(Turn{
		Question:         "What about acceptance?",
		CreatedAt:        now.Add(2 * time.Minute),
		ContextDocuments: []DocumentHit{{ID: "d1", Metadata: DocumentMetadata{Title: "Carlill"}}, {ID: "d2"}},
	})

	assert.Empty(t, s.Turns, "original snapshot is untouched")
	require.Len(t, first.Turns, 1)
	require.Len(t, second.Turns, 2)
	assert.Equal(t, 1, second.Turns[1].Index)
	assert.Equal(t, 4, second.Metadata.MessageCount)
	assert.Equal(t, []string{"Carlill", "d2"}, second.Metadata.ContextSources)
	assert.Equal(t, now.Add(2*time.Minute), second.LastActivity)
}

func TestPipelineResultDegraded(t *testing.T) {
	r := PipelineResult{Final: FinalAnswer{Synthesized: true}, Pairs: []SubAnswer{{Mode: ModeAnswered}}}
	assert.False(t, r.Degraded())

	r.Pairs = append(r.Pairs, SubAnswer{Mode: ModeStub})
	assert.True(t, r.Degraded())
}
