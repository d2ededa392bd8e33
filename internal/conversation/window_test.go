package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-rag-workers/internal/models"
)

func turn(q, a string, titles ...string) models.Turn {
	docs := make([]models.DocumentHit, len(titles))
	for i, t := range titles {
		docs[i] = models.DocumentHit{ID: t, Metadata: models.DocumentMetadata{Title: t}}
	}
	return models.Turn{Question: q, Answer: models.FinalAnswer{Text: a, Documents: docs}}
}

func TestWindow_Empty(t *testing.T) {
	w := Window{MaxTurns: 3, Budget: 4000}
	assert.Equal(t, "", w.Build(nil))
}

func TestWindow_MostRecentFirstAndTurnLimit(t *testing.T) {
	turns := []models.Turn{
		turn("q1", "a1"),
		turn("q2", "a2"),
		turn("q3", "a3", "Carlill v Carbolic Smoke Ball Co"),
		turn("q4", "a4"),
	}
	got := Window{MaxTurns: 3, Budget: 4000}.Build(turns)

	assert.True(t, strings.HasPrefix(got, contextHeader))
	assert.NotContains(t, got, "q1")
	i4, i3, i2 := strings.Index(got, "User: q4"), strings.Index(got, "User: q3"), strings.Index(got, "User: q2")
	assert.True(t, i4 < i3 && i3 < i2, got)
	assert.Contains(t, got, "Sources: Carlill v Carbolic Smoke Ball Co")
}

func TestWindow_StopsAtBudget(t *testing.T) {
	turns := []models.Turn{
		turn("old question", strings.Repeat("x", 200)),
		turn("new question", "short answer"),
	}
	budget := CharCounter{}.Count(contextHeader+"\n\n"+renderTurn(turns[1], turns[1].Answer.Text)) + 10
	got := Window{MaxTurns: 3, Budget: budget}.Build(turns)

	assert.Contains(t, got, "new question")
	assert.NotContains(t, got, "old question")
	assert.LessOrEqual(t, CharCounter{}.Count(got), budget)
}

func TestWindow_TruncatesOversizedNewestTurn(t *testing.T) {
	turns := []models.Turn{turn("what is an offer?", strings.Repeat("offer ", 500))}
	got := Window{MaxTurns: 3, Budget: 300}.Build(turns)

	assert.Contains(t, got, "User: what is an offer?")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, CharCounter{}.Count(got), 300)
}

func TestWindow_BudgetTooSmallForAnything(t *testing.T) {
	turns := []models.Turn{turn("what is an offer?", "an offer is a promise")}
	assert.Equal(t, "", Window{MaxTurns: 3, Budget: 10}.Build(turns))
}

func TestWindow_FrameCarriesFramedTurnDocuments(t *testing.T) {
	old := turn("q1", "a1")
	old.ContextDocuments = []models.DocumentHit{{ID: "hadley", Score: 0.9}}
	mid := turn("q2", "a2")
	mid.ContextDocuments = []models.DocumentHit{{ID: "carlill", Score: 0.4}, {ID: "entores", Score: 0.7}}
	newest := turn("q3", "a3")
	newest.ContextDocuments = []models.DocumentHit{{ID: "carlill", Score: 0.8}}

	conv := Window{MaxTurns: 2, Budget: 4000}.Frame([]models.Turn{old, mid, newest})

	assert.Equal(t, Window{MaxTurns: 2, Budget: 4000}.Build([]models.Turn{old, mid, newest}), conv.Context)
	require.Len(t, conv.Documents, 2)
	assert.Equal(t, "carlill", conv.Documents[0].ID)
	assert.Equal(t, 0.8, conv.Documents[0].Score)
	assert.Equal(t, "entores", conv.Documents[1].ID)

	assert.Equal(t, models.Conversation{}, Window{MaxTurns: 2, Budget: 4000}.Frame(nil))
	assert.Equal(t, models.Conversation{}, Window{MaxTurns: 3, Budget: 10}.Frame([]models.Turn{newest}))
}

func TestCounters(t *testing.T) {
	assert.Equal(t, 5, CharCounter{}.Count("héllo"))
	assert.IsType(t, CharCounter{}, NewCounter(""))
	assert.IsType(t, &TiktokenCounter{}, NewCounter("gpt-4o"))
}
