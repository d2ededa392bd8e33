package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"legal-rag-workers/internal/models"
)

func hit(id string, score float64) models.DocumentHit {
	return models.DocumentHit{ID: id, Score: score, Content: "content of " + id}
}

func ids(hits []models.DocumentHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestFuseRRF(t *testing.T) {
	dense := []models.DocumentHit{hit("a", 0.9), hit("b", 0.8), hit("c", 0.1)}
	sparse := []models.DocumentHit{hit("c", 12), hit("a", 7)}

	got := FuseRRF(60, dense, sparse)
	require.Len(t, got, 3)

	// a: 1/61 + 1/62, c: 1/63 + 1/61, b: 1/62
	assert.Equal(t, []string{"a", "c", "b"}, ids(got))
	assert.InDelta(t, 1.0/61+1.0/62, got[0].Score, 1e-12)
	assert.InDelta(t, 1.0/62, got[2].Score, 1e-12)
}

func TestFuseRRF_TiesBreakOnID(t *testing.T) {
	got := FuseRRF(60, []models.DocumentHit{hit("z", 0.5), hit("m", 0.5)}, []models.DocumentHit{hit("m", 1), hit("z", 1)})
	// equal raw scores rank by id within each list
	assert.Equal(t, []string{"m", "z"}, ids(got))
}

func TestFuseRRF_DuplicateWithinListCountsOnce(t *testing.T) {
	got := FuseRRF(60, []models.DocumentHit{hit("a", 0.9), hit("a", 0.4), hit("b", 0.3)})
	require.Len(t, got, 2)
	assert.InDelta(t, 1.0/61, got[0].Score, 1e-12)
	assert.InDelta(t, 1.0/62, got[1].Score, 1e-12)
}

func TestFuseRRF_Empty(t *testing.T) {
	assert.Empty(t, FuseRRF(60))
	assert.Empty(t, FuseRRF(60, nil, nil))
}

func TestNormalizeMinMax(t *testing.T) {
	got := normalizeMinMax([]models.DocumentHit{hit("a", 0.03), hit("b", 0.02), hit("c", 0.01)})
	assert.InDelta(t, 1.0, got[0].Score, 1e-12)
	assert.InDelta(t, 0.5, got[1].Score, 1e-12)
	assert.InDelta(t, 0.0, got[2].Score, 1e-12)

	single := normalizeMinMax([]models.DocumentHit{hit("a", 0.016)})
	assert.Equal(t, 1.0, single[0].Score)
}

func drawHits(t *rapid.T, label string) []models.DocumentHit {
	n := rapid.IntRange(0, 12).Draw(t, label+"-n")
	out := make([]models.DocumentHit, n)
	for i := range out {
		id := fmt.Sprintf("doc-%d", rapid.IntRange(0, 15).Draw(t, label+"-id"))
		out[i] = hit(id, float64(rapid.IntRange(0, 5).Draw(t, label+"-score"))/5)
	}
	return out
}

func TestFuseRRF_IndependentOfArrivalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dense := drawHits(t, "dense")
		sparse := drawHits(t, "sparse")

		shuffled := func(in []models.DocumentHit) []models.DocumentHit {
			return rapid.Permutation(append([]models.DocumentHit(nil), in...)).Draw(t, "perm")
		}

		a := FuseRRF(60, dense, sparse)
		b := FuseRRF(60, shuffled(dense), shuffled(sparse))

		if len(a) != len(b) {
			t.Fatalf("length differs: %d vs %d", len(a), len(b))
		}
		seen := map[string]bool{}
		for i := range a {
			if a[i].ID != b[i].ID || a[i].Score != b[i].Score {
				t.Fatalf("position %d differs: %s/%v vs %s/%v", i, a[i].ID, a[i].Score, b[i].ID, b[i].Score)
			}
			if seen[a[i].ID] {
				t.Fatalf("duplicate id %s", a[i].ID)
			}
			seen[a[i].ID] = true
		}
	})
}
