package retrieval

import "legal-rag-workers/internal/models"

// DefaultRRFK is the reciprocal rank fusion constant.
const DefaultRRFK = 60

// FuseRRF merges ranked lists by reciprocal rank fusion. Each list is first
// ordered by raw score descending with ties on id ascending, so the result
// does not depend on the order hits arrive in. A document scores
// sum(1 / (k + rank)) over the lists it appears in, rank starting at 1; a
// document repeated within one list counts once at its best rank. The
// result is ordered by fused score descending, then id ascending, and keeps
// the content and metadata of the best-ranked copy.
func FuseRRF(k int, lists ...[]models.DocumentHit) []models.DocumentHit {
	if k <= 0 {
		k = DefaultRRFK
	}

	type fused struct {
		hit      models.DocumentHit
		score    float64
		bestRank int
	}
	byID := make(map[string]*fused)

	for _, list := range lists {
		ranked := append([]models.DocumentHit(nil), list...)
		models.SortHits(ranked)

		seen := make(map[string]struct{}, len(ranked))
		rank := 0
		for _, h := range ranked {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			seen[h.ID] = struct{}{}
			rank++

			f, ok := byID[h.ID]
			if !ok {
				f = &fused{hit: h, bestRank: rank}
				byID[h.ID] = f
			} else if rank < f.bestRank || (f.hit.Content == "" && h.Content != "") {
				f.hit.Content = h.Content
				f.hit.Metadata = h.Metadata
				if rank < f.bestRank {
					f.bestRank = rank
				}
			}
			f.score += 1.0 / float64(k+rank)
		}
	}

	out := make([]models.DocumentHit, 0, len(byID))
	for _, f := range byID {
		h := f.hit
		h.Score = f.score
		out = append(out, h)
	}
	models.SortHits(out)
	return out
}

// normalizeMinMax rescales scores to [0,1]. Equal scores all become 1.
func normalizeMinMax(hits []models.DocumentHit) []models.DocumentHit {
	out := append([]models.DocumentHit(nil), hits...)
	if len(out) == 0 {
		return out
	}
	lo, hi := out[0].Score, out[0].Score
	for _, h := range out[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	for i := range out {
		if hi == lo {
			out[i].Score = 1
			continue
		}
		out[i].Score = (out[i].Score - lo) / (hi - lo)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	}
	return v
}
