// Package hybrid merges lexical and semantic rankings with Reciprocal Rank
// Fusion.
//
// Each hit contributes 1/(K + rank + 1) per list it appears in, with K=60.
// Documents found by both searches accumulate both contributions, which
// naturally boosts results that match by keyword and by meaning. Ordering
// is fully deterministic: score descending, then in-both before single
// source, then id, then kind.
package hybrid

import (
	"fmt"
	"sort"
	"strings"

	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/vector"
)

// rrfK is the RRF constant. K=60 is the standard empirical choice.
const rrfK = 60.0

// CandidateMultiplier scales how many candidates are fetched from each
// source relative to limit+offset, so fusion has enough overlap to work
// with.
const CandidateMultiplier = 3

// Mode selects the search pipeline.
type Mode int

const (
	// ModeLexical is keyword-only search.
	ModeLexical Mode = iota
	// ModeSemantic is vector-only search.
	ModeSemantic
	// ModeHybrid fuses both rankings with RRF.
	ModeHybrid
)

// String returns the canonical name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLexical:
		return "lexical"
	case ModeSemantic:
		return "semantic"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseMode accepts the canonical mode names plus common aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "lexical", "keyword", "bm25":
		return ModeLexical, nil
	case "semantic", "vector", "embedding":
		return ModeSemantic, nil
	case "hybrid", "rrf", "both":
		return ModeHybrid, nil
	}
	return ModeHybrid, fmt.Errorf("unknown search mode %q: use lexical, semantic, or hybrid", s)
}

// FusedHit is one entry of the fused ranking.
type FusedHit struct {
	// ID is the document id.
	ID string
	// Kind is the document kind.
	Kind model.DocKind
	// Score is the accumulated RRF score.
	Score float64
	// LexicalRank is the 0-indexed rank in the lexical list, or -1.
	LexicalRank int
	// SemanticRank is the 0-indexed rank in the semantic list, or -1.
	SemanticRank int
	// InBoth reports whether the hit appeared in both input lists.
	InBoth bool
}

type docKey struct {
	id   string
	kind model.DocKind
}

type fusionScore struct {
	rrf          float64
	lexicalRank  int
	semanticRank int
}

// Fuse merges a lexical ranking and a semantic ranking using RRF, then
// applies offset and limit. Hits are keyed by (id, kind): the same id
// appearing under two kinds stays two distinct results.
func Fuse(lexical []model.SearchHit, semantic []vector.SearchResult, limit, offset int) []FusedHit {
	if limit <= 0 {
		return nil
	}

	scores := make(map[docKey]*fusionScore, len(lexical)+len(semantic))

	for rank, hit := range lexical {
		key := docKey{id: hit.ID, kind: hit.Kind}
		entry := scores[key]
		if entry == nil {
			entry = &fusionScore{lexicalRank: -1, semanticRank: -1}
			scores[key] = entry
		}
		entry.rrf += 1.0 / (rrfK + float64(rank) + 1.0)
		entry.lexicalRank = rank
	}

	for rank, hit := range semantic {
		key := docKey{id: hit.DocID, kind: hit.Kind}
		entry := scores[key]
		if entry == nil {
			entry = &fusionScore{lexicalRank: -1, semanticRank: -1}
			scores[key] = entry
		}
		entry.rrf += 1.0 / (rrfK + float64(rank) + 1.0)
		entry.semanticRank = rank
	}

	fused := make([]FusedHit, 0, len(scores))
	for key, score := range scores {
		fused = append(fused, FusedHit{
			ID:           key.id,
			Kind:         key.kind,
			Score:        score.rrf,
			LexicalRank:  score.lexicalRank,
			SemanticRank: score.semanticRank,
			InBoth:       score.lexicalRank >= 0 && score.semanticRank >= 0,
		})
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Kind < b.Kind
	})

	if offset >= len(fused) {
		return nil
	}
	fused = fused[offset:]
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}

// CandidateCount returns how many candidates to fetch from each source for
// the given page.
func CandidateCount(limit, offset int) int {
	return (limit + offset) * CandidateMultiplier
}
