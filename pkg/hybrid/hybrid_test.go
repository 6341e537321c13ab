package hybrid

import (
	"math"
	"testing"

	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/vector"
)

func lexHit(id string, kind model.DocKind) model.SearchHit {
	return model.SearchHit{ID: id, Kind: kind, Body: "body of " + id}
}

func semHit(id string, kind model.DocKind, score float32) vector.SearchResult {
	return vector.SearchResult{DocID: id, Kind: kind, Score: score}
}

func TestFuseBasic(t *testing.T) {
	lexical := []model.SearchHit{
		lexHit("A", model.KindPost),
		lexHit("B", model.KindPost),
		lexHit("C", model.KindPost),
	}
	semantic := []vector.SearchResult{
		semHit("A", model.KindPost, 0.9),
		semHit("D", model.KindPost, 0.8),
		semHit("B", model.KindPost, 0.7),
	}

	fused := Fuse(lexical, semantic, 10, 0)

	if fused[0].ID != "A" || !fused[0].InBoth {
		t.Errorf("fused[0] = %+v, want A in both", fused[0])
	}
	if fused[1].ID != "B" || !fused[1].InBoth {
		t.Errorf("fused[1] = %+v, want B in both", fused[1])
	}
}

func TestFuseScore(t *testing.T) {
	lexical := []model.SearchHit{lexHit("A", model.KindPost)}
	semantic := []vector.SearchResult{semHit("A", model.KindPost, 0.9)}

	fused := Fuse(lexical, semantic, 10, 0)

	// Rank 0 in both lists: 1/61 + 1/61 = 2/61.
	want := 2.0 / 61.0
	if math.Abs(fused[0].Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", fused[0].Score, want)
	}
}

func TestFuseSingleSource(t *testing.T) {
	lexical := []model.SearchHit{
		lexHit("A", model.KindPost),
		lexHit("B", model.KindPost),
	}

	fused := Fuse(lexical, nil, 10, 0)

	if len(fused) != 2 {
		t.Fatalf("len = %d, want 2", len(fused))
	}
	if fused[0].ID != "A" || fused[0].InBoth {
		t.Errorf("fused[0] = %+v", fused[0])
	}
	want := 1.0 / 61.0
	if math.Abs(fused[0].Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", fused[0].Score, want)
	}
}

func TestFuseCrossKind(t *testing.T) {
	// The same id under two kinds stays two results.
	lexical := []model.SearchHit{
		lexHit("42", model.KindPost),
		lexHit("42", model.KindLiked),
	}
	semantic := []vector.SearchResult{semHit("42", model.KindLiked, 0.8)}

	fused := Fuse(lexical, semantic, 10, 0)

	if len(fused) != 2 {
		t.Fatalf("len = %d, want 2", len(fused))
	}

	kinds := map[model.DocKind]bool{}
	for _, f := range fused {
		if f.ID != "42" {
			t.Errorf("unexpected id %q", f.ID)
		}
		kinds[f.Kind] = true
	}
	if !kinds[model.KindPost] || !kinds[model.KindLiked] {
		t.Errorf("kinds = %v, want post and liked", kinds)
	}

	// The liked entry is in both lists, so it ranks first.
	if fused[0].Kind != model.KindLiked || !fused[0].InBoth {
		t.Errorf("fused[0] = %+v, want liked in both", fused[0])
	}
}

func TestFuseInBothBonus(t *testing.T) {
	lexical := []model.SearchHit{
		lexHit("solo_lex", model.KindPost),
		lexHit("both", model.KindPost),
	}
	semantic := []vector.SearchResult{
		semHit("solo_sem", model.KindPost, 0.9),
		semHit("both", model.KindPost, 0.5),
	}

	fused := Fuse(lexical, semantic, 10, 0)

	if fused[0].ID != "both" || !fused[0].InBoth {
		t.Errorf("fused[0] = %+v, want 'both' first", fused[0])
	}
}

func TestFuseDeterministic(t *testing.T) {
	lexical := []model.SearchHit{
		lexHit("C", model.KindPost),
		lexHit("A", model.KindPost),
		lexHit("B", model.KindPost),
	}

	first := Fuse(lexical, nil, 10, 0)
	for i := 0; i < 5; i++ {
		again := Fuse(lexical, nil, 10, 0)
		for j := range first {
			if first[j].ID != again[j].ID || first[j].Kind != again[j].Kind {
				t.Fatalf("run %d: ordering changed at %d", i, j)
			}
		}
	}
}

func TestFuseTieBreaksByID(t *testing.T) {
	// Equal scores, no in-both difference: id ascending.
	semantic := []vector.SearchResult{
		semHit("B", model.KindPost, 0.5),
	}
	lexical := []model.SearchHit{
		lexHit("A", model.KindPost),
	}

	fused := Fuse(lexical, semantic, 10, 0)
	if len(fused) != 2 {
		t.Fatalf("len = %d, want 2", len(fused))
	}
	if fused[0].ID != "A" || fused[1].ID != "B" {
		t.Errorf("tie order = %s, %s; want A, B", fused[0].ID, fused[1].ID)
	}
}

func TestFuseLimitAndOffset(t *testing.T) {
	lexical := []model.SearchHit{
		lexHit("A", model.KindPost),
		lexHit("B", model.KindPost),
		lexHit("C", model.KindPost),
	}

	if got := Fuse(lexical, nil, 2, 0); len(got) != 2 {
		t.Errorf("limit 2: len = %d", len(got))
	}

	offset := Fuse(lexical, nil, 10, 1)
	if len(offset) != 2 || offset[0].ID != "B" {
		t.Errorf("offset 1: got %+v", offset)
	}

	if got := Fuse(lexical, nil, 10, 99); got != nil {
		t.Errorf("offset beyond end: got %+v", got)
	}

	if got := Fuse(lexical, nil, 0, 0); got != nil {
		t.Errorf("zero limit: got %+v", got)
	}
}

func TestFuseEmpty(t *testing.T) {
	if got := Fuse(nil, nil, 10, 0); len(got) != 0 {
		t.Errorf("empty inputs: got %+v", got)
	}
}

func TestCandidateCount(t *testing.T) {
	tests := []struct {
		limit, offset, want int
	}{
		{10, 0, 30},
		{10, 5, 45},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := CandidateCount(tt.limit, tt.offset); got != tt.want {
			t.Errorf("CandidateCount(%d, %d) = %d, want %d", tt.limit, tt.offset, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	valid := map[string]Mode{
		"lexical": ModeLexical, "keyword": ModeLexical, "bm25": ModeLexical,
		"semantic": ModeSemantic, "vector": ModeSemantic,
		"hybrid": ModeHybrid, "rrf": ModeHybrid, "both": ModeHybrid,
	}
	for input, want := range valid {
		got, err := ParseMode(input)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", input, got, err, want)
		}
	}

	if _, err := ParseMode("invalid"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
