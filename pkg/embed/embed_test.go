package embed

import (
	"context"
	"math"
	"testing"
)

func TestNewHashEmbedder(t *testing.T) {
	e, err := NewHashEmbedder(256)
	if err != nil {
		t.Fatalf("NewHashEmbedder() error = %v", err)
	}
	if e.Dim() != 256 {
		t.Errorf("Dim() = %d, want 256", e.Dim())
	}
	if e.ID() != "fnv1a-256" {
		t.Errorf("ID() = %q, want fnv1a-256", e.ID())
	}
	if e.Semantic() {
		t.Error("hash embedder must not report semantic")
	}

	if _, err := NewHashEmbedder(0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestFNV1a(t *testing.T) {
	if got := fnv1a(""); got != fnvOffsetBasis {
		t.Errorf("fnv1a(\"\") = %#x, want offset basis", got)
	}
	if fnv1a("a") == fnvOffsetBasis {
		t.Error("fnv1a(\"a\") should differ from the offset basis")
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Hello, World! This is a test.")
	want := map[string]bool{"hello": true, "world": true, "this": true, "is": true, "test": true}
	for _, tok := range tokens {
		if !want[tok] {
			t.Errorf("unexpected token %q", tok)
		}
		delete(want, tok)
	}
	for missing := range want {
		t.Errorf("missing token %q", missing)
	}

	for _, tok := range tokenize("a b c !") {
		t.Errorf("single-char token %q should be filtered", tok)
	}
}

func TestEmbedUnitNorm(t *testing.T) {
	e, _ := NewHashEmbedder(DefaultDimension)
	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != DefaultDimension {
		t.Fatalf("len = %d, want %d", len(vec), DefaultDimension)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("norm = %v, want 1.0", norm)
	}
}

func TestEmbedDeterministic(t *testing.T) {
	e, _ := NewHashEmbedder(DefaultDimension)
	ctx := context.Background()

	v1, _ := e.Embed(ctx, "rust programming")
	v2, _ := e.Embed(ctx, "rust programming")
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("vectors differ at %d", i)
		}
	}
}

func TestEmbedCaseInsensitive(t *testing.T) {
	e, _ := NewHashEmbedder(DefaultDimension)
	ctx := context.Background()

	v1, _ := e.Embed(ctx, "Hello World")
	v2, _ := e.Embed(ctx, "hello world")
	v3, _ := e.Embed(ctx, "HELLO WORLD")
	for i := range v1 {
		if v1[i] != v2[i] || v2[i] != v3[i] {
			t.Fatalf("case variants differ at %d", i)
		}
	}
}

func TestEmbedEmptyText(t *testing.T) {
	e, _ := NewHashEmbedder(DefaultDimension)
	if _, err := e.Embed(context.Background(), ""); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestEmbedNoValidTokens(t *testing.T) {
	e, _ := NewHashEmbedder(DefaultDimension)
	vec, err := e.Embed(context.Background(), "a b c !")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	// All tokens filtered: uniform normalized vector.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-5 {
		t.Errorf("norm = %v, want 1.0", math.Sqrt(norm))
	}
	for i := 1; i < len(vec); i++ {
		if vec[i] != vec[0] {
			t.Fatal("expected uniform vector")
		}
	}
}

func TestSimilarTextsScoreHigher(t *testing.T) {
	e, _ := NewHashEmbedder(DefaultDimension)
	ctx := context.Background()

	rust, _ := e.Embed(ctx, "rust programming language")
	rust2, _ := e.Embed(ctx, "rust programming")
	python, _ := e.Embed(ctx, "python scripting language")

	if DotProduct(rust, rust2) <= DotProduct(rust, python) {
		t.Error("overlapping texts should be more similar")
	}
}

func TestEmbedBatchMatchesSingle(t *testing.T) {
	e, _ := NewHashEmbedder(DefaultDimension)
	ctx := context.Background()
	texts := []string{"hello world", "rust programming", "machine learning"}

	batch, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("batch length = %d, want %d", len(batch), len(texts))
	}

	for i, text := range texts {
		single, _ := e.Embed(ctx, text)
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch[%d] differs from single embed at %d", i, j)
			}
		}
	}
}

func TestDotProductUnrolledMatchesScalar(t *testing.T) {
	sizes := []int{1, 7, 8, 16, 19, 384}
	for _, n := range sizes {
		a := make([]float32, n)
		b := make([]float32, n)
		for i := range a {
			a[i] = float32(i%13) * 0.25
			b[i] = float32((i*7)%11) * 0.5
		}

		scalar := DotProduct(a, b)
		unrolled := DotProductUnrolled(a, b)
		if math.Abs(float64(scalar-unrolled)) > 1e-4 {
			t.Errorf("size %d: scalar %v != unrolled %v", n, scalar, unrolled)
		}
	}
}

func TestL2NormalizeZeroVector(t *testing.T) {
	vec := []float32{0, 0, 0}
	L2Normalize(vec)
	for _, v := range vec {
		if v != 0 {
			t.Fatal("zero vector should stay zero")
		}
	}
}
