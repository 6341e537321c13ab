package embed

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// FNV-1a 64-bit parameters.
const (
	fnvOffsetBasis uint64 = 0xcbf29ce484222325
	fnvPrime       uint64 = 0x100000001b3
)

// DefaultDimension is the default embedding dimension.
const DefaultDimension = 384

// minTokenLen is the minimum token length in bytes; it filters out
// single-byte tokens such as "a" or "7".
const minTokenLen = 2

// HashEmbedder produces deterministic embeddings via feature hashing: each
// token's FNV-1a hash selects a dimension (hash mod dim) and a sign (the
// hash's top bit), and the accumulated vector is L2-normalized.
//
// It is not semantic: "happy" and "joyful" land in unrelated dimensions.
// It exists as the always-available baseline for hybrid search.
type HashEmbedder struct {
	dimension int
	id        string
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dimension int) (*HashEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embed: dimension must be positive, got %d", dimension)
	}
	return &HashEmbedder{
		dimension: dimension,
		id:        fmt.Sprintf("fnv1a-%d", dimension),
	}, nil
}

// Embed converts text into an L2-normalized feature-hashed vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		// No valid tokens: return a uniform normalized vector.
		vec := make([]float32, h.dimension)
		for i := range vec {
			vec[i] = 1.0
		}
		L2Normalize(vec)
		return vec, nil
	}

	return h.embedTokens(tokens), nil
}

// EmbedBatch embeds each text in order.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dim returns the embedding dimension.
func (h *HashEmbedder) Dim() int { return h.dimension }

// ID returns the embedder identifier, e.g. "fnv1a-384".
func (h *HashEmbedder) ID() string { return h.id }

// Semantic reports false: the hash embedder is lexical.
func (h *HashEmbedder) Semantic() bool { return false }

func (h *HashEmbedder) embedTokens(tokens []string) []float32 {
	vec := make([]float32, h.dimension)

	for _, token := range tokens {
		hash := fnv1a(token)
		idx := hash % uint64(h.dimension)
		if hash>>63 == 0 {
			vec[idx] += 1.0
		} else {
			vec[idx] -= 1.0
		}
	}

	L2Normalize(vec)
	return vec
}

func fnv1a(s string) uint64 {
	hash := fnvOffsetBasis
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime
	}
	return hash
}

// tokenize lowercases and splits on non-alphanumeric boundaries, dropping
// tokens shorter than minTokenLen.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
