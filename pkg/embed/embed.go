// Package embed defines the text-to-vector embedding interface and the
// always-available FNV-1a hash embedder.
package embed

import (
	"context"
	"errors"
	"math"
)

// Errors related to embedder operations
var (
	// ErrEmptyText is returned when an empty text string is provided.
	ErrEmptyText = errors.New("embed: empty text provided")

	// ErrEmbeddingFailed is returned when the embedder fails to produce a vector.
	ErrEmbeddingFailed = errors.New("embed: embedding failed")
)

// Info describes an embedder.
type Info struct {
	// ID uniquely identifies the embedder, e.g. "fnv1a-384".
	ID string
	// Dimension is the output vector length.
	Dimension int
	// Semantic reports whether the embedder is ML-based. Hash embedders
	// are lexical and report false.
	Semantic bool
}

// Embedder converts text into fixed-dimension dense vectors. Outputs are
// L2-normalized so cosine similarity reduces to a dot product.
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed converts a single text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts into vectors in a single call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dim returns the dimension of vectors produced by this embedder.
	Dim() int

	// ID returns the unique identifier for this embedder.
	ID() string

	// Semantic reports whether this is an ML-based embedder.
	Semantic() bool
}

// InfoOf collects an embedder's descriptive fields.
func InfoOf(e Embedder) Info {
	return Info{ID: e.ID(), Dimension: e.Dim(), Semantic: e.Semantic()}
}

// L2Normalize scales the vector in place to unit length. Zero vectors are
// left unchanged.
func L2Normalize(vec []float32) {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(float64(sum)))
	for i := range vec {
		vec[i] /= norm
	}
}

// DotProduct computes the plain dot product of two equal-length vectors.
// For L2-normalized vectors this equals cosine similarity.
func DotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// DotProductUnrolled computes the dot product eight lanes at a time with a
// scalar tail, which the compiler turns into vector instructions on
// amd64/arm64. Results match DotProduct to floating tolerance.
func DotProductUnrolled(a, b []float32) float32 {
	var s0, s1, s2, s3, s4, s5, s6, s7 float32

	n := len(a) &^ 7
	for i := 0; i < n; i += 8 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
		s4 += a[i+4] * b[i+4]
		s5 += a[i+5] * b[i+5]
		s6 += a[i+6] * b[i+6]
		s7 += a[i+7] * b[i+7]
	}

	sum := s0 + s1 + s2 + s3 + s4 + s5 + s6 + s7
	for i := n; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
