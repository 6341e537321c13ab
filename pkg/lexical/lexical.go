// Package lexical provides the durable inverted index over archive
// documents, built on bleve.
//
// Every searchable record becomes one document with a tokenized body, a
// pre-computed prefix field for cheap prefix-as-term matching, an exact
// kind term, an epoch-seconds timestamp, and a stored metadata JSON blob.
// Free-text queries go through bleve's query-string parser; a query that
// fails to parse silently downgrades to match-all so that kind filters
// still apply instead of surfacing a syntax error to the user.
package lexical

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/text/unicode/norm"

	"github.com/liliang-cn/xf/internal/logging"
	"github.com/liliang-cn/xf/pkg/model"
)

// Field names of the index schema.
const (
	fieldID         = "id"
	fieldBody       = "body"
	fieldPrefix     = "prefix"
	fieldKind       = "kind"
	fieldAuthoredAt = "authored_at"
	fieldMetadata   = "metadata"
)

// prefixMaxWords bounds how many words of a body contribute prefix tokens.
const prefixMaxWords = 50

// prefixMaxLen bounds the longest emitted prefix.
const prefixMaxLen = 15

// DefaultBufferBytes is the writer's default staging budget before an
// automatic flush.
const DefaultBufferBytes = 64 << 20

var (
	// ErrClosed is returned when using a closed index.
	ErrClosed = errors.New("lexical: index closed")

	// ErrWriterActive is returned when a second writer is requested while
	// one is already staged.
	ErrWriterActive = errors.New("lexical: writer already active")
)

// IndexedDoc is the unit of indexing.
type IndexedDoc struct {
	ID         string
	Kind       model.DocKind
	Body       string
	AuthoredAt int64 // epoch seconds
	Metadata   json.RawMessage
}

// Index wraps the on-disk (or in-memory) bleve index.
type Index struct {
	index  bleve.Index
	path   string // empty for in-memory
	writer *Writer
	logger logging.Logger
	closed bool
}

// Option configures an Index.
type Option func(*Index)

// WithLogger injects a logger. The default is silent.
func WithLogger(l logging.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// Open opens the index directory at path, creating it when absent.
func Open(path string, opts ...Option) (*Index, error) {
	var idx bleve.Index
	var err error

	if _, statErr := os.Stat(filepath.Join(path, "index_meta.json")); statErr == nil {
		idx, err = bleve.Open(path)
	} else {
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("lexical: create parent of %s: %w", path, err)
		}
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("lexical: open index at %s: %w", path, err)
	}

	x := &Index{index: idx, path: path, logger: logging.Nop()}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// OpenMemory creates an in-memory index, used by tests and the shell.
func OpenMemory(opts ...Option) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("lexical: open in-memory index: %w", err)
	}
	x := &Index{index: idx, logger: logging.Nop()}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// bodyAnalyzer tokenizes on Unicode word boundaries and lowercases,
// without stop-word removal: every term of the body, and every emitted
// prefix token, must survive analysis.
const bodyAnalyzer = "body_words"

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer(bodyAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []any{lowercase.Name},
	})
	if err != nil {
		// The analyzer definition is static; failure here is a bug.
		panic(err)
	}

	doc := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	idField.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldID, idField)

	bodyField := bleve.NewTextFieldMapping()
	bodyField.Analyzer = bodyAnalyzer
	bodyField.Store = true
	bodyField.IncludeTermVectors = true
	bodyField.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldBody, bodyField)

	prefixField := bleve.NewTextFieldMapping()
	prefixField.Analyzer = bodyAnalyzer
	prefixField.Store = false
	prefixField.IncludeTermVectors = false
	prefixField.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldPrefix, prefixField)

	kindField := bleve.NewTextFieldMapping()
	kindField.Analyzer = keyword.Name
	kindField.Store = true
	kindField.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldKind, kindField)

	timeField := bleve.NewNumericFieldMapping()
	timeField.Store = true
	timeField.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldAuthoredAt, timeField)

	metadataField := bleve.NewTextFieldMapping()
	metadataField.Index = false
	metadataField.Store = true
	metadataField.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldMetadata, metadataField)

	im.DefaultMapping = doc
	im.DefaultField = fieldBody
	return im
}

// docID builds the composite bleve document id. Ids are only unique per
// kind, so the kind is part of the identity.
func docID(kind model.DocKind, id string) string {
	return string(kind) + ":" + id
}

// Writer stages documents in a batch and applies them to the index on
// Commit, or earlier whenever the staged batch reaches the buffer budget.
// Documents applied by such an early flush are searchable before Commit.
// At most one writer is active per index.
type Writer struct {
	index       *Index
	batch       *bleve.Batch
	bufferBytes uint64
	staged      int
}

// NewWriter creates the index writer with the given staging budget in
// bytes; zero selects DefaultBufferBytes.
func (x *Index) NewWriter(bufferBytes uint64) (*Writer, error) {
	if x.closed {
		return nil, ErrClosed
	}
	if x.writer != nil {
		return nil, ErrWriterActive
	}
	if bufferBytes == 0 {
		bufferBytes = DefaultBufferBytes
	}
	w := &Writer{index: x, batch: x.index.NewBatch(), bufferBytes: bufferBytes}
	x.writer = w
	return w, nil
}

// Add stages one document, replacing any previous document with the same
// (kind, id). The staged batch auto-flushes when it exceeds the writer's
// buffer budget.
func (w *Writer) Add(doc *IndexedDoc) error {
	metadata := doc.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	// Composed and decomposed spellings must hit the same terms.
	body := norm.NFC.String(doc.Body)

	fields := map[string]any{
		fieldID:         doc.ID,
		fieldBody:       body,
		fieldPrefix:     generatePrefixes(body),
		fieldKind:       string(doc.Kind),
		fieldAuthoredAt: float64(doc.AuthoredAt),
		fieldMetadata:   string(metadata),
	}

	if err := w.batch.Index(docID(doc.Kind, doc.ID), fields); err != nil {
		return fmt.Errorf("lexical: stage document %s: %w", doc.ID, err)
	}
	w.staged++

	if w.batch.TotalDocsSize() >= w.bufferBytes {
		if err := w.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flush() error {
	if w.batch.Size() == 0 {
		return nil
	}
	if err := w.index.index.Batch(w.batch); err != nil {
		return fmt.Errorf("lexical: apply batch: %w", err)
	}
	w.index.logger.Debug("flushed index batch", "docs", w.staged)
	w.batch.Reset()
	return nil
}

// Commit applies everything still staged. Searches issued after Commit
// returns observe every document added so far; a crash before Commit
// loses only the documents not yet applied by an early flush.
func (w *Writer) Commit() error {
	if err := w.flush(); err != nil {
		return err
	}
	w.index.logger.Info("committed index batch", "docs", w.staged)
	w.staged = 0
	return nil
}

// Close releases the writer without publishing unstaged documents.
func (w *Writer) Close() {
	w.index.writer = nil
}

// Reload advances the reader to the latest committed snapshot. The
// underlying library publishes snapshots on commit, so this is the place
// where a future snapshot pin would be refreshed; searches issued after
// Reload are guaranteed to see every prior Commit.
func (x *Index) Reload() error {
	if x.closed {
		return ErrClosed
	}
	return nil
}

// Search runs a free-text query, optionally restricted to kinds, returning
// up to limit hits ordered by score descending.
//
// The query string supports the library's full syntax (phrases, +/-,
// field:term, ranges). A malformed query falls back to match-all so that
// kind restrictions and downstream filters still apply.
func (x *Index) Search(queryStr string, kinds []model.DocKind, limit int) ([]model.SearchHit, error) {
	if x.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	base := parseQueryOrMatchAll(norm.NFC.String(queryStr))

	var q query.Query = base
	if len(kinds) > 0 {
		kindQueries := make([]query.Query, 0, len(kinds))
		for _, kind := range kinds {
			tq := bleve.NewTermQuery(string(kind))
			tq.SetField(fieldKind)
			kindQueries = append(kindQueries, tq)
		}
		q = bleve.NewConjunctionQuery(base, bleve.NewDisjunctionQuery(kindQueries...))
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{fieldID, fieldBody, fieldKind, fieldAuthoredAt, fieldMetadata}

	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical: search: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, materializeHit(hit.Score, hit.Fields))
	}
	return hits, nil
}

// Get fetches the stored fields of a single document by (kind, id).
func (x *Index) Get(kind model.DocKind, id string) (*model.SearchHit, error) {
	if x.closed {
		return nil, ErrClosed
	}

	q := query.NewDocIDQuery([]string{docID(kind, id)})
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)
	req.Fields = []string{fieldID, fieldBody, fieldKind, fieldAuthoredAt, fieldMetadata}

	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical: get %s: %w", id, err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	hit := materializeHit(res.Hits[0].Score, res.Hits[0].Fields)
	return &hit, nil
}

// DocCount returns the number of indexed documents.
func (x *Index) DocCount() (uint64, error) {
	if x.closed {
		return 0, ErrClosed
	}
	return x.index.DocCount()
}

// Clear deletes every document and commits the empty state.
func (x *Index) Clear() error {
	if x.closed {
		return ErrClosed
	}
	if err := x.index.Close(); err != nil {
		return fmt.Errorf("lexical: close for clear: %w", err)
	}

	var idx bleve.Index
	var err error
	if x.path == "" {
		idx, err = bleve.NewMemOnly(buildMapping())
	} else {
		if err = os.RemoveAll(x.path); err != nil {
			return fmt.Errorf("lexical: remove %s: %w", x.path, err)
		}
		idx, err = bleve.New(x.path, buildMapping())
	}
	if err != nil {
		return fmt.Errorf("lexical: recreate index: %w", err)
	}
	x.index = idx
	x.writer = nil
	return nil
}

// Close releases the index and its on-disk lock.
func (x *Index) Close() error {
	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}

func parseQueryOrMatchAll(queryStr string) query.Query {
	qs := bleve.NewQueryStringQuery(queryStr)
	parsed, err := qs.Parse()
	if err != nil {
		// Soft fallback: filters still apply, the user never sees a
		// syntax error from free text.
		return bleve.NewMatchAllQuery()
	}
	return parsed
}

func materializeHit(score float64, fields map[string]any) model.SearchHit {
	hit := model.SearchHit{Score: score, Metadata: json.RawMessage("{}")}

	if v, ok := fields[fieldID].(string); ok {
		hit.ID = v
	}
	if v, ok := fields[fieldBody].(string); ok {
		hit.Body = v
	}
	if v, ok := fields[fieldKind].(string); ok {
		if kind, ok := model.ParseDocKind(v); ok {
			hit.Kind = kind
		}
	}
	if v, ok := fields[fieldAuthoredAt].(float64); ok {
		hit.AuthoredAt = timeFromEpoch(int64(v))
	}
	if v, ok := fields[fieldMetadata].(string); ok {
		if json.Valid([]byte(v)) {
			hit.Metadata = json.RawMessage(v)
		}
	}
	return hit
}

func timeFromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// generatePrefixes emits every lowercase prefix of length 2..min(15, len)
// for the first 50 words of at least two characters. The emitted string is
// tokenized by the prefix field's analyzer.
func generatePrefixes(text string) string {
	var prefixes strings.Builder

	words := 0
	for _, word := range strings.Fields(text) {
		if utf8.RuneCountInString(word) < 2 {
			continue
		}
		if words == prefixMaxWords {
			break
		}
		words++

		lower := strings.ToLower(word)
		chars := 0
		for l := 1; l <= len(lower); l++ {
			if !isBoundary(lower, l) {
				continue
			}
			chars++
			if chars > prefixMaxLen {
				break
			}
			if chars < 2 {
				continue
			}
			if prefixes.Len() > 0 {
				prefixes.WriteByte(' ')
			}
			prefixes.WriteString(lower[:l])
		}
	}

	return prefixes.String()
}

// isBoundary reports whether byte offset l is a rune boundary of s.
func isBoundary(s string, l int) bool {
	if l == len(s) {
		return true
	}
	return utf8.RuneStart(s[l])
}
