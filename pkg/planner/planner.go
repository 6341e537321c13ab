// Package planner resolves a search request into a lexical, semantic, or
// hybrid pipeline and applies post-filters, sorting, and pagination.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/liliang-cn/xf/internal/logging"
	"github.com/liliang-cn/xf/pkg/canonical"
	"github.com/liliang-cn/xf/pkg/embed"
	"github.com/liliang-cn/xf/pkg/hybrid"
	"github.com/liliang-cn/xf/pkg/lexical"
	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/storage"
	"github.com/liliang-cn/xf/pkg/vector"
)

// Sort selects the result ordering.
type Sort int

const (
	// SortRelevance keeps the pipeline's own ranking.
	SortRelevance Sort = iota
	// SortDateAsc orders oldest first.
	SortDateAsc
	// SortDateDesc orders newest first.
	SortDateDesc
	// SortEngagement orders by favorites plus reshares, descending.
	SortEngagement
)

// ParseSort maps CLI sort names to Sort values.
func ParseSort(s string) (Sort, error) {
	switch s {
	case "", "relevance":
		return SortRelevance, nil
	case "date":
		return SortDateAsc, nil
	case "date-desc":
		return SortDateDesc, nil
	case "engagement":
		return SortEngagement, nil
	}
	return SortRelevance, fmt.Errorf("unknown sort order %q: use relevance, date, date-desc, or engagement", s)
}

// Request describes one search.
type Request struct {
	Query       string
	Kinds       []model.DocKind
	Limit       int
	Offset      int
	Sort        Sort
	Since       *time.Time
	Until       *time.Time
	RepliesOnly bool
	NoReplies   bool
	Mode        hybrid.Mode
}

// Planner executes search requests against the lexical index and,
// when an embedder and vector index are available, the semantic index.
type Planner struct {
	lex      *lexical.Index
	vec      *vector.Index
	store    *storage.Store
	embedder embed.Embedder
	logger   logging.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithVector attaches the vector index used by semantic and hybrid modes.
func WithVector(v *vector.Index) Option {
	return func(p *Planner) { p.vec = v }
}

// WithEmbedder attaches the query embedder.
func WithEmbedder(e embed.Embedder) Option {
	return func(p *Planner) { p.embedder = e }
}

// WithStore attaches the store used as stored-field fallback.
func WithStore(s *storage.Store) Option {
	return func(p *Planner) { p.store = s }
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// New creates a planner over the lexical index.
func New(lex *lexical.Index, opts ...Option) *Planner {
	p := &Planner{lex: lex, logger: logging.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// semanticAvailable reports whether semantic search can run.
func (p *Planner) semanticAvailable() bool {
	return p.embedder != nil && p.vec != nil && p.vec.Len() > 0
}

// Execute runs the request and returns the final page of hits.
func (p *Planner) Execute(ctx context.Context, req *Request) ([]model.SearchHit, error) {
	if req.Limit <= 0 {
		return nil, nil
	}
	if req.RepliesOnly && req.NoReplies {
		return nil, errors.New("planner: replies-only and no-replies are mutually exclusive")
	}

	target := req.Limit + req.Offset
	needsFilter := req.Since != nil || req.Until != nil || req.RepliesOnly || req.NoReplies
	needsFullSort := req.Sort != SortRelevance

	maxDocs := target
	if needsFilter || needsFullSort {
		count, err := p.lex.DocCount()
		if err != nil {
			return nil, err
		}
		if count > uint64(maxDocs) {
			maxDocs = int(count)
		}
	}

	fetchLimit := target
	if needsFullSort {
		// A non-relevance order ranks every match, not just the most
		// relevant L+O, so the page is cut from the fully sorted set.
		fetchLimit = maxDocs
	}
	if fetchLimit > maxDocs {
		fetchLimit = maxDocs
	}

	var results []model.SearchHit
	for {
		batch, err := p.fetch(ctx, req, fetchLimit)
		if err != nil {
			return nil, err
		}
		if needsFilter {
			batch = applyFilters(batch, req)
		}

		if len(batch) >= target || fetchLimit >= maxDocs {
			results = batch
			break
		}
		next := fetchLimit * 2
		if next <= fetchLimit {
			next = fetchLimit + 1
		}
		if next > maxDocs {
			next = maxDocs
		}
		fetchLimit = next
	}

	applySort(results, req.Sort)

	if req.Offset >= len(results) {
		return nil, nil
	}
	results = results[req.Offset:]
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// fetch runs one pipeline pass with the given candidate budget.
func (p *Planner) fetch(ctx context.Context, req *Request, fetchLimit int) ([]model.SearchHit, error) {
	mode := req.Mode
	if mode != hybrid.ModeLexical && !p.semanticAvailable() {
		mode = hybrid.ModeLexical
	}

	// The lexical query runs for every mode. In semantic mode its list is
	// discarded after acting as a segment warmup for the fallback path.
	lexLimit := fetchLimit
	if mode != hybrid.ModeLexical {
		lexLimit = hybrid.CandidateCount(fetchLimit, 0)
	}
	lexHits, err := p.lex.Search(req.Query, req.Kinds, lexLimit)
	if err != nil {
		return nil, err
	}

	if mode == hybrid.ModeLexical {
		return lexHits, nil
	}

	semHits, err := p.semanticSearch(ctx, req, hybrid.CandidateCount(fetchLimit, 0))
	if err != nil {
		return nil, err
	}

	if mode == hybrid.ModeSemantic {
		return p.resolve(ctx, hybrid.Fuse(nil, semHits, fetchLimit, 0))
	}

	fused := hybrid.Fuse(lexHits, semHits, fetchLimit, 0)
	return p.resolve(ctx, fused)
}

// semanticSearch embeds the canonicalized query and scans the vector
// index. An empty canonical query yields no semantic candidates.
func (p *Planner) semanticSearch(ctx context.Context, req *Request, k int) ([]vector.SearchResult, error) {
	canon := canonical.Canonicalize(req.Query)
	if canon == "" {
		return nil, nil
	}

	queryVec, err := p.embedder.Embed(ctx, canon)
	if err != nil {
		p.logger.Warn("query embedding failed", "error", err)
		return nil, nil
	}

	return p.vec.SearchTopKParallel(queryVec, k, req.Kinds), nil
}

// resolve materializes fused hits into full SearchHits. The lexical index
// is authoritative for stored fields in the current snapshot; the store
// fills in documents the index has not published yet.
func (p *Planner) resolve(ctx context.Context, fused []hybrid.FusedHit) ([]model.SearchHit, error) {
	hits := make([]model.SearchHit, 0, len(fused))
	for _, f := range fused {
		hit, err := p.lex.Get(f.Kind, f.ID)
		if err != nil {
			return nil, err
		}
		if hit == nil {
			hit = p.resolveFromStore(ctx, f.Kind, f.ID)
		}
		if hit == nil {
			continue
		}
		hit.Score = f.Score
		hits = append(hits, *hit)
	}
	return hits, nil
}

func (p *Planner) resolveFromStore(ctx context.Context, kind model.DocKind, id string) *model.SearchHit {
	if p.store == nil {
		return nil
	}

	switch kind {
	case model.KindPost:
		post, err := p.store.GetPost(ctx, id)
		if err != nil {
			return nil
		}
		metadata, _ := json.Marshal(map[string]any{
			"favorite_count":      post.FavoriteCount,
			"reshare_count":       post.ReshareCount,
			"reply_parent_author": post.ReplyParentAuthor,
		})
		return &model.SearchHit{
			Kind:       kind,
			ID:         post.ID,
			Body:       post.Body,
			AuthoredAt: post.AuthoredAt,
			Metadata:   metadata,
		}
	case model.KindLiked:
		liked, err := p.store.GetLiked(ctx, id)
		if err != nil {
			return nil
		}
		return &model.SearchHit{
			Kind:     kind,
			ID:       liked.ID,
			Body:     liked.Body,
			Metadata: json.RawMessage("{}"),
		}
	case model.KindMessage:
		msg, err := p.store.GetMessage(ctx, id)
		if err != nil {
			return nil
		}
		metadata, _ := json.Marshal(map[string]any{
			"conversation_id": msg.ConversationID,
			"sender_id":       msg.SenderID,
		})
		return &model.SearchHit{
			Kind:       kind,
			ID:         msg.ID,
			Body:       msg.Body,
			AuthoredAt: msg.SentAt,
			Metadata:   metadata,
		}
	case model.KindChatbot:
		turn, err := p.store.GetChatbotTurn(ctx, id)
		if err != nil {
			return nil
		}
		metadata, _ := json.Marshal(map[string]any{
			"chat_id": turn.ChatID,
			"sender":  turn.Sender,
			"mode":    turn.Mode,
		})
		return &model.SearchHit{
			Kind:       kind,
			ID:         id,
			Body:       turn.Body,
			AuthoredAt: turn.SentAt,
			Metadata:   metadata,
		}
	default:
		return nil
	}
}

// applyFilters drops hits outside the date window and applies the reply
// predicate. Both only constrain post hits.
func applyFilters(hits []model.SearchHit, req *Request) []model.SearchHit {
	kept := hits[:0]
	for _, h := range hits {
		// Both filters constrain posts only; other kinds pass through.
		if h.Kind == model.KindPost {
			if req.Since != nil && h.AuthoredAt.Before(*req.Since) {
				continue
			}
			if req.Until != nil && h.AuthoredAt.After(*req.Until) {
				continue
			}
			if req.RepliesOnly && !h.IsReply() {
				continue
			}
			if req.NoReplies && h.IsReply() {
				continue
			}
		}
		kept = append(kept, h)
	}
	return kept
}

func applySort(hits []model.SearchHit, order Sort) {
	switch order {
	case SortRelevance:
	case SortDateAsc:
		sort.SliceStable(hits, func(i, j int) bool {
			if !hits[i].AuthoredAt.Equal(hits[j].AuthoredAt) {
				return hits[i].AuthoredAt.Before(hits[j].AuthoredAt)
			}
			return hits[i].Score > hits[j].Score
		})
	case SortDateDesc:
		sort.SliceStable(hits, func(i, j int) bool {
			if !hits[i].AuthoredAt.Equal(hits[j].AuthoredAt) {
				return hits[i].AuthoredAt.After(hits[j].AuthoredAt)
			}
			return hits[i].Score > hits[j].Score
		})
	case SortEngagement:
		sort.SliceStable(hits, func(i, j int) bool {
			ei, ej := engagementScore(&hits[i]), engagementScore(&hits[j])
			if ei != ej {
				return ei > ej
			}
			return hits[i].AuthoredAt.After(hits[j].AuthoredAt)
		})
	}
}

// engagementScore sums favorites and reshares; non-post hits score zero.
func engagementScore(h *model.SearchHit) int64 {
	if h.Kind != model.KindPost {
		return 0
	}
	return h.MetadataInt64("favorite_count") + h.MetadataInt64("reshare_count")
}
