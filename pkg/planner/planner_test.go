package planner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/xf/pkg/canonical"
	"github.com/liliang-cn/xf/pkg/embed"
	"github.com/liliang-cn/xf/pkg/hybrid"
	"github.com/liliang-cn/xf/pkg/lexical"
	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/storage"
	"github.com/liliang-cn/xf/pkg/vector"
)

type testDoc struct {
	id         string
	kind       model.DocKind
	body       string
	authoredAt time.Time
	metadata   map[string]any
}

func buildPlanner(t *testing.T, docs []testDoc) *Planner {
	t.Helper()

	lex, err := lexical.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { lex.Close() })

	embedder, err := embed.NewHashEmbedder(64)
	require.NoError(t, err)
	vec := vector.New(64)

	w, err := lex.NewWriter(0)
	require.NoError(t, err)
	defer w.Close()

	ctx := context.Background()
	for _, d := range docs {
		metadata, err := json.Marshal(d.metadata)
		require.NoError(t, err)
		require.NoError(t, w.Add(&lexical.IndexedDoc{
			ID: d.id, Kind: d.kind, Body: d.body,
			AuthoredAt: d.authoredAt.Unix(), Metadata: metadata,
		}))

		canon := canonical.Canonicalize(d.body)
		if canon != "" {
			v, err := embedder.Embed(ctx, canon)
			require.NoError(t, err)
			vec.Add(d.id, d.kind, v)
		}
	}
	require.NoError(t, w.Commit())
	require.NoError(t, lex.Reload())

	return New(lex, WithVector(vec), WithEmbedder(embedder))
}

func postAt(id, body string, at time.Time, meta map[string]any) testDoc {
	return testDoc{id: id, kind: model.KindPost, body: body, authoredAt: at, metadata: meta}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDateWindowFilter(t *testing.T) {
	p := buildPlanner(t, []testDoc{
		postAt("early", "festival announcement one", day(2024, 1, 1), nil),
		postAt("mid", "festival announcement two", day(2024, 6, 15), nil),
		postAt("late", "festival announcement three", day(2025, 1, 1), nil),
	})

	since := day(2024, 2, 1)
	until := day(2024, 12, 31)
	hits, err := p.Execute(context.Background(), &Request{
		Query: "festival", Limit: 10, Mode: hybrid.ModeLexical,
		Since: &since, Until: &until,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "mid", hits[0].ID)
	require.True(t, !hits[0].AuthoredAt.Before(since) && !hits[0].AuthoredAt.After(until))
}

func TestDateWindowExemptsNonPosts(t *testing.T) {
	p := buildPlanner(t, []testDoc{
		postAt("old-post", "shared topic", day(2020, 1, 1), nil),
		{id: "m1", kind: model.KindMessage, body: "shared topic", authoredAt: day(2020, 1, 1)},
	})

	since := day(2024, 1, 1)
	hits, err := p.Execute(context.Background(), &Request{
		Query: "shared", Limit: 10, Mode: hybrid.ModeLexical, Since: &since,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, model.KindMessage, hits[0].Kind)
}

func TestReplyFilters(t *testing.T) {
	p := buildPlanner(t, []testDoc{
		postAt("top", "discussion thread start", day(2024, 1, 1), nil),
		postAt("reply", "discussion thread reply", day(2024, 1, 2),
			map[string]any{"reply_parent_author": "someone"}),
	})

	hits, err := p.Execute(context.Background(), &Request{
		Query: "discussion", Limit: 10, Mode: hybrid.ModeLexical, RepliesOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "reply", hits[0].ID)

	hits, err = p.Execute(context.Background(), &Request{
		Query: "discussion", Limit: 10, Mode: hybrid.ModeLexical, NoReplies: true,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "top", hits[0].ID)

	_, err = p.Execute(context.Background(), &Request{
		Query: "discussion", Limit: 10, RepliesOnly: true, NoReplies: true,
	})
	require.Error(t, err)
}

func TestSortOrders(t *testing.T) {
	p := buildPlanner(t, []testDoc{
		postAt("a", "ranking subject alpha", day(2024, 1, 1),
			map[string]any{"favorite_count": 1, "reshare_count": 0}),
		postAt("b", "ranking subject beta", day(2024, 3, 1),
			map[string]any{"favorite_count": 100, "reshare_count": 20}),
		postAt("c", "ranking subject gamma", day(2024, 2, 1),
			map[string]any{"favorite_count": 5, "reshare_count": 5}),
	})
	ctx := context.Background()

	hits, err := p.Execute(ctx, &Request{
		Query: "ranking", Limit: 10, Mode: hybrid.ModeLexical, Sort: SortDateAsc,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "b"}, ids(hits))

	hits, err = p.Execute(ctx, &Request{
		Query: "ranking", Limit: 10, Mode: hybrid.ModeLexical, Sort: SortDateDesc,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, ids(hits))

	hits, err = p.Execute(ctx, &Request{
		Query: "ranking", Limit: 10, Mode: hybrid.ModeLexical, Sort: SortEngagement,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, ids(hits))
}

func TestOffsetAndLimit(t *testing.T) {
	docs := make([]testDoc, 0, 5)
	bodies := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for i, suffix := range bodies {
		docs = append(docs, postAt("p"+suffix, "pagination item "+suffix, day(2024, 1, i+1), nil))
	}
	p := buildPlanner(t, docs)

	all, err := p.Execute(context.Background(), &Request{
		Query: "pagination", Limit: 10, Mode: hybrid.ModeLexical, Sort: SortDateAsc,
	})
	require.NoError(t, err)
	require.Len(t, all, 5)

	page, err := p.Execute(context.Background(), &Request{
		Query: "pagination", Limit: 2, Offset: 2, Mode: hybrid.ModeLexical, Sort: SortDateAsc,
	})
	require.NoError(t, err)
	require.Equal(t, ids(all)[2:4], ids(page))

	none, err := p.Execute(context.Background(), &Request{
		Query: "pagination", Limit: 10, Offset: 99, Mode: hybrid.ModeLexical,
	})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestHybridBoostsDualMatches(t *testing.T) {
	p := buildPlanner(t, []testDoc{
		postAt("both", "quantum computing research", day(2024, 1, 1), nil),
		postAt("lexonly", "quantum", day(2024, 1, 2), nil),
		postAt("other", "gardening tips", day(2024, 1, 3), nil),
	})

	hits, err := p.Execute(context.Background(), &Request{
		Query: "quantum computing research", Limit: 10, Mode: hybrid.ModeHybrid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "both", hits[0].ID)
}

func TestSemanticModeResolvesStoredFields(t *testing.T) {
	p := buildPlanner(t, []testDoc{
		postAt("s1", "solar panel installation guide", day(2024, 1, 1), nil),
		postAt("s2", "cooking pasta at home", day(2024, 1, 2), nil),
	})

	hits, err := p.Execute(context.Background(), &Request{
		Query: "solar panel installation", Limit: 5, Mode: hybrid.ModeSemantic,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "s1", hits[0].ID)
	require.Equal(t, "solar panel installation guide", hits[0].Body)
	require.False(t, hits[0].AuthoredAt.IsZero())
}

func TestHybridFallsBackWithoutEmbedder(t *testing.T) {
	lex, err := lexical.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { lex.Close() })

	w, err := lex.NewWriter(0)
	require.NoError(t, err)
	require.NoError(t, w.Add(&lexical.IndexedDoc{ID: "p1", Kind: model.KindPost, Body: "fallback case"}))
	require.NoError(t, w.Commit())
	w.Close()

	p := New(lex)
	hits, err := p.Execute(context.Background(), &Request{
		Query: "fallback", Limit: 10, Mode: hybrid.ModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "p1", hits[0].ID)
}

func TestResolveChatbotFromStoreFallback(t *testing.T) {
	// A vector entry can precede its index snapshot: the store must be able
	// to materialize a chatbot hit the index cannot.
	lex, err := lexical.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { lex.Close() })

	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	turn := model.ChatbotTurn{
		ChatID: "c1", Body: "Explain goroutines in depth", Sender: "USER",
		SentAt: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
	}
	_, err = store.UpsertChatbot(ctx, []model.ChatbotTurn{turn})
	require.NoError(t, err)

	embedder, err := embed.NewHashEmbedder(64)
	require.NoError(t, err)
	v, err := embedder.Embed(ctx, canonical.Canonicalize(turn.Body))
	require.NoError(t, err)
	vec := vector.New(64)
	vec.Add(turn.DocID(), model.KindChatbot, v)

	p := New(lex,
		WithVector(vec),
		WithEmbedder(embedder),
		WithStore(store),
	)

	hits, err := p.Execute(ctx, &Request{
		Query: "explain goroutines", Limit: 5, Mode: hybrid.ModeSemantic,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, model.KindChatbot, hits[0].Kind)
	require.Equal(t, turn.DocID(), hits[0].ID)
	require.Equal(t, "Explain goroutines in depth", hits[0].Body)
	require.Equal(t, "c1", hits[0].MetadataString("chat_id"))
}

func TestZeroLimit(t *testing.T) {
	p := buildPlanner(t, []testDoc{postAt("p1", "anything", day(2024, 1, 1), nil)})
	hits, err := p.Execute(context.Background(), &Request{Query: "anything", Limit: 0})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func ids(hits []model.SearchHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}
