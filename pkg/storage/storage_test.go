package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liliang-cn/xf/pkg/canonical"
	"github.com/liliang-cn/xf/pkg/embed"
	"github.com/liliang-cn/xf/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPost(id, body string) model.Post {
	return model.Post{
		ID:            id,
		AuthoredAt:    time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
		Body:          body,
		FavoriteCount: 10,
		ReshareCount:  5,
		LanguageTag:   "en",
		Hashtags:      []string{"rust"},
		Mentions:      []model.Mention{},
		Links:         []model.Link{},
		Attachments:   []model.Attachment{},
	}
}

func TestSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != schemaVersion {
		t.Errorf("version = %d, want %d", version, schemaVersion)
	}
}

func TestUpsertAndGetPost(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	count, err := s.UpsertPosts(ctx, []model.Post{
		testPost("1", "First post about Rust"),
		testPost("2", "Second post about programming"),
	})
	if err != nil {
		t.Fatalf("UpsertPosts() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	post, err := s.GetPost(ctx, "1")
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if post.Body != "First post about Rust" {
		t.Errorf("body = %q", post.Body)
	}
	if len(post.Hashtags) != 1 || post.Hashtags[0] != "rust" {
		t.Errorf("hashtags = %v", post.Hashtags)
	}
}

func TestGetPostNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetPost(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertReplacesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertPosts(ctx, []model.Post{testPost("1", "first body")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPosts(ctx, []model.Post{testPost("1", "second body")}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Posts != 1 {
		t.Errorf("posts = %d, want 1", stats.Posts)
	}

	post, _ := s.GetPost(ctx, "1")
	if post.Body != "second body" {
		t.Errorf("body = %q, want the second body", post.Body)
	}

	// The FTS mirror must follow the replacement.
	if hits, _ := s.SearchPostsFTS(ctx, "first", 10); len(hits) != 0 {
		t.Errorf("stale FTS row: %+v", hits)
	}
	hits, err := s.SearchPostsFTS(ctx, "second", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "1" {
		t.Errorf("FTS after replace: %+v", hits)
	}
}

func TestSearchPostsFTS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertPosts(ctx, []model.Post{
		testPost("1", "Rust programming is awesome"),
		testPost("2", "Python programming is also good"),
		testPost("3", "Hello world example"),
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchPostsFTS(ctx, "programming", 10)
	if err != nil {
		t.Fatalf("SearchPostsFTS() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("len = %d, want 2", len(results))
	}

	results, _ = s.SearchPostsFTS(ctx, "rust", 10)
	if len(results) != 1 || results[0].ID != "1" {
		t.Errorf("rust results: %+v", results)
	}
}

func TestUpsertLiked(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	count, err := s.UpsertLiked(ctx, []model.LikedPost{
		{ID: "l1", Body: "Great content about Rust"},
		{ID: "l2", Body: "Another liked post"},
		{ID: "l3"}, // no body, no FTS row
	})
	if err != nil {
		t.Fatalf("UpsertLiked() error = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	results, err := s.SearchLikedFTS(ctx, "rust", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "l1" {
		t.Errorf("results = %+v", results)
	}
}

func TestUpsertConversationsSortsMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conv := model.Conversation{
		ConversationID: "conv1",
		Messages: []model.Message{
			{ID: "m3", ConversationID: "conv1", SenderID: "u1", RecipientID: "u2",
				Body: "third", SentAt: base.Add(2 * time.Hour)},
			{ID: "m1", ConversationID: "conv1", SenderID: "u1", RecipientID: "u2",
				Body: "tied early", SentAt: base},
			{ID: "m0", ConversationID: "conv1", SenderID: "u2", RecipientID: "u1",
				Body: "also tied", SentAt: base},
		},
	}

	count, err := s.UpsertConversations(ctx, []model.Conversation{conv})
	if err != nil {
		t.Fatalf("UpsertConversations() error = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	messages, err := s.GetConversationMessages(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("len = %d, want 3", len(messages))
	}
	// Ascending by sent_at, ties broken by id.
	if messages[0].ID != "m0" || messages[1].ID != "m1" || messages[2].ID != "m3" {
		t.Errorf("order = %s, %s, %s", messages[0].ID, messages[1].ID, messages[2].ID)
	}
}

func TestUpsertChatbotDedupes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sentAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	turn := model.ChatbotTurn{ChatID: "chat1", Body: "What is AI?", Sender: "user", SentAt: sentAt}

	if _, err := s.UpsertChatbot(ctx, []model.ChatbotTurn{turn}); err != nil {
		t.Fatal(err)
	}

	// Re-ingesting the same (chat_id, sent_at) replaces, not duplicates.
	turn.Body = "What is AI, really?"
	if _, err := s.UpsertChatbot(ctx, []model.ChatbotTurn{turn}); err != nil {
		t.Fatal(err)
	}

	stats, _ := s.GetStats(ctx)
	if stats.ChatbotTurns != 1 {
		t.Errorf("chatbot turns = %d, want 1", stats.ChatbotTurns)
	}

	turns, err := s.ListChatbotTurns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Body != "What is AI, really?" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestGetChatbotTurn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sentAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	turn := model.ChatbotTurn{
		ChatID: "chat_a", Body: "Explain channels", Sender: "user",
		SentAt: sentAt, Mode: "fun",
	}
	if _, err := s.UpsertChatbot(ctx, []model.ChatbotTurn{turn}); err != nil {
		t.Fatal(err)
	}

	// Looked up by the synthetic doc id, underscore in the chat id and all.
	got, err := s.GetChatbotTurn(ctx, turn.DocID())
	if err != nil {
		t.Fatalf("GetChatbotTurn() error = %v", err)
	}
	if got.ChatID != "chat_a" || got.Body != "Explain channels" || got.Mode != "fun" {
		t.Errorf("turn = %+v", got)
	}
	if !got.SentAt.Equal(sentAt) {
		t.Errorf("sent_at = %v, want %v", got.SentAt, sentAt)
	}

	for _, docID := range []string{"chat_a_999", "no-separator", "chat_a_notanumber"} {
		if _, err := s.GetChatbotTurn(ctx, docID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetChatbotTurn(%q) err = %v, want ErrNotFound", docID, err)
		}
	}
}

func TestUpsertRelations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	kinds := []model.RelationKind{
		model.RelationFollowers, model.RelationFollowing,
		model.RelationBlocks, model.RelationMutes,
	}
	for _, kind := range kinds {
		count, err := s.UpsertRelations(ctx, kind, []model.Relation{
			{AccountID: "123", ProfileURL: "https://example.com/123"},
			{AccountID: "456"},
		})
		if err != nil {
			t.Fatalf("UpsertRelations(%s) error = %v", kind, err)
		}
		if count != 2 {
			t.Errorf("%s count = %d, want 2", kind, count)
		}

		relations, err := s.ListRelations(ctx, kind, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(relations) != 2 {
			t.Errorf("%s list = %+v", kind, relations)
		}
	}

	stats, _ := s.GetStats(ctx)
	if stats.Followers != 2 || stats.Following != 2 || stats.Blocks != 2 || stats.Mutes != 2 {
		t.Errorf("relation stats = %+v", stats)
	}
}

func TestArchiveMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := &model.ArchiveMeta{
		AccountID:   "99",
		Handle:      "someone",
		DisplayName: "Some One",
		ByteSize:    1024,
		GeneratedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		IsPartial:   true,
	}
	if err := s.StoreArchiveMeta(ctx, meta); err != nil {
		t.Fatalf("StoreArchiveMeta() error = %v", err)
	}

	got, err := s.GetArchiveMeta(ctx)
	if err != nil {
		t.Fatalf("GetArchiveMeta() error = %v", err)
	}
	if got.Handle != "someone" || !got.IsPartial || got.ByteSize != 1024 {
		t.Errorf("meta = %+v", got)
	}
	if !got.GeneratedAt.Equal(meta.GeneratedAt) {
		t.Errorf("generated_at = %v", got.GeneratedAt)
	}
}

func TestStatsDateRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	early := testPost("1", "early")
	early.AuthoredAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	late := testPost("2", "late")
	late.AuthoredAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.UpsertPosts(ctx, []model.Post{early, late}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FirstPostAt == nil || !stats.FirstPostAt.Equal(early.AuthoredAt) {
		t.Errorf("first = %v", stats.FirstPostAt)
	}
	if stats.LastPostAt == nil || !stats.LastPostAt.Equal(late.AuthoredAt) {
		t.Errorf("last = %v", stats.LastPostAt)
	}
}

func TestEmbeddingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hash := canonical.ContentHash("some body")
	vec := make([]float32, 8)
	vec[0] = 1
	embed.L2Normalize(vec)

	if err := s.StoreEmbedding(ctx, "doc1", model.KindPost, hash, vec); err != nil {
		t.Fatalf("StoreEmbedding() error = %v", err)
	}

	// Same id under a different kind is a distinct row.
	if err := s.StoreEmbedding(ctx, "doc1", model.KindLiked, hash, vec); err != nil {
		t.Fatal(err)
	}

	entries, err := s.LoadAllEmbeddings(ctx)
	if err != nil {
		t.Fatalf("LoadAllEmbeddings() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.DocID != "doc1" || len(e.Embedding) != 8 {
			t.Errorf("entry = %+v", e)
		}
	}
}

func TestEmbeddingHashSkip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hash := canonical.ContentHash("stable body")
	vec := []float32{1, 0, 0, 0}

	if _, ok, err := s.EmbeddingHash(ctx, "doc1", model.KindPost); err != nil || ok {
		t.Fatalf("expected no stored hash, got ok=%v err=%v", ok, err)
	}

	if err := s.StoreEmbedding(ctx, "doc1", model.KindPost, hash, vec); err != nil {
		t.Fatal(err)
	}

	stored, ok, err := s.EmbeddingHash(ctx, "doc1", model.KindPost)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || stored != hash {
		t.Errorf("stored hash mismatch: ok=%v", ok)
	}

	// Replacing with a new hash updates the row in place.
	hash2 := canonical.ContentHash("changed body")
	if err := s.StoreEmbedding(ctx, "doc1", model.KindPost, hash2, vec); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.LoadAllEmbeddings(ctx)
	if len(entries) != 1 {
		t.Errorf("len = %d, want 1 after replace", len(entries))
	}
}

func TestClosedStore(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := s.GetStats(context.Background()); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("err = %v, want ErrStoreClosed", err)
	}
}
