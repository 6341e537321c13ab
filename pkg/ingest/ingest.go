// Package ingest coordinates one archive indexing run: parse the export,
// store rows, feed the lexical index, and embed canonical bodies.
//
// Publication order per batch is store commit, index commit, reader
// reload, so a racing search sees at worst the previous index snapshot.
package ingest

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/xf/internal/logging"
	"github.com/liliang-cn/xf/pkg/archive"
	"github.com/liliang-cn/xf/pkg/canonical"
	"github.com/liliang-cn/xf/pkg/embed"
	"github.com/liliang-cn/xf/pkg/lexical"
	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/storage"
	"github.com/liliang-cn/xf/pkg/vector"
)

// Options tunes one ingest run.
type Options struct {
	// BufferBytes is the lexical writer staging budget.
	BufferBytes uint64
	// Threads bounds parallel parsing; 0 means one per CPU.
	Threads int
	// SkipKinds are doc kinds excluded from this run.
	SkipKinds []model.DocKind
	// Embedder, when set, computes and stores document embeddings.
	Embedder embed.Embedder
	// VectorPath, when set with Embedder, is where the vector file is
	// written after ingest.
	VectorPath string
	// Logger receives progress; nil keeps the logger given to New.
	Logger logging.Logger
}

// Counts reports what one run ingested.
type Counts struct {
	Posts         int
	Liked         int
	Messages      int
	ChatbotTurns  int
	Followers     int
	Following     int
	Blocks        int
	Mutes         int
	Embedded      int
	EmbedsSkipped int
}

// Indexer ties the parser, store, and lexical index together.
type Indexer struct {
	store  *storage.Store
	lex    *lexical.Index
	logger logging.Logger
}

// New creates an Indexer.
func New(store *storage.Store, lex *lexical.Index, logger logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Indexer{store: store, lex: lex, logger: logger}
}

type parsed struct {
	meta          *model.ArchiveMeta
	posts         []model.Post
	liked         []model.LikedPost
	conversations []model.Conversation
	turns         []model.ChatbotTurn
	relations     map[model.RelationKind][]model.Relation
}

// Run ingests the archive at archivePath.
func (ix *Indexer) Run(ctx context.Context, archivePath string, opts Options) (*Counts, error) {
	if opts.Logger != nil {
		ix.logger = opts.Logger
	}

	parser, err := archive.NewParser(archivePath, archive.WithLogger(ix.logger))
	if err != nil {
		return nil, err
	}
	if !parser.HasData() {
		return nil, archive.ErrNotAnArchive
	}

	data, err := ix.parseAll(ctx, parser, opts)
	if err != nil {
		return nil, err
	}

	counts := &Counts{}
	if err := ix.storeAll(ctx, data, counts); err != nil {
		return nil, err
	}
	if err := ix.indexAll(data, opts, counts); err != nil {
		return nil, err
	}
	if opts.Embedder != nil {
		if err := ix.embedAll(ctx, data, opts, counts); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// parseAll reads every data type, fanning out across a bounded pool.
func (ix *Indexer) parseAll(ctx context.Context, parser *archive.Parser, opts Options) (*parsed, error) {
	skip := make(map[model.DocKind]bool, len(opts.SkipKinds))
	for _, k := range opts.SkipKinds {
		skip[k] = true
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	data := &parsed{relations: make(map[model.RelationKind][]model.Relation)}
	relations := []model.RelationKind{
		model.RelationFollowers, model.RelationFollowing,
		model.RelationBlocks, model.RelationMutes,
	}
	relationOut := make([][]model.Relation, len(relations))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	if !skip[model.KindPost] {
		g.Go(func() error {
			var err error
			data.posts, err = parser.Posts()
			return err
		})
	}
	if !skip[model.KindLiked] {
		g.Go(func() error {
			var err error
			data.liked, err = parser.Liked()
			return err
		})
	}
	if !skip[model.KindMessage] {
		g.Go(func() error {
			var err error
			data.conversations, err = parser.Conversations()
			return err
		})
	}
	if !skip[model.KindChatbot] {
		g.Go(func() error {
			var err error
			data.turns, err = parser.ChatbotTurns()
			return err
		})
	}
	for i, kind := range relations {
		i, kind := i, kind
		g.Go(func() error {
			var err error
			relationOut[i], err = parser.Relations(kind)
			return err
		})
	}
	g.Go(func() error {
		meta, err := parser.Meta()
		if err != nil {
			// An export without a manifest is still searchable.
			ix.logger.Warn("no archive manifest", "error", err)
			return nil
		}
		data.meta = meta
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, kind := range relations {
		data.relations[kind] = relationOut[i]
	}
	return data, nil
}

// storeAll writes every parsed batch to the store, one transaction each.
func (ix *Indexer) storeAll(ctx context.Context, data *parsed, counts *Counts) error {
	if data.meta != nil {
		if err := ix.store.StoreArchiveMeta(ctx, data.meta); err != nil {
			return err
		}
	}

	var err error
	if counts.Posts, err = ix.store.UpsertPosts(ctx, data.posts); err != nil {
		return err
	}
	if counts.Liked, err = ix.store.UpsertLiked(ctx, data.liked); err != nil {
		return err
	}
	if counts.Messages, err = ix.store.UpsertConversations(ctx, data.conversations); err != nil {
		return err
	}
	if counts.ChatbotTurns, err = ix.store.UpsertChatbot(ctx, data.turns); err != nil {
		return err
	}

	relationCounts := map[model.RelationKind]*int{
		model.RelationFollowers: &counts.Followers,
		model.RelationFollowing: &counts.Following,
		model.RelationBlocks:    &counts.Blocks,
		model.RelationMutes:     &counts.Mutes,
	}
	for kind, dest := range relationCounts {
		n, err := ix.store.UpsertRelations(ctx, kind, data.relations[kind])
		if err != nil {
			return err
		}
		*dest = n
	}
	return nil
}

// indexAll feeds every searchable record to the lexical index and commits
// once at the end.
func (ix *Indexer) indexAll(data *parsed, opts Options, counts *Counts) error {
	writer, err := ix.lex.NewWriter(opts.BufferBytes)
	if err != nil {
		return err
	}
	defer writer.Close()

	for i := range data.posts {
		if err := writer.Add(postDoc(&data.posts[i])); err != nil {
			return err
		}
	}
	for i := range data.liked {
		l := &data.liked[i]
		if l.Body == "" {
			continue
		}
		metadata, _ := json.Marshal(map[string]any{"expanded_url": l.ExpandedURL})
		doc := &lexical.IndexedDoc{
			ID: l.ID, Kind: model.KindLiked, Body: l.Body, Metadata: metadata,
		}
		if err := writer.Add(doc); err != nil {
			return err
		}
	}
	for i := range data.conversations {
		conv := &data.conversations[i]
		for j := range conv.Messages {
			m := &conv.Messages[j]
			metadata, _ := json.Marshal(map[string]any{
				"conversation_id": m.ConversationID,
				"sender_id":       m.SenderID,
				"recipient_id":    m.RecipientID,
			})
			doc := &lexical.IndexedDoc{
				ID: m.ID, Kind: model.KindMessage, Body: m.Body,
				AuthoredAt: m.SentAt.Unix(), Metadata: metadata,
			}
			if err := writer.Add(doc); err != nil {
				return err
			}
		}
	}
	for i := range data.turns {
		t := &data.turns[i]
		metadata, _ := json.Marshal(map[string]any{
			"chat_id": t.ChatID,
			"sender":  t.Sender,
			"mode":    t.Mode,
		})
		doc := &lexical.IndexedDoc{
			ID: t.DocID(), Kind: model.KindChatbot, Body: t.Body,
			AuthoredAt: t.SentAt.Unix(), Metadata: metadata,
		}
		if err := writer.Add(doc); err != nil {
			return err
		}
	}

	if err := writer.Commit(); err != nil {
		return err
	}
	return ix.lex.Reload()
}

func postDoc(p *model.Post) *lexical.IndexedDoc {
	metadata, _ := json.Marshal(map[string]any{
		"favorite_count":      p.FavoriteCount,
		"reshare_count":       p.ReshareCount,
		"reply_parent_id":     p.ReplyParentID,
		"reply_parent_author": p.ReplyParentAuthor,
		"hashtags":            p.Hashtags,
		"source":              p.SourceLabel,
	})
	return &lexical.IndexedDoc{
		ID: p.ID, Kind: model.KindPost, Body: p.Body,
		AuthoredAt: p.AuthoredAt.Unix(), Metadata: metadata,
	}
}

type embedJob struct {
	docID string
	kind  model.DocKind
	body  string
}

// embedAll canonicalizes and embeds every searchable body, skipping
// documents whose content hash is unchanged, then writes the vector file.
func (ix *Indexer) embedAll(ctx context.Context, data *parsed, opts Options, counts *Counts) error {
	var jobs []embedJob
	for i := range data.posts {
		jobs = append(jobs, embedJob{data.posts[i].ID, model.KindPost, data.posts[i].Body})
	}
	for i := range data.liked {
		if data.liked[i].Body != "" {
			jobs = append(jobs, embedJob{data.liked[i].ID, model.KindLiked, data.liked[i].Body})
		}
	}
	for i := range data.conversations {
		for j := range data.conversations[i].Messages {
			m := &data.conversations[i].Messages[j]
			jobs = append(jobs, embedJob{m.ID, model.KindMessage, m.Body})
		}
	}
	for i := range data.turns {
		jobs = append(jobs, embedJob{data.turns[i].DocID(), model.KindChatbot, data.turns[i].Body})
	}

	started := time.Now()
	for _, job := range jobs {
		canon := canonical.Canonicalize(job.body)
		if canon == "" {
			continue
		}
		hash := canonical.ContentHash(job.body)

		stored, ok, err := ix.store.EmbeddingHash(ctx, job.docID, job.kind)
		if err != nil {
			return err
		}
		if ok && stored == hash {
			counts.EmbedsSkipped++
			continue
		}

		vec, err := opts.Embedder.Embed(ctx, canon)
		if err != nil {
			ix.logger.Warn("embedding failed", "doc_id", job.docID, "error", err)
			continue
		}
		if err := ix.store.StoreEmbedding(ctx, job.docID, job.kind, hash, vec); err != nil {
			return err
		}
		counts.Embedded++
	}

	ix.logger.Info("embedded documents",
		"embedded", counts.Embedded,
		"skipped", counts.EmbedsSkipped,
		"elapsed", time.Since(started).Round(time.Millisecond))

	if opts.VectorPath != "" {
		entries, err := ix.store.LoadAllEmbeddings(ctx)
		if err != nil {
			return err
		}
		idx := vector.FromEntries(entries, opts.Embedder.Dim())
		if err := idx.WriteFile(opts.VectorPath); err != nil {
			return err
		}
	}
	return nil
}
