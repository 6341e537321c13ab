package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/liliang-cn/xf/pkg/model"
)

const postColumns = `id, authored_at, body, source_label, favorite_count, reshare_count,
	language_tag, reply_parent_id, reply_parent_author, is_reshare,
	hashtags_json, mentions_json, links_json, attachments_json`

// GetPost fetches one post by id. Returns ErrNotFound when absent.
func (s *Store) GetPost(ctx context.Context, id string) (*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get_post", ErrStoreClosed)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_post", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_post", err)
	}
	return post, nil
}

// GetLiked fetches one liked post by id. Returns ErrNotFound when absent.
func (s *Store) GetLiked(ctx context.Context, id string) (*model.LikedPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get_liked", ErrStoreClosed)
	}

	var l model.LikedPost
	var body, url sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, body, expanded_url FROM liked WHERE id = ?", id).
		Scan(&l.ID, &body, &url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_liked", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_liked", err)
	}
	l.Body = body.String
	l.ExpandedURL = url.String
	return &l, nil
}

// GetMessage fetches one direct message by id. Returns ErrNotFound when
// absent.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get_message", ErrStoreClosed)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, recipient_id, body, sent_at,
		       links_json, attachment_urls_json
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_message", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_message", err)
	}
	return m, nil
}

// GetChatbotTurn fetches one chatbot turn by its synthetic document id
// ("<chat_id>_<epoch seconds>", the same id the search index carries).
// Returns ErrNotFound when absent or the id is malformed.
func (s *Store) GetChatbotTurn(ctx context.Context, docID string) (*model.ChatbotTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get_chatbot_turn", ErrStoreClosed)
	}

	// Chat ids may themselves contain underscores; the epoch is the part
	// after the last one.
	sep := strings.LastIndexByte(docID, '_')
	if sep <= 0 {
		return nil, wrapError("get_chatbot_turn", ErrNotFound)
	}
	epoch, err := strconv.ParseInt(docID[sep+1:], 10, 64)
	if err != nil {
		return nil, wrapError("get_chatbot_turn", ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT chat_id, body, sender, sent_at, mode
		FROM chatbot_turns
		WHERE chat_id = ? AND sent_at = ?`,
		docID[:sep], formatTime(time.Unix(epoch, 0)))
	turn, err := scanChatbotTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_chatbot_turn", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_chatbot_turn", err)
	}
	return turn, nil
}

// GetConversationMessages returns a conversation's messages ordered by
// sent_at then id.
func (s *Store) GetConversationMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get_conversation", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, recipient_id, body, sent_at,
		       links_json, attachment_urls_json
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, wrapError("get_conversation", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapError("get_conversation", err)
		}
		messages = append(messages, *m)
	}
	return messages, wrapError("get_conversation", rows.Err())
}

// GetArchiveMeta returns the singleton archive description, or ErrNotFound.
func (s *Store) GetArchiveMeta(ctx context.Context) (*model.ArchiveMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get_archive_meta", ErrStoreClosed)
	}

	var meta model.ArchiveMeta
	var displayName sql.NullString
	var generatedAt string
	var isPartial int
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, handle, display_name, byte_size, generated_at, is_partial
		FROM archive_meta WHERE id = 1`).Scan(
		&meta.AccountID, &meta.Handle, &displayName, &meta.ByteSize, &generatedAt, &isPartial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_archive_meta", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_archive_meta", err)
	}

	meta.DisplayName = displayName.String
	meta.GeneratedAt = parseTime(generatedAt)
	meta.IsPartial = isPartial != 0
	return &meta, nil
}

// GetStats collects row counts and the post date range.
func (s *Store) GetStats(ctx context.Context) (*model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get_stats", ErrStoreClosed)
	}

	stats := &model.Stats{IndexBuiltAt: time.Now().UTC()}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM posts", &stats.Posts},
		{"SELECT COUNT(*) FROM liked", &stats.Liked},
		{"SELECT COUNT(*) FROM messages", &stats.Messages},
		{"SELECT COUNT(*) FROM conversations", &stats.Conversations},
		{"SELECT COUNT(*) FROM chatbot_turns", &stats.ChatbotTurns},
		{"SELECT COUNT(*) FROM followers", &stats.Followers},
		{"SELECT COUNT(*) FROM following", &stats.Following},
		{"SELECT COUNT(*) FROM blocks", &stats.Blocks},
		{"SELECT COUNT(*) FROM mutes", &stats.Mutes},
		{"SELECT COUNT(*) FROM embeddings", &stats.EmbeddingCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, wrapError("get_stats", err)
		}
	}

	var first, last sql.NullString
	if err := s.db.QueryRowContext(ctx,
		"SELECT MIN(authored_at), MAX(authored_at) FROM posts").Scan(&first, &last); err != nil {
		return nil, wrapError("get_stats", err)
	}
	if first.Valid {
		t := parseTime(first.String)
		stats.FirstPostAt = &t
	}
	if last.Valid {
		t := parseTime(last.String)
		stats.LastPostAt = &t
	}

	return stats, nil
}

// SearchPostsFTS runs an FTS5 match over post bodies, ranked by bm25.
func (s *Store) SearchPostsFTS(ctx context.Context, query string, limit int) ([]model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("search_posts_fts", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("p", postColumns)+`
		FROM posts p
		JOIN fts_posts fts ON p.id = fts.post_id
		WHERE fts_posts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, wrapError("search_posts_fts", err)
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, wrapError("search_posts_fts", err)
		}
		posts = append(posts, *p)
	}
	return posts, wrapError("search_posts_fts", rows.Err())
}

// SearchLikedFTS runs an FTS5 match over liked post bodies.
func (s *Store) SearchLikedFTS(ctx context.Context, query string, limit int) ([]model.LikedPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("search_liked_fts", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.body, l.expanded_url
		FROM liked l
		JOIN fts_liked fts ON l.id = fts.liked_id
		WHERE fts_liked MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, wrapError("search_liked_fts", err)
	}
	defer rows.Close()

	var liked []model.LikedPost
	for rows.Next() {
		var l model.LikedPost
		var body, url sql.NullString
		if err := rows.Scan(&l.ID, &body, &url); err != nil {
			return nil, wrapError("search_liked_fts", err)
		}
		l.Body = body.String
		l.ExpandedURL = url.String
		liked = append(liked, l)
	}
	return liked, wrapError("search_liked_fts", rows.Err())
}

// SearchMessagesFTS runs an FTS5 match over message bodies.
func (s *Store) SearchMessagesFTS(ctx context.Context, query string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("search_messages_fts", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.recipient_id, m.body, m.sent_at,
		       m.links_json, m.attachment_urls_json
		FROM messages m
		JOIN fts_messages fts ON m.id = fts.message_id
		WHERE fts_messages MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, wrapError("search_messages_fts", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapError("search_messages_fts", err)
		}
		messages = append(messages, *m)
	}
	return messages, wrapError("search_messages_fts", rows.Err())
}

// SearchChatbotFTS runs an FTS5 match over chatbot turn bodies.
func (s *Store) SearchChatbotFTS(ctx context.Context, query string, limit int) ([]model.ChatbotTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("search_chatbot_fts", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.chat_id, t.body, t.sender, t.sent_at, t.mode
		FROM chatbot_turns t
		JOIN fts_chatbot fts
		  ON fts.turn_id = t.chat_id || '_' || CAST(strftime('%s', t.sent_at) AS TEXT)
		WHERE fts_chatbot MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, wrapError("search_chatbot_fts", err)
	}
	defer rows.Close()

	var turns []model.ChatbotTurn
	for rows.Next() {
		t, err := scanChatbotTurn(rows)
		if err != nil {
			return nil, wrapError("search_chatbot_fts", err)
		}
		turns = append(turns, *t)
	}
	return turns, wrapError("search_chatbot_fts", rows.Err())
}

// ListPosts returns posts newest first, optionally limited (0 = all).
func (s *Store) ListPosts(ctx context.Context, limit int) ([]model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("list_posts", ErrStoreClosed)
	}

	q := "SELECT " + postColumns + " FROM posts ORDER BY authored_at DESC"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, wrapError("list_posts", err)
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, wrapError("list_posts", err)
		}
		posts = append(posts, *p)
	}
	return posts, wrapError("list_posts", rows.Err())
}

// ListLiked returns liked posts, optionally limited (0 = all).
func (s *Store) ListLiked(ctx context.Context, limit int) ([]model.LikedPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("list_liked", ErrStoreClosed)
	}

	q := "SELECT id, body, expanded_url FROM liked"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, wrapError("list_liked", err)
	}
	defer rows.Close()

	var liked []model.LikedPost
	for rows.Next() {
		var l model.LikedPost
		var body, url sql.NullString
		if err := rows.Scan(&l.ID, &body, &url); err != nil {
			return nil, wrapError("list_liked", err)
		}
		l.Body = body.String
		l.ExpandedURL = url.String
		liked = append(liked, l)
	}
	return liked, wrapError("list_liked", rows.Err())
}

// ListMessages returns messages newest first, optionally limited (0 = all).
func (s *Store) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("list_messages", ErrStoreClosed)
	}

	q := `SELECT id, conversation_id, sender_id, recipient_id, body, sent_at,
	       links_json, attachment_urls_json
	FROM messages ORDER BY sent_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, wrapError("list_messages", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapError("list_messages", err)
		}
		messages = append(messages, *m)
	}
	return messages, wrapError("list_messages", rows.Err())
}

// ListChatbotTurns returns chatbot turns ordered by chat then time,
// optionally limited (0 = all).
func (s *Store) ListChatbotTurns(ctx context.Context, limit int) ([]model.ChatbotTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("list_chatbot", ErrStoreClosed)
	}

	q := "SELECT chat_id, body, sender, sent_at, mode FROM chatbot_turns ORDER BY chat_id, sent_at"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, wrapError("list_chatbot", err)
	}
	defer rows.Close()

	var turns []model.ChatbotTurn
	for rows.Next() {
		t, err := scanChatbotTurn(rows)
		if err != nil {
			return nil, wrapError("list_chatbot", err)
		}
		turns = append(turns, *t)
	}
	return turns, wrapError("list_chatbot", rows.Err())
}

// ListRelations returns one social-graph bucket, optionally limited (0 = all).
func (s *Store) ListRelations(ctx context.Context, kind model.RelationKind, limit int) ([]model.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("list_relations", ErrStoreClosed)
	}

	table, err := relationTable(kind)
	if err != nil {
		return nil, wrapError("list_relations", err)
	}

	q := "SELECT account_id, profile_url FROM " + table
	var rows *sql.Rows
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, wrapError("list_relations", err)
	}
	defer rows.Close()

	var relations []model.Relation
	for rows.Next() {
		var r model.Relation
		var url sql.NullString
		if err := rows.Scan(&r.AccountID, &url); err != nil {
			return nil, wrapError("list_relations", err)
		}
		r.ProfileURL = url.String
		relations = append(relations, r)
	}
	return relations, wrapError("list_relations", rows.Err())
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*model.Post, error) {
	var p model.Post
	var authoredAt string
	var sourceLabel, languageTag, replyParentID, replyParentAuthor sql.NullString
	var isReshare int
	var hashtags, mentions, links, attachments sql.NullString

	err := row.Scan(&p.ID, &authoredAt, &p.Body, &sourceLabel,
		&p.FavoriteCount, &p.ReshareCount, &languageTag,
		&replyParentID, &replyParentAuthor, &isReshare,
		&hashtags, &mentions, &links, &attachments)
	if err != nil {
		return nil, err
	}

	p.AuthoredAt = parseTime(authoredAt)
	p.SourceLabel = sourceLabel.String
	p.LanguageTag = languageTag.String
	p.ReplyParentID = replyParentID.String
	p.ReplyParentAuthor = replyParentAuthor.String
	p.IsReshare = isReshare != 0
	p.Hashtags = decodeJSONList[string](hashtags.String)
	p.Mentions = decodeJSONList[model.Mention](mentions.String)
	p.Links = decodeJSONList[model.Link](links.String)
	p.Attachments = decodeJSONList[model.Attachment](attachments.String)
	return &p, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var m model.Message
	var sentAt string
	var links, urls sql.NullString

	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID,
		&m.Body, &sentAt, &links, &urls)
	if err != nil {
		return nil, err
	}

	m.SentAt = parseTime(sentAt)
	m.Links = decodeJSONList[model.Link](links.String)
	m.AttachmentURLs = decodeJSONList[string](urls.String)
	return &m, nil
}

func scanChatbotTurn(row scanner) (*model.ChatbotTurn, error) {
	var t model.ChatbotTurn
	var sentAt string
	var mode sql.NullString

	if err := row.Scan(&t.ChatID, &t.Body, &t.Sender, &sentAt, &mode); err != nil {
		return nil, err
	}

	t.SentAt = parseTime(sentAt)
	t.Mode = mode.String
	return &t, nil
}

func decodeJSONList[T any](raw string) []T {
	if raw == "" {
		return nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func prefixed(alias, columns string) string {
	out := ""
	for i, col := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitColumns(columns string) []string {
	var out []string
	for _, part := range strings.Split(columns, ",") {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
