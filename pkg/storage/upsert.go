package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/liliang-cn/xf/pkg/model"
)

// UpsertPosts stores posts and their FTS rows in one transaction.
// Re-ingesting an id replaces the previous row.
func (s *Store) UpsertPosts(ctx context.Context, posts []model.Post) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, wrapError("upsert_posts", ErrStoreClosed)
	}

	count := 0
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO posts
			(id, authored_at, body, source_label, favorite_count, reshare_count,
			 language_tag, reply_parent_id, reply_parent_author, is_reshare,
			 hashtags_json, mentions_json, links_json, attachments_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		ftsDel, ftsIns, err := prepareFTS(ctx, tx, "fts_posts", "post_id")
		if err != nil {
			return err
		}
		defer ftsDel.Close()
		defer ftsIns.Close()

		for i := range posts {
			p := &posts[i]
			hashtags, err := json.Marshal(p.Hashtags)
			if err != nil {
				return err
			}
			mentions, err := json.Marshal(p.Mentions)
			if err != nil {
				return err
			}
			links, err := json.Marshal(p.Links)
			if err != nil {
				return err
			}
			attachments, err := json.Marshal(p.Attachments)
			if err != nil {
				return err
			}

			if _, err := stmt.ExecContext(ctx,
				p.ID, formatTime(p.AuthoredAt), p.Body, nullable(p.SourceLabel),
				p.FavoriteCount, p.ReshareCount, nullable(p.LanguageTag),
				nullable(p.ReplyParentID), nullable(p.ReplyParentAuthor),
				boolToInt(p.IsReshare),
				string(hashtags), string(mentions), string(links), string(attachments),
			); err != nil {
				return err
			}

			if err := mirrorFTS(ctx, ftsDel, ftsIns, p.ID, p.Body); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, wrapError("upsert_posts", err)
	}

	s.logger.Info("stored posts", "count", count)
	return count, nil
}

// UpsertLiked stores liked posts. Rows without a body get no FTS mirror.
func (s *Store) UpsertLiked(ctx context.Context, liked []model.LikedPost) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, wrapError("upsert_liked", ErrStoreClosed)
	}

	count := 0
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO liked (id, body, expanded_url) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		ftsDel, ftsIns, err := prepareFTS(ctx, tx, "fts_liked", "liked_id")
		if err != nil {
			return err
		}
		defer ftsDel.Close()
		defer ftsIns.Close()

		for i := range liked {
			l := &liked[i]
			if _, err := stmt.ExecContext(ctx, l.ID, nullable(l.Body), nullable(l.ExpandedURL)); err != nil {
				return err
			}
			if _, err := ftsDel.ExecContext(ctx, l.ID); err != nil {
				return err
			}
			if l.Body != "" {
				if _, err := ftsIns.ExecContext(ctx, l.ID, l.Body); err != nil {
					return err
				}
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, wrapError("upsert_liked", err)
	}

	s.logger.Info("stored liked posts", "count", count)
	return count, nil
}

// UpsertConversations stores conversations and their messages, returning
// the number of messages stored.
func (s *Store) UpsertConversations(ctx context.Context, conversations []model.Conversation) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, wrapError("upsert_conversations", ErrStoreClosed)
	}

	messageCount := 0
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		convStmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO conversations
			(conversation_id, participant_ids, message_count, first_message_at, last_message_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer convStmt.Close()

		msgStmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO messages
			(id, conversation_id, sender_id, recipient_id, body, sent_at,
			 links_json, attachment_urls_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer msgStmt.Close()

		ftsDel, ftsIns, err := prepareFTS(ctx, tx, "fts_messages", "message_id")
		if err != nil {
			return err
		}
		defer ftsDel.Close()
		defer ftsIns.Close()

		for i := range conversations {
			conv := &conversations[i]
			sortMessages(conv.Messages)

			participants := participantIDs(conv.Messages)
			var firstAt, lastAt any
			if len(conv.Messages) > 0 {
				firstAt = formatTime(conv.Messages[0].SentAt)
				lastAt = formatTime(conv.Messages[len(conv.Messages)-1].SentAt)
			}

			if _, err := convStmt.ExecContext(ctx,
				conv.ConversationID, participants, len(conv.Messages), firstAt, lastAt,
			); err != nil {
				return err
			}

			for j := range conv.Messages {
				m := &conv.Messages[j]
				links, err := json.Marshal(m.Links)
				if err != nil {
					return err
				}
				urls, err := json.Marshal(m.AttachmentURLs)
				if err != nil {
					return err
				}

				if _, err := msgStmt.ExecContext(ctx,
					m.ID, conv.ConversationID, m.SenderID, m.RecipientID,
					m.Body, formatTime(m.SentAt), string(links), string(urls),
				); err != nil {
					return err
				}
				if err := mirrorFTS(ctx, ftsDel, ftsIns, m.ID, m.Body); err != nil {
					return err
				}
				messageCount++
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrapError("upsert_conversations", err)
	}

	s.logger.Info("stored conversations",
		"conversations", len(conversations), "messages", messageCount)
	return messageCount, nil
}

// UpsertChatbot stores chatbot turns, deduplicated on (chat_id, sent_at).
func (s *Store) UpsertChatbot(ctx context.Context, turns []model.ChatbotTurn) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, wrapError("upsert_chatbot", ErrStoreClosed)
	}

	count := 0
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chatbot_turns (chat_id, body, sender, sent_at, mode)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (chat_id, sent_at) DO UPDATE SET
				body = excluded.body,
				sender = excluded.sender,
				mode = excluded.mode`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		ftsDel, ftsIns, err := prepareFTS(ctx, tx, "fts_chatbot", "turn_id")
		if err != nil {
			return err
		}
		defer ftsDel.Close()
		defer ftsIns.Close()

		for i := range turns {
			t := &turns[i]
			if _, err := stmt.ExecContext(ctx,
				t.ChatID, t.Body, t.Sender, formatTime(t.SentAt), nullable(t.Mode),
			); err != nil {
				return err
			}
			if err := mirrorFTS(ctx, ftsDel, ftsIns, t.DocID(), t.Body); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, wrapError("upsert_chatbot", err)
	}

	s.logger.Info("stored chatbot turns", "count", count)
	return count, nil
}

// UpsertRelations stores one social-graph bucket.
func (s *Store) UpsertRelations(ctx context.Context, kind model.RelationKind, relations []model.Relation) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, wrapError("upsert_relations", ErrStoreClosed)
	}

	table, err := relationTable(kind)
	if err != nil {
		return 0, wrapError("upsert_relations", err)
	}

	count := 0
	err = s.inTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO "+table+" (account_id, profile_url) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range relations {
			r := &relations[i]
			if _, err := stmt.ExecContext(ctx, r.AccountID, nullable(r.ProfileURL)); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, wrapError("upsert_relations", err)
	}

	s.logger.Info("stored relations", "kind", kind, "count", count)
	return count, nil
}

// StoreArchiveMeta records the singleton archive description.
func (s *Store) StoreArchiveMeta(ctx context.Context, meta *model.ArchiveMeta) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return wrapError("store_archive_meta", ErrStoreClosed)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_meta
		(id, account_id, handle, display_name, byte_size, generated_at, is_partial, indexed_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`,
		meta.AccountID, meta.Handle, nullable(meta.DisplayName), meta.ByteSize,
		formatTime(meta.GeneratedAt), boolToInt(meta.IsPartial), formatTime(time.Now().UTC()),
	)
	return wrapError("store_archive_meta", err)
}

func (s *Store) inTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// prepareFTS returns delete and insert statements for an FTS mirror table.
// Mirrors are replaced by delete-then-insert so re-ingesting an id never
// leaves duplicate rows.
func prepareFTS(ctx context.Context, tx *sql.Tx, table, idColumn string) (del, ins *sql.Stmt, err error) {
	del, err = tx.PrepareContext(ctx, "DELETE FROM "+table+" WHERE "+idColumn+" = ?")
	if err != nil {
		return nil, nil, err
	}
	ins, err = tx.PrepareContext(ctx, "INSERT INTO "+table+" ("+idColumn+", body) VALUES (?, ?)")
	if err != nil {
		del.Close()
		return nil, nil, err
	}
	return del, ins, nil
}

func mirrorFTS(ctx context.Context, del, ins *sql.Stmt, id, body string) error {
	if _, err := del.ExecContext(ctx, id); err != nil {
		return err
	}
	_, err := ins.ExecContext(ctx, id, body)
	return err
}

func relationTable(kind model.RelationKind) (string, error) {
	switch kind {
	case model.RelationFollowers:
		return "followers", nil
	case model.RelationFollowing:
		return "following", nil
	case model.RelationBlocks:
		return "blocks", nil
	case model.RelationMutes:
		return "mutes", nil
	}
	return "", fmt.Errorf("unknown relation kind %q", kind)
}

func sortMessages(messages []model.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].SentAt.Equal(messages[j].SentAt) {
			return messages[i].SentAt.Before(messages[j].SentAt)
		}
		return messages[i].ID < messages[j].ID
	})
}

func participantIDs(messages []model.Message) string {
	seen := make(map[string]struct{}, len(messages)*2)
	ids := make([]string, 0, len(messages)*2)
	for i := range messages {
		for _, id := range []string{messages[i].SenderID, messages[i].RecipientID} {
			if _, ok := seen[id]; !ok && id != "" {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
