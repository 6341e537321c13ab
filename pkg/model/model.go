// Package model defines the normalized records produced by archive parsing
// and consumed by the storage, lexical, and vector layers.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// DocKind identifies the semantic bucket a searchable document belongs to.
type DocKind string

const (
	// KindPost is an authored post.
	KindPost DocKind = "post"
	// KindLiked is a liked post.
	KindLiked DocKind = "liked"
	// KindMessage is a direct message.
	KindMessage DocKind = "message"
	// KindChatbot is an AI-chatbot transcript turn.
	KindChatbot DocKind = "chatbot"
)

// SearchKinds lists every kind that participates in search.
func SearchKinds() []DocKind {
	return []DocKind{KindPost, KindLiked, KindMessage, KindChatbot}
}

// ParseDocKind maps a user-supplied string to a DocKind.
func ParseDocKind(s string) (DocKind, bool) {
	switch s {
	case "post", "tweet":
		return KindPost, true
	case "liked", "like":
		return KindLiked, true
	case "message", "dm":
		return KindMessage, true
	case "chatbot", "chat":
		return KindChatbot, true
	}
	return "", false
}

// Mention is an account referenced in a post body.
type Mention struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
}

// Link is a URL embedded in a post or message.
type Link struct {
	ShortURL    string `json:"short_url"`
	ExpandedURL string `json:"expanded_url,omitempty"`
	DisplayURL  string `json:"display_url,omitempty"`
}

// Attachment is a media item attached to a post.
type Attachment struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	URL       string `json:"url"`
	LocalPath string `json:"local_path,omitempty"`
}

// Post is an authored post from the archive.
type Post struct {
	ID                string       `json:"id"`
	AuthoredAt        time.Time    `json:"authored_at"`
	Body              string       `json:"body"`
	SourceLabel       string       `json:"source_label,omitempty"`
	FavoriteCount     int64        `json:"favorite_count"`
	ReshareCount      int64        `json:"reshare_count"`
	LanguageTag       string       `json:"language_tag,omitempty"`
	ReplyParentID     string       `json:"reply_parent_id,omitempty"`
	ReplyParentAuthor string       `json:"reply_parent_author,omitempty"`
	IsReshare         bool         `json:"is_reshare"`
	Hashtags          []string     `json:"hashtags"`
	Mentions          []Mention    `json:"mentions"`
	Links             []Link       `json:"links"`
	Attachments       []Attachment `json:"attachments"`
}

// IsReply reports whether the post replies to another account's post.
func (p *Post) IsReply() bool {
	return p.ReplyParentAuthor != ""
}

// LikedPost is a post the account owner liked.
type LikedPost struct {
	ID          string `json:"id"`
	Body        string `json:"body,omitempty"`
	ExpandedURL string `json:"expanded_url,omitempty"`
}

// Conversation groups direct messages by conversation id. Messages are kept
// sorted by SentAt ascending, ties broken by id.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// Message is a single direct message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
	Links          []Link    `json:"links"`
	AttachmentURLs []string  `json:"attachment_urls"`
}

// ChatbotTurn is one turn of an AI-chatbot transcript.
type ChatbotTurn struct {
	ChatID string    `json:"chat_id"`
	Body   string    `json:"body"`
	Sender string    `json:"sender"`
	SentAt time.Time `json:"sent_at"`
	Mode   string    `json:"mode,omitempty"`
}

// DocID returns the synthetic document id used for indexing a turn.
func (t *ChatbotTurn) DocID() string {
	return t.ChatID + "_" + epochString(t.SentAt)
}

// RelationKind names a social-graph bucket.
type RelationKind string

const (
	RelationFollowers RelationKind = "followers"
	RelationFollowing RelationKind = "following"
	RelationBlocks    RelationKind = "blocks"
	RelationMutes     RelationKind = "mutes"
)

// Relation is an entry in one of the social-graph lists.
type Relation struct {
	AccountID  string `json:"account_id"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// ArchiveMeta describes the export that produced the records.
type ArchiveMeta struct {
	AccountID   string    `json:"account_id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name,omitempty"`
	ByteSize    int64     `json:"byte_size"`
	GeneratedAt time.Time `json:"generated_at"`
	IsPartial   bool      `json:"is_partial"`
}

// SearchHit is a materialized search result.
type SearchHit struct {
	Kind       DocKind         `json:"kind"`
	ID         string          `json:"id"`
	Body       string          `json:"body"`
	AuthoredAt time.Time       `json:"authored_at"`
	Score      float64         `json:"score"`
	Metadata   json.RawMessage `json:"metadata"`
}

// MetadataString extracts a string field from the hit's metadata JSON.
func (h *SearchHit) MetadataString(key string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(h.Metadata, &m); err != nil {
		return ""
	}
	var s string
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// MetadataInt64 extracts an integer field from the hit's metadata JSON.
func (h *SearchHit) MetadataInt64(key string) int64 {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(h.Metadata, &m); err != nil {
		return 0
	}
	var n int64
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &n)
	}
	return n
}

// IsReply reports whether a post hit replies to another account's post.
// Non-post hits are never replies.
func (h *SearchHit) IsReply() bool {
	if h.Kind != KindPost {
		return false
	}
	return h.MetadataString("reply_parent_author") != ""
}

// Stats summarizes the indexed archive.
type Stats struct {
	Posts          int64      `json:"posts"`
	Liked          int64      `json:"liked"`
	Messages       int64      `json:"messages"`
	Conversations  int64      `json:"conversations"`
	ChatbotTurns   int64      `json:"chatbot_turns"`
	Followers      int64      `json:"followers"`
	Following      int64      `json:"following"`
	Blocks         int64      `json:"blocks"`
	Mutes          int64      `json:"mutes"`
	FirstPostAt    *time.Time `json:"first_post_at,omitempty"`
	LastPostAt     *time.Time `json:"last_post_at,omitempty"`
	IndexBuiltAt   time.Time  `json:"index_built_at"`
	EmbeddingCount int64      `json:"embedding_count"`
}

func epochString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
