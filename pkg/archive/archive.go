// Package archive parses a social-media data export into model records.
//
// Export files wrap JSON in a JavaScript assignment:
//
//	window.YTD.tweets.part0 = [ ... ];
//
// The parser takes everything after the first '=', drops an optional
// trailing semicolon, and decodes the JSON tail. Multi-part exports
// (tweets.js, tweets-part1.js, ...) are merged in part order.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/xf/internal/logging"
	"github.com/liliang-cn/xf/pkg/model"
)

// ErrNotAnArchive is returned when the path holds no recognizable export.
var ErrNotAnArchive = errors.New("archive: no export files found (expected a directory containing data/*.js)")

// xDateLayout is the export's native timestamp format.
const xDateLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Parser reads one export directory.
type Parser struct {
	root   string
	logger logging.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// NewParser creates a parser over the export rooted at path. The data
// files may live at the root or under a data/ subdirectory.
func NewParser(path string, opts ...Option) (*Parser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w (download your export and pass its directory)", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive: %s is not a directory", path)
	}

	p := &Parser{root: path, logger: logging.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// dataFiles returns every part file for the given base name, in part
// order. Exports split large types across numbered files whose suffix
// convention varies by type: tweets-part1.js, direct-messages-group2.js.
// Both are accepted as "name-<word><digits>.js".
func (p *Parser) dataFiles(name string) []string {
	var found []string
	for _, dir := range []string{p.root, filepath.Join(p.root, "data")} {
		matches, _ := filepath.Glob(filepath.Join(dir, name+"*.js"))
		for _, m := range matches {
			base := strings.TrimSuffix(filepath.Base(m), ".js")
			if base == name || isPartName(strings.TrimPrefix(base, name)) {
				found = append(found, m)
			}
		}
		if len(found) > 0 {
			break
		}
	}
	// The unsuffixed file is part 0; continuations sort by their number.
	partNum := func(path string) int {
		suffix := strings.TrimPrefix(strings.TrimSuffix(filepath.Base(path), ".js"), name)
		n, _ := strconv.Atoi(strings.TrimLeft(suffix, "-abcdefghijklmnopqrstuvwxyz"))
		return n
	}
	sort.SliceStable(found, func(i, j int) bool {
		return partNum(found[i]) < partNum(found[j])
	})
	return found
}

// isPartName reports whether suffix looks like a numbered continuation:
// "-part1", "-group2", or plain "-3".
func isPartName(suffix string) bool {
	if !strings.HasPrefix(suffix, "-") {
		return false
	}
	rest := strings.TrimLeft(suffix[1:], "abcdefghijklmnopqrstuvwxyz")
	if rest == "" {
		return false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// decodeParts parses and concatenates the JSON arrays of every part file.
func (p *Parser) decodeParts(name string, out func(json.RawMessage) error) error {
	files := p.dataFiles(name)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("archive: read %s: %w", file, err)
		}
		tail, err := jsTail(string(content))
		if err != nil {
			return fmt.Errorf("archive: %s: %w", file, err)
		}

		var items []json.RawMessage
		if err := json.Unmarshal([]byte(tail), &items); err != nil {
			return fmt.Errorf("archive: %s: %w", file, err)
		}
		for _, item := range items {
			if err := out(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// jsTail strips the JavaScript assignment prefix and trailing semicolon.
func jsTail(content string) (string, error) {
	eq := strings.IndexByte(content, '=')
	if eq < 0 {
		return "", errors.New("missing '=' assignment")
	}
	tail := strings.TrimSpace(content[eq+1:])
	tail = strings.TrimSuffix(tail, ";")
	if tail == "" {
		return "", errors.New("empty JSON tail")
	}
	return tail, nil
}

// flexInt decodes archive numbers that may arrive as JSON numbers or
// quoted strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// parseDate accepts the export's native format and RFC 3339.
func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(xDateLayout, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Posts parses the authored posts.
func (p *Parser) Posts() ([]model.Post, error) {
	type entities struct {
		Hashtags []struct {
			Text string `json:"text"`
		} `json:"hashtags"`
		UserMentions []struct {
			ID         string `json:"id_str"`
			ScreenName string `json:"screen_name"`
			Name       string `json:"name"`
		} `json:"user_mentions"`
		URLs []struct {
			URL         string `json:"url"`
			ExpandedURL string `json:"expanded_url"`
			DisplayURL  string `json:"display_url"`
		} `json:"urls"`
		Media []struct {
			ID       string `json:"id_str"`
			Type     string `json:"type"`
			MediaURL string `json:"media_url_https"`
		} `json:"media"`
	}
	type rawPost struct {
		ID                string   `json:"id_str"`
		IDFallback        string   `json:"id"`
		CreatedAt         string   `json:"created_at"`
		FullText          string   `json:"full_text"`
		Source            string   `json:"source"`
		FavoriteCount     flexInt  `json:"favorite_count"`
		RetweetCount      flexInt  `json:"retweet_count"`
		Lang              string   `json:"lang"`
		InReplyToStatusID string   `json:"in_reply_to_status_id_str"`
		InReplyToScreen   string   `json:"in_reply_to_screen_name"`
		Entities          entities `json:"entities"`
	}
	type wrapper struct {
		Tweet *rawPost `json:"tweet"`
	}

	var posts []model.Post
	err := p.decodeParts("tweets", func(item json.RawMessage) error {
		var w wrapper
		if err := json.Unmarshal(item, &w); err != nil || w.Tweet == nil {
			return nil // tolerate unknown entries
		}
		raw := w.Tweet

		id := raw.ID
		if id == "" {
			id = raw.IDFallback
		}
		if id == "" {
			return nil
		}

		authoredAt, _ := parseDate(raw.CreatedAt)

		post := model.Post{
			ID:                id,
			AuthoredAt:        authoredAt,
			Body:              raw.FullText,
			SourceLabel:       stripSourceMarkup(raw.Source),
			FavoriteCount:     int64(raw.FavoriteCount),
			ReshareCount:      int64(raw.RetweetCount),
			LanguageTag:       raw.Lang,
			ReplyParentID:     raw.InReplyToStatusID,
			ReplyParentAuthor: raw.InReplyToScreen,
			IsReshare:         strings.HasPrefix(raw.FullText, "RT @"),
			Hashtags:          []string{},
			Mentions:          []model.Mention{},
			Links:             []model.Link{},
			Attachments:       []model.Attachment{},
		}
		for _, h := range raw.Entities.Hashtags {
			post.Hashtags = append(post.Hashtags, h.Text)
		}
		for _, m := range raw.Entities.UserMentions {
			post.Mentions = append(post.Mentions, model.Mention{
				ID: m.ID, Handle: m.ScreenName, DisplayName: m.Name,
			})
		}
		for _, u := range raw.Entities.URLs {
			post.Links = append(post.Links, model.Link{
				ShortURL: u.URL, ExpandedURL: u.ExpandedURL, DisplayURL: u.DisplayURL,
			})
		}
		for _, m := range raw.Entities.Media {
			post.Attachments = append(post.Attachments, model.Attachment{
				ID: m.ID, Kind: m.Type, URL: m.MediaURL,
			})
		}

		posts = append(posts, post)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsed posts", "count", len(posts))
	return posts, nil
}

// Liked parses the liked posts.
func (p *Parser) Liked() ([]model.LikedPost, error) {
	type rawLike struct {
		TweetID     string `json:"tweetId"`
		FullText    string `json:"fullText"`
		ExpandedURL string `json:"expandedUrl"`
	}
	type wrapper struct {
		Like *rawLike `json:"like"`
	}

	var liked []model.LikedPost
	err := p.decodeParts("like", func(item json.RawMessage) error {
		var w wrapper
		if err := json.Unmarshal(item, &w); err != nil || w.Like == nil || w.Like.TweetID == "" {
			return nil
		}
		liked = append(liked, model.LikedPost{
			ID:          w.Like.TweetID,
			Body:        w.Like.FullText,
			ExpandedURL: w.Like.ExpandedURL,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsed liked posts", "count", len(liked))
	return liked, nil
}

// Conversations parses direct-message conversations.
func (p *Parser) Conversations() ([]model.Conversation, error) {
	type rawMessage struct {
		ID          string `json:"id"`
		SenderID    string `json:"senderId"`
		RecipientID string `json:"recipientId"`
		Text        string `json:"text"`
		CreatedAt   string `json:"createdAt"`
		URLs        []struct {
			URL      string `json:"url"`
			Expanded string `json:"expanded"`
			Display  string `json:"display"`
		} `json:"urls"`
		MediaURLs []string `json:"mediaUrls"`
	}
	type rawEvent struct {
		MessageCreate *rawMessage `json:"messageCreate"`
	}
	type rawConversation struct {
		ConversationID string     `json:"conversationId"`
		Messages       []rawEvent `json:"messages"`
	}
	type wrapper struct {
		DmConversation *rawConversation `json:"dmConversation"`
	}

	var conversations []model.Conversation
	err := p.decodeParts("direct-messages", func(item json.RawMessage) error {
		var w wrapper
		if err := json.Unmarshal(item, &w); err != nil || w.DmConversation == nil {
			return nil
		}
		raw := w.DmConversation

		conv := model.Conversation{ConversationID: raw.ConversationID}
		for _, event := range raw.Messages {
			m := event.MessageCreate
			if m == nil {
				continue
			}
			sentAt, _ := parseDate(m.CreatedAt)
			id := m.ID
			if id == "" {
				id = uuid.New().String()
			}

			msg := model.Message{
				ID:             id,
				ConversationID: raw.ConversationID,
				SenderID:       m.SenderID,
				RecipientID:    m.RecipientID,
				Body:           m.Text,
				SentAt:         sentAt,
				Links:          []model.Link{},
				AttachmentURLs: m.MediaURLs,
			}
			for _, u := range m.URLs {
				msg.Links = append(msg.Links, model.Link{
					ShortURL: u.URL, ExpandedURL: u.Expanded, DisplayURL: u.Display,
				})
			}
			if msg.AttachmentURLs == nil {
				msg.AttachmentURLs = []string{}
			}
			conv.Messages = append(conv.Messages, msg)
		}
		conversations = append(conversations, conv)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsed conversations", "count", len(conversations))
	return conversations, nil
}

// ChatbotTurns parses the AI-chatbot transcript.
func (p *Parser) ChatbotTurns() ([]model.ChatbotTurn, error) {
	type rawTurn struct {
		ChatID    string `json:"chatId"`
		Message   string `json:"message"`
		Sender    string `json:"sender"`
		CreatedAt string `json:"createdAt"`
		GrokMode  string `json:"grokMode"`
	}
	type wrapper struct {
		GrokChatItem *rawTurn `json:"grokChatItem"`
	}

	var turns []model.ChatbotTurn
	err := p.decodeParts("grok-chat-item", func(item json.RawMessage) error {
		var w wrapper
		if err := json.Unmarshal(item, &w); err != nil || w.GrokChatItem == nil {
			return nil
		}
		raw := w.GrokChatItem
		if raw.Message == "" {
			return nil
		}
		sentAt, _ := parseDate(raw.CreatedAt)
		chatID := raw.ChatID
		if chatID == "" {
			chatID = "chat"
		}
		turns = append(turns, model.ChatbotTurn{
			ChatID: chatID,
			Body:   raw.Message,
			Sender: raw.Sender,
			SentAt: sentAt,
			Mode:   raw.GrokMode,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsed chatbot turns", "count", len(turns))
	return turns, nil
}

// Relations parses one social-graph bucket.
func (p *Parser) Relations(kind model.RelationKind) ([]model.Relation, error) {
	file, key := relationFile(kind)

	var relations []model.Relation
	err := p.decodeParts(file, func(item json.RawMessage) error {
		var w map[string]struct {
			AccountID string `json:"accountId"`
			UserLink  string `json:"userLink"`
		}
		if err := json.Unmarshal(item, &w); err != nil {
			return nil
		}
		entry, ok := w[key]
		if !ok || entry.AccountID == "" {
			return nil
		}
		relations = append(relations, model.Relation{
			AccountID:  entry.AccountID,
			ProfileURL: entry.UserLink,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsed relations", "kind", kind, "count", len(relations))
	return relations, nil
}

func relationFile(kind model.RelationKind) (file, key string) {
	switch kind {
	case model.RelationFollowers:
		return "follower", "follower"
	case model.RelationFollowing:
		return "following", "following"
	case model.RelationBlocks:
		return "block", "blocking"
	case model.RelationMutes:
		return "mute", "muting"
	}
	return "", ""
}

// Meta parses the export manifest.
func (p *Parser) Meta() (*model.ArchiveMeta, error) {
	files := p.dataFiles("manifest")
	if len(files) == 0 {
		return nil, ErrNotAnArchive
	}

	content, err := os.ReadFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("archive: read manifest: %w", err)
	}
	tail, err := jsTail(string(content))
	if err != nil {
		return nil, fmt.Errorf("archive: manifest: %w", err)
	}

	var manifest struct {
		UserInfo struct {
			AccountID   string `json:"accountId"`
			UserName    string `json:"userName"`
			DisplayName string `json:"displayName"`
		} `json:"userInfo"`
		ArchiveInfo struct {
			SizeBytes      flexInt `json:"sizeBytes"`
			GenerationDate string  `json:"generationDate"`
			IsPartial      bool    `json:"isPartialArchive"`
		} `json:"archiveInfo"`
	}
	if err := json.Unmarshal([]byte(tail), &manifest); err != nil {
		return nil, fmt.Errorf("archive: manifest: %w", err)
	}

	generatedAt, _ := parseDate(manifest.ArchiveInfo.GenerationDate)
	return &model.ArchiveMeta{
		AccountID:   manifest.UserInfo.AccountID,
		Handle:      manifest.UserInfo.UserName,
		DisplayName: manifest.UserInfo.DisplayName,
		ByteSize:    int64(manifest.ArchiveInfo.SizeBytes),
		GeneratedAt: generatedAt,
		IsPartial:   manifest.ArchiveInfo.IsPartial,
	}, nil
}

// HasData reports whether any known export file is present.
func (p *Parser) HasData() bool {
	for _, name := range []string{"tweets", "like", "direct-messages", "grok-chat-item", "manifest"} {
		if len(p.dataFiles(name)) > 0 {
			return true
		}
	}
	return false
}

// stripSourceMarkup reduces `<a href="...">Label</a>` to Label.
func stripSourceMarkup(source string) string {
	start := strings.IndexByte(source, '>')
	end := strings.LastIndexByte(source, '<')
	if start >= 0 && end > start {
		return source[start+1 : end]
	}
	return source
}
