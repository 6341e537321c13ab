package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireIndexed(); err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		if cfg.Output.Format == "json" {
			return printJSON(stats)
		}

		fmt.Println(color.New(color.Bold).Sprint("Archive statistics"))
		if meta, err := store.GetArchiveMeta(cmd.Context()); err == nil {
			fmt.Printf("  account: @%s (%s)\n", meta.Handle, meta.AccountID)
		}
		fmt.Printf("  posts:         %d\n", stats.Posts)
		fmt.Printf("  liked:         %d\n", stats.Liked)
		fmt.Printf("  messages:      %d (in %d conversations)\n", stats.Messages, stats.Conversations)
		fmt.Printf("  chatbot turns: %d\n", stats.ChatbotTurns)
		fmt.Printf("  followers:     %d\n", stats.Followers)
		fmt.Printf("  following:     %d\n", stats.Following)
		fmt.Printf("  blocks:        %d  mutes: %d\n", stats.Blocks, stats.Mutes)
		fmt.Printf("  embeddings:    %d\n", stats.EmbeddingCount)
		if stats.FirstPostAt != nil && stats.LastPostAt != nil {
			fmt.Printf("  post range:    %s — %s\n",
				stats.FirstPostAt.Format("2006-01-02"), stats.LastPostAt.Format("2006-01-02"))
		}
		return nil
	},
}

var (
	tweetThread     bool
	tweetEngagement bool
)

// threadDepthCap bounds reply-chain walks.
const threadDepthCap = 50

var tweetCmd = &cobra.Command{
	Use:     "tweet <id>",
	Aliases: []string{"post"},
	Short:   "Show one post",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireIndexed(); err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		post, err := store.GetPost(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no post with id %s", args[0])
			}
			return err
		}

		if tweetThread {
			chain, err := replyChain(cmd, store, post)
			if err != nil {
				return err
			}
			if cfg.Output.Format == "json" {
				return printJSON(chain)
			}
			for i := len(chain) - 1; i >= 0; i-- {
				printPost(chain[i], tweetEngagement)
			}
			return nil
		}

		if cfg.Output.Format == "json" {
			return printJSON(post)
		}
		printPost(post, tweetEngagement)
		return nil
	},
}

// replyChain walks reply_parent_id lookups from the post to the thread
// root, capped at threadDepthCap hops.
func replyChain(cmd *cobra.Command, store *storage.Store, post *model.Post) ([]*model.Post, error) {
	chain := []*model.Post{post}
	current := post
	for depth := 0; depth < threadDepthCap && current.ReplyParentID != ""; depth++ {
		parent, err := store.GetPost(cmd.Context(), current.ReplyParentID)
		if err != nil {
			// The parent may belong to another account and is absent from
			// this archive.
			break
		}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

func printPost(p *model.Post, withEngagement bool) {
	fmt.Println(color.New(color.Bold).Sprintf("%s  %s", p.ID, p.AuthoredAt.Format("2006-01-02 15:04")))
	if p.ReplyParentAuthor != "" {
		fmt.Printf("  %s\n", color.New(color.Faint).Sprintf("replying to @%s", p.ReplyParentAuthor))
	}
	fmt.Printf("  %s\n", p.Body)
	if withEngagement {
		fmt.Printf("  %s\n", color.New(color.Faint).Sprintf("♥ %d  ↺ %d", p.FavoriteCount, p.ReshareCount))
	}
	fmt.Println()
}

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list <target>",
	Short: "List archive data (posts, liked, messages, chatbot, followers, following, blocks, mutes)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireIndexed(); err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		data, err := fetchTarget(cmd, store, args[0], listLimit)
		if err != nil {
			return err
		}

		if cfg.Output.Format == "json" {
			return printJSON(data)
		}
		printTarget(data)
		return nil
	},
}

// fetchTarget loads one list target; used by both list and export.
func fetchTarget(cmd *cobra.Command, store *storage.Store, target string, limit int) (any, error) {
	ctx := cmd.Context()
	switch target {
	case "posts", "tweets":
		return store.ListPosts(ctx, limit)
	case "liked", "likes":
		return store.ListLiked(ctx, limit)
	case "messages", "dms":
		return store.ListMessages(ctx, limit)
	case "chatbot", "chats":
		return store.ListChatbotTurns(ctx, limit)
	case "followers":
		return store.ListRelations(ctx, model.RelationFollowers, limit)
	case "following":
		return store.ListRelations(ctx, model.RelationFollowing, limit)
	case "blocks":
		return store.ListRelations(ctx, model.RelationBlocks, limit)
	case "mutes":
		return store.ListRelations(ctx, model.RelationMutes, limit)
	}
	return nil, fmt.Errorf("unknown list target %q", target)
}

func printTarget(data any) {
	switch items := data.(type) {
	case []model.Post:
		for _, p := range items {
			fmt.Printf("%s  %s  %s\n", p.ID, p.AuthoredAt.Format("2006-01-02"), truncateBody(p.Body, 80))
		}
	case []model.LikedPost:
		for _, l := range items {
			fmt.Printf("%s  %s\n", l.ID, truncateBody(l.Body, 80))
		}
	case []model.Message:
		for _, m := range items {
			fmt.Printf("%s  %s  %s\n", m.ID, m.SentAt.Format("2006-01-02 15:04"), truncateBody(m.Body, 80))
		}
	case []model.ChatbotTurn:
		for _, t := range items {
			fmt.Printf("%s  %s  [%s] %s\n", t.ChatID, t.SentAt.Format("2006-01-02 15:04"), t.Sender, truncateBody(t.Body, 70))
		}
	case []model.Relation:
		for _, r := range items {
			if r.ProfileURL != "" {
				fmt.Printf("%s  %s\n", r.AccountID, r.ProfileURL)
			} else {
				fmt.Println(r.AccountID)
			}
		}
	}
}

func init() {
	tweetCmd.Flags().BoolVar(&tweetThread, "thread", false, "show the full reply chain")
	tweetCmd.Flags().BoolVar(&tweetEngagement, "engagement", false, "show favorite and reshare counts")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "maximum entries (0 = all)")
	rootCmd.AddCommand(statsCmd, tweetCmd, listCmd)
}
