package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/xf/pkg/config"
	"github.com/liliang-cn/xf/pkg/embed"
	"github.com/liliang-cn/xf/pkg/ingest"
	"github.com/liliang-cn/xf/pkg/model"
)

var (
	indexForce bool
	indexSkip  []string
	indexJobs  int
)

var indexCmd = &cobra.Command{
	Use:   "index [archive_path]",
	Short: "Index a data export",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archivePath := cfg.Paths.Archive
		if len(args) > 0 {
			archivePath = args[0]
		}
		if archivePath == "" {
			return fmt.Errorf("no archive path given and none configured (xf config --archive PATH)")
		}

		if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		lex, err := openIndex()
		if err != nil {
			return err
		}
		defer lex.Close()

		if indexForce {
			if err := lex.Clear(); err != nil {
				return err
			}
		}

		var skipKinds []model.DocKind
		for _, s := range indexSkip {
			kind, ok := model.ParseDocKind(s)
			if !ok {
				return fmt.Errorf("unknown data type %q (use post, liked, message, chatbot)", s)
			}
			skipKinds = append(skipKinds, kind)
		}

		embedder, err := embed.NewHashEmbedder(cfg.Indexing.EmbedDimension)
		if err != nil {
			return err
		}

		threads := cfg.Indexing.Threads
		if indexJobs > 0 {
			threads = indexJobs
		}

		started := time.Now()
		indexer := ingest.New(store, lex, logger())
		counts, err := indexer.Run(cmd.Context(), archivePath, ingest.Options{
			BufferBytes: uint64(cfg.Indexing.BufferMB) << 20,
			Threads:     threads,
			SkipKinds:   skipKinds,
			Embedder:    embedder,
			VectorPath:  cfg.VectorPath(),
			Logger:      logger(),
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s in %s\n", color.GreenString("Indexed"), time.Since(started).Round(time.Millisecond))
		fmt.Printf("  posts: %d  liked: %d  messages: %d  chatbot: %d\n",
			counts.Posts, counts.Liked, counts.Messages, counts.ChatbotTurns)
		fmt.Printf("  followers: %d  following: %d  blocks: %d  mutes: %d\n",
			counts.Followers, counts.Following, counts.Blocks, counts.Mutes)
		fmt.Printf("  embeddings: %d new, %d unchanged\n", counts.Embedded, counts.EmbedsSkipped)
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "F", false, "delete the existing index first")
	indexCmd.Flags().StringSliceVar(&indexSkip, "skip", nil, "data types to skip (post, liked, message, chatbot)")
	indexCmd.Flags().IntVarP(&indexJobs, "jobs", "j", 0, "parallel parse workers (0 = one per CPU)")
	rootCmd.AddCommand(indexCmd)
}
