// Command xf indexes a social-media data export and serves fast hybrid
// search over it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/xf/internal/logging"
	"github.com/liliang-cn/xf/pkg/config"
	"github.com/liliang-cn/xf/pkg/embed"
	"github.com/liliang-cn/xf/pkg/lexical"
	"github.com/liliang-cn/xf/pkg/planner"
	"github.com/liliang-cn/xf/pkg/storage"
	"github.com/liliang-cn/xf/pkg/vector"
)

var (
	flagDB      string
	flagIndex   string
	flagFormat  string
	flagVerbose bool
	flagNoColor bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "xf",
	Short: "Ultra-fast search over your social-media data export",
	Long: `xf indexes a personal social-media data export (posts, likes, direct
messages, chatbot transcripts, social graph) and serves sub-millisecond
hybrid search over it from the command line.

Quick start:
  1. Download your data export
  2. Run: xf index /path/to/export
  3. Search: xf search "your query"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if flagDB != "" {
			cfg.Paths.DB = flagDB
		}
		if flagIndex != "" {
			cfg.Paths.Index = flagIndex
		}
		if flagFormat != "" {
			cfg.Output.Format = flagFormat
		}
		if flagNoColor || !cfg.Output.Colors {
			color.NoColor = true
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		if suggestion := suggestFor(err); suggestion != "" {
			fmt.Fprintf(os.Stderr, "  %s %s\n", color.YellowString("hint:"), suggestion)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to the database file (env XF_DB)")
	rootCmd.PersistentFlags().StringVar(&flagIndex, "index", "", "path to the search index directory (env XF_INDEX)")
	rootCmd.PersistentFlags().StringVarP(&flagFormat, "format", "f", "", "output format: text, json, jsonl, csv (env XF_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show debug output")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output (env NO_COLOR)")
}

// suggestFor maps well-known failures to a recovery suggestion.
func suggestFor(err error) string {
	switch {
	case errors.Is(err, storage.ErrSchemaTooNew):
		return "rebuild the index with 'xf index <archive> --force'"
	case errors.Is(err, vector.ErrCorrupt):
		return "delete the vector file and re-run 'xf index' to rebuild it"
	case errors.Is(err, lexical.ErrWriterActive):
		return "another xf process is indexing; wait for it to finish"
	case errors.Is(err, os.ErrNotExist):
		return "run 'xf index <archive_path>' first"
	}
	return ""
}

func logger() logging.Logger {
	if flagVerbose {
		return logging.New(os.Stderr, logging.LevelDebug)
	}
	return logging.Nop()
}

func requireIndexed() error {
	if _, err := os.Stat(cfg.DBPath()); err != nil {
		return fmt.Errorf("no indexed archive at %s: %w", cfg.DBPath(), err)
	}
	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		return fmt.Errorf("no search index at %s: %w", cfg.IndexPath(), err)
	}
	return nil
}

func openStore() (*storage.Store, error) {
	return storage.Open(cfg.DBPath(), storage.WithLogger(logger()))
}

func openIndex() (*lexical.Index, error) {
	return lexical.Open(cfg.IndexPath(), lexical.WithLogger(logger()))
}

// openPlanner wires the lexical index, the vector index (from the vector
// file when valid, else from the database), the hash embedder, and the
// store fallback into a planner.
func openPlanner(store *storage.Store, lex *lexical.Index) (*planner.Planner, error) {
	embedder, err := embed.NewHashEmbedder(cfg.Indexing.EmbedDimension)
	if err != nil {
		return nil, err
	}

	opts := []planner.Option{
		planner.WithStore(store),
		planner.WithEmbedder(embedder),
		planner.WithLogger(logger()),
	}

	if vec := loadVectorIndex(store); vec != nil {
		opts = append(opts, planner.WithVector(vec))
	}
	return planner.New(lex, opts...), nil
}

func loadVectorIndex(store *storage.Store) *vector.Index {
	log := logger()

	if idx, err := vector.LoadFile(cfg.VectorPath()); err == nil {
		return idx
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("vector file unusable, falling back to database", "error", err)
	}

	entries, err := store.LoadAllEmbeddings(context.Background())
	if err != nil || len(entries) == 0 {
		return nil
	}
	return vector.FromEntries(entries, 0)
}
