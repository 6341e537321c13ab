package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/xf/internal/datex"
	"github.com/liliang-cn/xf/pkg/hybrid"
	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/planner"
)

var (
	searchTypes       []string
	searchLimit       int
	searchOffset      int
	searchSort        string
	searchSince       string
	searchUntil       string
	searchRepliesOnly bool
	searchNoReplies   bool
	searchMode        string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireIndexed(); err != nil {
			return err
		}
		if searchRepliesOnly && searchNoReplies {
			return fmt.Errorf("--replies-only and --no-replies are mutually exclusive")
		}

		req, err := buildRequest(args[0])
		if err != nil {
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

		p, err := openPlanner(store, lex)
		if err != nil {
			return err
		}

		started := time.Now()
		hits, err := p.Execute(cmd.Context(), req)
		if err != nil {
			return err
		}
		elapsed := time.Since(started)

		return printHits(args[0], hits, elapsed)
	},
}

func buildRequest(query string) (*planner.Request, error) {
	req := &planner.Request{
		Query:       query,
		Limit:       searchLimit,
		Offset:      searchOffset,
		RepliesOnly: searchRepliesOnly,
		NoReplies:   searchNoReplies,
	}
	if req.Limit == 0 {
		req.Limit = cfg.Search.DefaultLimit
	}

	for _, t := range searchTypes {
		kind, ok := model.ParseDocKind(t)
		if !ok {
			return nil, fmt.Errorf("unknown data type %q (use post, liked, message, chatbot)", t)
		}
		req.Kinds = append(req.Kinds, kind)
	}

	var err error
	if req.Sort, err = planner.ParseSort(searchSort); err != nil {
		return nil, err
	}

	mode := searchMode
	if mode == "" {
		mode = cfg.Search.Mode
	}
	if req.Mode, err = hybrid.ParseMode(mode); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if searchSince != "" {
		t, err := datex.Parse(searchSince, false, now)
		if err != nil {
			return nil, fmt.Errorf("--since: %w", err)
		}
		req.Since = &t
	}
	if searchUntil != "" {
		t, err := datex.Parse(searchUntil, true, now)
		if err != nil {
			return nil, fmt.Errorf("--until: %w", err)
		}
		req.Until = &t
	}
	return req, nil
}

func printHits(query string, hits []model.SearchHit, elapsed time.Duration) error {
	switch cfg.Output.Format {
	case "json":
		return printJSON(hits)
	case "jsonl":
		enc := json.NewEncoder(os.Stdout)
		for i := range hits {
			if err := enc.Encode(&hits[i]); err != nil {
				return err
			}
		}
		return nil
	case "csv":
		fmt.Println("kind,id,authored_at,score,body")
		for _, h := range hits {
			body := strings.ReplaceAll(h.Body, `"`, `""`)
			body = strings.NewReplacer("\n", " ", "\r", " ").Replace(body)
			fmt.Printf("%s,%s,%s,%.4f,%q\n",
				h.Kind, h.ID, h.AuthoredAt.Format(time.RFC3339), h.Score, body)
		}
		return nil
	default:
		if len(hits) == 0 {
			fmt.Printf("%s for %q\n", color.YellowString("No results found"), query)
			fmt.Println("  Try different keywords, or widen --types / date filters.")
			return nil
		}

		fmt.Printf("Found %s results for %q in %s\n\n",
			color.CyanString("%d", len(hits)), query, formatElapsed(elapsed))
		for i, h := range hits {
			printHit(i+1, &h)
		}
		return nil
	}
}

func printHit(num int, h *model.SearchHit) {
	header := fmt.Sprintf("%d. [%s] %s", num, h.Kind, h.ID)
	fmt.Println(color.New(color.Bold).Sprint(header))

	if !h.AuthoredAt.IsZero() {
		fmt.Printf("   %s  score %.4f\n",
			color.New(color.Faint).Sprint(h.AuthoredAt.Format("2006-01-02 15:04")), h.Score)
	} else {
		fmt.Printf("   score %.4f\n", h.Score)
	}
	fmt.Printf("   %s\n\n", truncateBody(h.Body, 200))
}

func truncateBody(s string, max int) string {
	s = strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000.0)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func init() {
	searchCmd.Flags().StringSliceVarP(&searchTypes, "types", "t", nil, "restrict to data types (post, liked, message, chatbot)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum results (default from config)")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "skip the first N results")
	searchCmd.Flags().StringVarP(&searchSort, "sort", "s", "relevance", "sort order: relevance, date, date-desc, engagement")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "only results from this date on (e.g. 2024-01-01, \"last month\")")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "only results up to this date")
	searchCmd.Flags().BoolVar(&searchRepliesOnly, "replies-only", false, "only replies")
	searchCmd.Flags().BoolVar(&searchNoReplies, "no-replies", false, "exclude replies")
	searchCmd.Flags().StringVar(&searchMode, "mode", "", "search mode: lexical, semantic, hybrid")
	rootCmd.AddCommand(searchCmd)
}
