package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/xf/pkg/config"
	"github.com/liliang-cn/xf/pkg/hybrid"
	"github.com/liliang-cn/xf/pkg/planner"
	"github.com/liliang-cn/xf/pkg/vector"
)

var (
	configShow    bool
	configSet     []string
	configArchive string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(configSet) == 0 && configArchive == "" {
			configShow = true
		}

		changed := false
		for _, assignment := range configSet {
			if err := cfg.Set(assignment); err != nil {
				return err
			}
			changed = true
		}
		if configArchive != "" {
			cfg.Paths.Archive = configArchive
			changed = true
		}
		if changed {
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.GreenString("Saved"), config.Path())
		}

		if configShow {
			return printJSON(cfg)
		}
		return nil
	},
}

type healthStatus string

const (
	healthPass  healthStatus = "pass"
	healthWarn  healthStatus = "warning"
	healthError healthStatus = "error"
)

type healthCheck struct {
	Category   string       `json:"category"`
	Name       string       `json:"name"`
	Status     healthStatus `json:"status"`
	Message    string       `json:"message"`
	Suggestion string       `json:"suggestion,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check database, index, and vector file health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := runHealthChecks(cmd)

		if cfg.Output.Format == "json" {
			return printJSON(checks)
		}

		failed := false
		for _, c := range checks {
			var tag string
			switch c.Status {
			case healthPass:
				tag = color.GreenString("PASS")
			case healthWarn:
				tag = color.YellowString("WARN")
			default:
				tag = color.RedString("FAIL")
				failed = true
			}
			fmt.Printf("[%s] %-9s %s: %s\n", tag, c.Category, c.Name, c.Message)
			if c.Suggestion != "" {
				fmt.Printf("        %s %s\n", color.New(color.Faint).Sprint("->"), c.Suggestion)
			}
		}
		if failed {
			return errors.New("health checks failed")
		}
		return nil
	},
}

func runHealthChecks(cmd *cobra.Command) []healthCheck {
	var checks []healthCheck

	if _, err := os.Stat(cfg.DBPath()); err != nil {
		checks = append(checks, healthCheck{
			Category: "database", Name: "exists", Status: healthError,
			Message:    fmt.Sprintf("no database at %s", cfg.DBPath()),
			Suggestion: "run 'xf index <archive_path>'",
		})
	} else if store, err := openStore(); err != nil {
		checks = append(checks, healthCheck{
			Category: "database", Name: "open", Status: healthError,
			Message:    err.Error(),
			Suggestion: "rebuild with 'xf index <archive> --force'",
		})
	} else {
		version, _ := store.SchemaVersion(cmd.Context())
		checks = append(checks, healthCheck{
			Category: "database", Name: "schema", Status: healthPass,
			Message: fmt.Sprintf("version %d", version),
		})
		if stats, err := store.GetStats(cmd.Context()); err == nil {
			status := healthPass
			suggestion := ""
			if stats.Posts+stats.Liked+stats.Messages+stats.ChatbotTurns == 0 {
				status = healthWarn
				suggestion = "the database is empty; run 'xf index <archive_path>'"
			}
			checks = append(checks, healthCheck{
				Category: "database", Name: "rows", Status: status,
				Message: fmt.Sprintf("%d posts, %d liked, %d messages, %d chatbot turns",
					stats.Posts, stats.Liked, stats.Messages, stats.ChatbotTurns),
				Suggestion: suggestion,
			})
		}
		store.Close()
	}

	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		checks = append(checks, healthCheck{
			Category: "index", Name: "exists", Status: healthError,
			Message:    fmt.Sprintf("no search index at %s", cfg.IndexPath()),
			Suggestion: "run 'xf index <archive_path>'",
		})
	} else if lex, err := openIndex(); err != nil {
		checks = append(checks, healthCheck{
			Category: "index", Name: "open", Status: healthError,
			Message:    err.Error(),
			Suggestion: "rebuild with 'xf index <archive> --force'",
		})
	} else {
		count, _ := lex.DocCount()
		checks = append(checks, healthCheck{
			Category: "index", Name: "documents", Status: healthPass,
			Message: fmt.Sprintf("%d documents", count),
		})
		lex.Close()
	}

	if _, err := os.Stat(cfg.VectorPath()); err != nil {
		checks = append(checks, healthCheck{
			Category: "vector", Name: "exists", Status: healthWarn,
			Message:    "no vector file; semantic search uses the database",
			Suggestion: "re-run 'xf index' to write it",
		})
	} else if idx, err := vector.LoadFile(cfg.VectorPath()); err != nil {
		checks = append(checks, healthCheck{
			Category: "vector", Name: "validate", Status: healthError,
			Message:    err.Error(),
			Suggestion: "delete the file and re-run 'xf index' to rebuild it",
		})
	} else {
		checks = append(checks, healthCheck{
			Category: "vector", Name: "validate", Status: healthPass,
			Message: fmt.Sprintf("%d vectors, dimension %d", idx.Len(), idx.Dimension()),
		})
	}

	return checks
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive search shell",
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

		lex, err := openIndex()
		if err != nil {
			return err
		}
		defer lex.Close()

		p, err := openPlanner(store, lex)
		if err != nil {
			return err
		}

		fmt.Println("xf shell — type a query, 'stats', or 'quit'")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("xf> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())

			switch line {
			case "":
				continue
			case "quit", "exit":
				return nil
			case "stats":
				stats, err := store.GetStats(cmd.Context())
				if err != nil {
					fmt.Println(color.RedString("error:"), err)
					continue
				}
				fmt.Printf("posts %d, liked %d, messages %d, chatbot %d\n",
					stats.Posts, stats.Liked, stats.Messages, stats.ChatbotTurns)
			case "help":
				fmt.Println("commands: <query>, stats, help, quit")
			default:
				started := time.Now()
				hits, err := p.Execute(cmd.Context(), &planner.Request{
					Query: line,
					Limit: cfg.Search.DefaultLimit,
					Mode:  hybrid.ModeHybrid,
				})
				if err != nil {
					fmt.Println(color.RedString("error:"), err)
					continue
				}
				fmt.Printf("%d results in %s\n", len(hits), formatElapsed(time.Since(started)))
				for i, h := range hits {
					printHit(i+1, &h)
				}
			}
		}
	},
}

var completionsCmd = &cobra.Command{
	Use:       "completions <shell>",
	Short:     "Generate shell completions",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return fmt.Errorf("unknown shell %q", args[0])
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update xf to the latest version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Self-update is not bundled with this build.")
		fmt.Println("Install the latest release with: go install github.com/liliang-cn/xf/cmd/xf@latest")
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configShow, "show", false, "print the effective configuration")
	configCmd.Flags().StringArrayVar(&configSet, "set", nil, "set a key (e.g. --set search.default_limit=50)")
	configCmd.Flags().StringVar(&configArchive, "archive", "", "set the default archive path")
	rootCmd.AddCommand(configCmd, doctorCmd, shellCmd, completionsCmd, updateCmd)
}
