package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/xf/pkg/model"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <target>",
	Short: "Export archive data as json, jsonl, or csv",
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

		data, err := fetchTarget(cmd, store, args[0], 0)
		if err != nil {
			return err
		}

		switch exportFormat {
		case "json":
			return printJSON(data)
		case "jsonl":
			return writeJSONL(data)
		case "csv":
			return writeCSV(data)
		}
		return fmt.Errorf("unknown export format %q (use json, jsonl, or csv)", exportFormat)
	},
}

func writeJSONL(data any) error {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range itemsOf(data) {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(data any) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	switch items := data.(type) {
	case []model.Post:
		if err := w.Write([]string{"id", "authored_at", "body", "favorite_count", "reshare_count"}); err != nil {
			return err
		}
		for _, p := range items {
			if err := w.Write([]string{
				p.ID, p.AuthoredAt.Format(time.RFC3339), p.Body,
				fmt.Sprint(p.FavoriteCount), fmt.Sprint(p.ReshareCount),
			}); err != nil {
				return err
			}
		}
	case []model.LikedPost:
		if err := w.Write([]string{"id", "body", "expanded_url"}); err != nil {
			return err
		}
		for _, l := range items {
			if err := w.Write([]string{l.ID, l.Body, l.ExpandedURL}); err != nil {
				return err
			}
		}
	case []model.Message:
		if err := w.Write([]string{"id", "conversation_id", "sender_id", "sent_at", "body"}); err != nil {
			return err
		}
		for _, m := range items {
			if err := w.Write([]string{
				m.ID, m.ConversationID, m.SenderID, m.SentAt.Format(time.RFC3339), m.Body,
			}); err != nil {
				return err
			}
		}
	case []model.ChatbotTurn:
		if err := w.Write([]string{"chat_id", "sender", "sent_at", "body"}); err != nil {
			return err
		}
		for _, t := range items {
			if err := w.Write([]string{
				t.ChatID, t.Sender, t.SentAt.Format(time.RFC3339), t.Body,
			}); err != nil {
				return err
			}
		}
	case []model.Relation:
		if err := w.Write([]string{"account_id", "profile_url"}); err != nil {
			return err
		}
		for _, r := range items {
			if err := w.Write([]string{r.AccountID, r.ProfileURL}); err != nil {
				return err
			}
		}
	}
	return nil
}

func itemsOf(data any) []any {
	var out []any
	switch items := data.(type) {
	case []model.Post:
		for i := range items {
			out = append(out, &items[i])
		}
	case []model.LikedPost:
		for i := range items {
			out = append(out, &items[i])
		}
	case []model.Message:
		for i := range items {
			out = append(out, &items[i])
		}
	case []model.ChatbotTurn:
		for i := range items {
			out = append(out, &items[i])
		}
	case []model.Relation:
		for i := range items {
			out = append(out, &items[i])
		}
	}
	return out
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format: json, jsonl, csv")
	rootCmd.AddCommand(exportCmd)
}
