package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/filter"
	"github.com/dyluth/boardsync/internal/listing"
	"github.com/dyluth/boardsync/internal/printer"
	"github.com/dyluth/boardsync/internal/watch"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/spf13/cobra"
)

var (
	showBoardID      string
	showOutputFormat string
	showWait         time.Duration
	showType         string
	showIDPrefix     string
	showActive       bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a board's persisted document",
	Long: `Print the document a board last saved to Redis.

Output Formats:
  table - Human-readable table with ID, version, state, type and text
  json  - The whole document, pretty-printed
  jsonl - Line-delimited JSON, one element per line

Filters:
  --type    - Filter by element type (glob pattern: "rect*", "text")
  --id      - Filter by element ID prefix
  --active  - Hide deleted elements

Examples:
  # Show a board
  boardsync show --board roadmap

  # Pipe elements to jq
  boardsync show --board roadmap --output=jsonl | jq 'select(.isDeleted != true) | .id'

  # Only live rectangles
  boardsync show --board roadmap --type "rect*" --active

  # Wait up to 30s for a first save
  boardsync show --board roadmap --wait 30s`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showBoardID, "board", "b", "", "Board ID (required)")
	showCmd.Flags().StringVarP(&showOutputFormat, "output", "o", "table", "Output format: table, json or jsonl")
	showCmd.Flags().DurationVar(&showWait, "wait", 0, "Wait this long for the board to be saved if it does not exist yet")
	showCmd.Flags().StringVar(&showType, "type", "", "Filter by element type (glob pattern)")
	showCmd.Flags().StringVar(&showIDPrefix, "id", "", "Filter by element ID prefix")
	showCmd.Flags().BoolVar(&showActive, "active", false, "Hide deleted elements")
	showCmd.MarkFlagRequired("board")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	switch showOutputFormat {
	case "table", "json", "jsonl":
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", showOutputFormat),
			[]string{"Valid formats: table, json, jsonl"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	var (
		doc     *board.Document
		savedAt time.Time
	)
	if showWait > 0 {
		doc, savedAt, err = watch.PollForDocument(ctx, quartz.NewReal(), client, showBoardID, showWait)
	} else {
		doc, savedAt, err = client.LoadDocument(ctx, showBoardID)
	}
	if err != nil {
		if board.IsNotFound(err) {
			return printer.ErrorWithContext(
				fmt.Sprintf("board '%s' not found", showBoardID),
				"The board has never been saved to Redis.",
				map[string]string{"Namespace": cfg.Namespace},
				[]string{
					fmt.Sprintf("Wait for a first save:\n  boardsync show --board %s --wait 30s", showBoardID),
					"Check the namespace in boardsync.yml",
				},
			)
		}
		return fmt.Errorf("failed to load board: %w", err)
	}

	criteria := &filter.Criteria{
		TypeGlob:   showType,
		IDPrefix:   showIDPrefix,
		ActiveOnly: showActive,
	}
	doc = criteria.Apply(doc)

	switch showOutputFormat {
	case "json":
		return listing.FormatJSON(cmd.OutOrStdout(), doc)
	case "jsonl":
		return listing.FormatJSONL(cmd.OutOrStdout(), doc)
	default:
		listing.FormatTable(cmd.OutOrStdout(), showBoardID, doc, savedAt)
		return nil
	}
}
