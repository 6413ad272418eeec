package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/listing"
	"github.com/dyluth/boardsync/internal/printer"
	"github.com/dyluth/boardsync/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchBoardID      string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor real-time board activity",
	Long: `Monitor a board's room traffic and save notices as they happen.

Streams joins, leaves, element updates and saves published on Redis.
Only boards using the redis transport publish room traffic there.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch a board
  boardsync watch --board roadmap

  # Export events as JSON
  boardsync watch --board roadmap --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchBoardID, "board", "b", "", "Board ID (required)")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.MarkFlagRequired("board")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var format func(ev watch.Event) error
	switch watchOutputFormat {
	case "default":
		format = func(ev watch.Event) error { return listing.FormatEvent(out, ev) }
	case "json":
		format = func(ev watch.Event) error { return listing.FormatEventJSON(out, ev) }
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ready := func() {
		if watchOutputFormat == "default" {
			printer.Step("Watching board '%s' (Ctrl-C to stop)\n", watchBoardID)
		}
	}

	return watch.Stream(ctx, quartz.NewReal(), client, watchBoardID, ready, format)
}
