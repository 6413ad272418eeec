package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/config"
	"github.com/dyluth/boardsync/internal/elements"
	"github.com/dyluth/boardsync/internal/health"
	"github.com/dyluth/boardsync/internal/persist"
	"github.com/dyluth/boardsync/internal/printer"
	"github.com/dyluth/boardsync/internal/save"
	"github.com/dyluth/boardsync/internal/session"
	"github.com/dyluth/boardsync/internal/status"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	attachBoardID    string
	attachImportPath string
	attachName       string
	attachHealthPort int
	attachVerbose    bool
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Join a board room as a headless participant",
	Long: `Join a board room as a headless participant.

The board is loaded from the configured persistence store, the room is joined
over the configured transport, and every presence and status change is
printed. Remote edits are merged and saved through the same debounce, throttle
and data-loss guard as local edits. On SIGINT or SIGTERM the board is flushed and the room is left.

With --import the elements of a document file are merged into the board as a
local edit, broadcast to the room and saved.

Examples:
  # Keep a board saved while collaborators edit it
  boardsync attach --board roadmap

  # Import elements from a file
  boardsync attach --board roadmap --import roadmap.json

  # Expose /healthz for a supervisor
  boardsync attach --board roadmap --health-port 8080`,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVarP(&attachBoardID, "board", "b", "", "Board ID (required)")
	attachCmd.Flags().StringVar(&attachImportPath, "import", "", "Document file whose elements are merged in as a local edit")
	attachCmd.Flags().StringVar(&attachName, "name", "", "Display name (overrides participant.display_name)")
	attachCmd.Flags().IntVar(&attachHealthPort, "health-port", 0, "Serve /healthz on this port (0 disables)")
	attachCmd.Flags().BoolVarP(&attachVerbose, "verbose", "v", false, "Print every save decision")
	attachCmd.MarkFlagRequired("board")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var imported *board.Document
	if attachImportPath != "" {
		imported, err = readImport(attachImportPath)
		if err != nil {
			return printer.Error(
				"invalid import file",
				err.Error(),
				[]string{"The file must contain a board document: {\"elements\": [...]}"},
			)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := quartz.NewReal()

	b, err := openBackend(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer b.Close()

	seed, err := loadSeed(ctx, b.store, cfg, attachBoardID)
	if err != nil {
		return err
	}

	self := board.Collaborator{
		ParticipantID: uuid.NewString(),
		DisplayName:   cfg.Participant.DisplayName,
		ColorToken:    cfg.Participant.ColorToken,
	}
	if attachName != "" {
		self.DisplayName = attachName
	}

	surface := session.NewMemorySurface()
	sess, err := session.New(attachOptions(cfg, b, clock, self, seed, surface))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	surface.OnChange(sess.HandleLocalChange)

	printer.Step("Joining board '%s' as %s (%s transport, %s persistence)\n",
		attachBoardID, sess.Self().DisplayName, cfg.Transport.Kind, cfg.Persistence.Kind)

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if attachHealthPort > 0 {
		var pinger health.Pinger
		if b.redis != nil {
			pinger = b.redis
		}
		hs := health.NewServer(pinger, sess.Status)
		if err := hs.Start(fmt.Sprintf(":%d", attachHealthPort)); err != nil {
			sess.Close(context.Background())
			return printer.Error(
				"health server failed",
				err.Error(),
				[]string{"Choose a free port with --health-port"},
			)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hs.Shutdown(shutdownCtx)
		}()
		printer.Info("Health endpoint on http://%s/healthz\n", hs.Addr())
	}

	if imported != nil {
		sess.SetViewState(imported.ViewState)
		if len(imported.Files) > 0 {
			sess.SetFiles(imported.Files)
		}
		surface.Edit(elements.Merge(surface.Elements(), imported.Elements))
		printer.Info("Imported %d elements from %s\n", len(imported.Elements), attachImportPath)
	}

	<-ctx.Done()
	stop()

	printer.Step("Leaving board '%s'\n", attachBoardID)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Persistence.Timeout.Std()+5*time.Second)
	defer cancel()

	if err := sess.Close(closeCtx); err != nil {
		return printer.ErrorWithContext(
			"final save failed",
			err.Error(),
			map[string]string{"Board": attachBoardID, "Persistence": cfg.Persistence.Kind},
			[]string{"Unsaved edits are lost; check the persistence endpoint and re-import if needed"},
		)
	}

	printer.Success("Board '%s' flushed (%d active elements)\n", attachBoardID, elements.CountActive(sess.Elements()))
	return nil
}

// attachOptions builds the session options of a headless participant: remote
// edits are saved as well as local ones.
func attachOptions(cfg *config.BoardsyncConfig, b *backend, clock quartz.Clock, self board.Collaborator, seed []byte, surface session.Surface) session.Options {
	return session.Options{
		BoardID:       attachBoardID,
		Self:          self,
		Seed:          seed,
		Surface:       surface,
		Persister:     b.store,
		Transport:     b.transport,
		Clock:         clock,
		Debounce:      cfg.Save.Debounce.Std(),
		MinInterval:   cfg.Save.MinInterval.Std(),
		SaveTimeout:   cfg.Persistence.Timeout.Std(),
		StatusDisplay: cfg.Status.DisplayDuration.Std(),
		MaxAttempts:   cfg.Transport.MaxAttempts,
		RetryInterval: cfg.Transport.RetryInterval.Std(),
		SaveRemote:    true,
		Diagnostics:   printDecision,
		OnStatus: func(s status.Snapshot) {
			printer.Status(attachBoardID, s)
		},
		OnCollaborators: printCollaborators,
	}
}

// loadSeed fetches the persisted document and serializes it as the session
// seed. A board that was never saved starts empty.
func loadSeed(ctx context.Context, store persist.Loader, cfg *config.BoardsyncConfig, boardID string) ([]byte, error) {
	loadCtx, cancel := context.WithTimeout(ctx, cfg.Persistence.Timeout.Std())
	defer cancel()

	doc, err := store.Load(loadCtx, boardID)
	if err != nil {
		if persist.IsNotFound(err) {
			printer.Info("Board '%s' has no saved document yet\n", boardID)
			return nil, nil
		}
		return nil, printer.ErrorWithContext(
			"failed to load board",
			err.Error(),
			map[string]string{"Board": boardID, "Persistence": cfg.Persistence.Kind},
			[]string{"Check that the persistence endpoint is reachable"},
		)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize seed: %w", err)
	}
	return data, nil
}

func readImport(path string) (*board.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	return board.ParseDocument(data)
}

func printDecision(d save.Decision) {
	if !attachVerbose && d.Aborted() {
		return
	}
	printer.Info("  save: %s\n", d)
}

func printCollaborators(list []board.Collaborator) {
	if len(list) == 0 {
		printer.Info("  alone on the board\n")
		return
	}
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.DisplayName
	}
	printer.Info("  collaborators: %s\n", strings.Join(names, ", "))
}
