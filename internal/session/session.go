// Package session ties one board's sync engine together: the version store,
// save coordinator, connection manager, presence tracker and status reporter
// that a single open board owns.
//
// Local edits flow surface → change check → broadcast → debounced save.
// Remote updates flow connection → merge → surface and version store, with a
// one-shot echo token so the surface's own change callback is not mistaken
// for a new local edit.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/connection"
	"github.com/dyluth/boardsync/internal/elements"
	"github.com/dyluth/boardsync/internal/presence"
	"github.com/dyluth/boardsync/internal/save"
	"github.com/dyluth/boardsync/internal/status"
	"github.com/dyluth/boardsync/internal/transport"
	"github.com/dyluth/boardsync/internal/versionstore"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/google/uuid"
)

// DefaultDisplayName is used when Options.Self has no display name.
const DefaultDisplayName = "Anonymous"

// Options configures a Session.
type Options struct {
	BoardID string

	// Self identifies the local participant. A missing participant id is
	// generated; a missing display name uses DefaultDisplayName.
	Self board.Collaborator

	// Seed is the serialized initial document. Malformed or empty input
	// yields an empty board.
	Seed []byte

	Surface   Surface
	Persister save.Persister

	// Transport is optional; without one the session works offline and only persists.
	Transport transport.Transport

	Clock quartz.Clock

	Debounce      time.Duration
	MinInterval   time.Duration
	SaveTimeout   time.Duration
	StatusDisplay time.Duration
	MaxAttempts   int
	RetryInterval time.Duration

	// Diagnostics receives every save decision, including silent aborts.
	Diagnostics func(save.Decision)

	// OnStatus and OnCollaborators observe the status reporter and presence tracker.
	OnStatus        func(status.Snapshot)
	OnCollaborators func([]board.Collaborator)

	// SaveRemote schedules a debounced save after every remote merge. Headless
	// participants set it so the board is kept saved while others edit.
	SaveRemote bool
}

// Session is one open board.
type Session struct {
	boardID string
	self    board.Collaborator
	surface Surface

	store    *versionstore.Store
	saver    *save.Coordinator
	reporter *status.Reporter
	presence *presence.Tracker
	conn     *connection.Manager

	saveRemote bool

	mu sync.Mutex
	// local is the converged set; reported is the last set the change
	// detector accepted from the surface. They differ between a remote merge
	// and the surface echoing it back.
	local     []board.Element
	reported  []board.Element
	viewState json.RawMessage
	files     map[string]json.RawMessage
	echo      *echoToken
	started   bool
	closed    bool
}

// echoToken marks the element set the session itself just pushed into the
// surface. The surface change that reports exactly this set is swallowed once.
type echoToken struct {
	expected []board.Element
}

func (t *echoToken) matches(set []board.Element) bool {
	return t != nil && !elements.IsChanged(set, t.expected)
}

// New builds a session. The seed is applied to the surface before New returns.
func New(opts Options) (*Session, error) {
	if opts.BoardID == "" {
		return nil, fmt.Errorf("board id cannot be empty")
	}
	if opts.Persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	if opts.Surface == nil {
		opts.Surface = NewMemorySurface()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Self.ParticipantID == "" {
		opts.Self.ParticipantID = uuid.NewString()
	}
	if opts.Self.DisplayName == "" {
		opts.Self.DisplayName = DefaultDisplayName
	}

	seed, err := board.ParseDocument(opts.Seed)
	if err != nil {
		log.Printf("[Session] [ERROR] board=%s ignoring malformed seed document: %v", opts.BoardID, err)
		seed = &board.Document{Elements: []board.Element{}}
	}

	s := &Session{
		boardID:    opts.BoardID,
		self:       opts.Self,
		surface:    opts.Surface,
		store:      versionstore.New(seed.Elements),
		reporter:   status.New(opts.Clock, opts.StatusDisplay),
		presence:   presence.New(opts.Self.ParticipantID),
		saveRemote: opts.SaveRemote,
		local:      elements.Clone(seed.Elements),
		reported:   elements.Clone(seed.Elements),
		viewState:  seed.ViewState,
		files:      seed.Files,
	}

	if opts.OnStatus != nil {
		s.reporter.Subscribe(opts.OnStatus)
	}
	if opts.OnCollaborators != nil {
		s.presence.OnChange(opts.OnCollaborators)
	}

	s.saver, err = save.New(save.Options{
		BoardID:     opts.BoardID,
		Persister:   opts.Persister,
		Store:       s.store,
		Clock:       opts.Clock,
		Debounce:    opts.Debounce,
		MinInterval: opts.MinInterval,
		Timeout:     opts.SaveTimeout,
		SeedActive:  seed.ActiveCount(),
		ViewState:   s.ViewState,
		Files:       s.Files,
		Status:      s.reporter,
		Diagnostics: opts.Diagnostics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create save coordinator: %w", err)
	}

	if opts.Transport != nil {
		s.conn, err = connection.New(connection.Options{
			BoardID:       opts.BoardID,
			Self:          opts.Self,
			Transport:     opts.Transport,
			Handler:       &roomHandler{s: s},
			Clock:         opts.Clock,
			MaxAttempts:   opts.MaxAttempts,
			RetryInterval: opts.RetryInterval,
		})
		if err != nil {
			s.saver.Stop()
			return nil, fmt.Errorf("failed to create connection manager: %w", err)
		}
	}

	s.logEvent("session_created", map[string]interface{}{
		"participant_id": opts.Self.ParticipantID,
		"seed_elements":  len(seed.Elements),
		"seed_active":    seed.ActiveCount(),
		"online":         s.conn != nil,
	})

	s.surface.ApplyElements(seed.Elements)

	return s, nil
}

// BoardID returns the board this session edits.
func (s *Session) BoardID() string {
	return s.boardID
}

// Self returns the local participant.
func (s *Session) Self() board.Collaborator {
	return s.self
}

// Start joins the board room. Offline sessions start immediately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if err := s.conn.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connection: %w", err)
	}
	return nil
}

// HandleLocalChange is the surface's change callback.
//
// A set equal to the pending echo token is the surface reporting a remote
// merge and is absorbed; the token only covers the next change. A set equal
// to the last reported set is a no-op.
// Anything else is broadcast immediately and scheduled for a debounced save.
func (s *Session) HandleLocalChange(set []board.Element) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	echo := s.echo
	s.echo = nil
	if echo.matches(set) {
		s.reported = elements.Clone(set)
		s.mu.Unlock()
		return
	}

	if !elements.IsChanged(set, s.reported) {
		s.mu.Unlock()
		return
	}

	s.reported = elements.Clone(set)
	s.local = elements.Clone(set)
	s.store.SetKnown(set)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Broadcast(set); err != nil {
			log.Printf("[Session] board=%s broadcast failed: %v", s.boardID, err)
		}
	}
	s.saver.Request(set)
}

// SetViewState records the surface's auxiliary view state for the next save.
func (s *Session) SetViewState(v json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewState = v
}

// ViewState returns the view state that will be saved with the elements.
func (s *Session) ViewState() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewState
}

// SetFiles records the binary file map referenced by image elements.
func (s *Session) SetFiles(files map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
}

// Files returns the file map that will be saved with the elements.
func (s *Session) Files() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files
}

// Elements returns the session's current element set.
func (s *Session) Elements() []board.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return elements.Clone(s.local)
}

// Collaborators returns the remote participants in the room.
func (s *Session) Collaborators() []board.Collaborator {
	return s.presence.List()
}

// Status returns the save state and connection indicator.
func (s *Session) Status() status.Snapshot {
	return status.Snapshot{
		State:      s.reporter.State(),
		Connection: s.reporter.Connection(),
	}
}

// Unsaved reports whether the session holds changes the backing store has not seen.
func (s *Session) Unsaved() bool {
	return s.store.Unsaved()
}

// SaveNow runs the save policy immediately for the current element set.
func (s *Session) SaveNow(ctx context.Context) save.Decision {
	return s.saver.Save(ctx, s.Elements(), false)
}

// Close tears the session down: pending timers are cancelled, one final
// save is attempted, then the room is left and presence is cleared.
// Only the first call does anything. The returned error reports a failed
// final save; guard trips and unchanged sets are not errors.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.echo = nil
	final := elements.Clone(s.local)
	s.mu.Unlock()

	d := s.saver.Flush(ctx, final)

	if s.conn != nil {
		if err := s.conn.Close(ctx); err != nil {
			log.Printf("[Session] board=%s error closing connection: %v", s.boardID, err)
		}
	}
	s.presence.Reset()
	s.reporter.Stop()

	s.logEvent("session_closed", map[string]interface{}{
		"final_save": string(d.Reason),
		"elements":   d.Total,
		"active":     d.Active,
	})

	if d.Reason == save.ReasonFailed || (d.Reason == save.ReasonInFlight && d.Err != nil) {
		return fmt.Errorf("final save failed: %w", d.Err)
	}
	return nil
}

// applyRemote merges a remote element set into the session.
func (s *Session) applyRemote(p board.ElementsUpdatePayload) {
	if p.ParticipantID != "" && p.ParticipantID == s.self.ParticipantID {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	merged := elements.Merge(s.local, p.Elements)
	if !elements.IsChanged(merged, s.local) {
		s.mu.Unlock()
		log.Printf("[Session] [DEBUG] board=%s remote update from %s changed nothing", s.boardID, p.ParticipantID)
		return
	}

	s.local = merged
	s.echo = &echoToken{expected: elements.Clone(merged)}
	s.store.SetKnown(merged)
	s.mu.Unlock()

	s.saver.Observe(merged)
	if s.saveRemote {
		s.saver.Request(merged)
	}

	s.logEvent("remote_merged", map[string]interface{}{
		"from":     p.ParticipantID,
		"received": len(p.Elements),
		"elements": len(merged),
	})

	s.surface.ApplyElements(elements.Clone(merged))
}

func (s *Session) connectionChanged(state connection.State, gaveUp bool) {
	switch state {
	case connection.StateConnecting:
		s.reporter.ConnectionChanged(status.ConnectionConnecting, false)
	case connection.StateJoined:
		s.reporter.ConnectionChanged(status.ConnectionOnline, false)
	case connection.StateDisconnected:
		s.presence.Reset()
		s.reporter.ConnectionChanged(status.ConnectionOffline, gaveUp)
	}

	s.logEvent("connection_state", map[string]interface{}{
		"state":   string(state),
		"gave_up": gaveUp,
	})
}

func (s *Session) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "session"
	data["event_type"] = eventType
	data["board"] = s.boardID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Session] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}

// roomHandler feeds connection manager callbacks into the session.
type roomHandler struct {
	s *Session
}

func (h *roomHandler) JoinElements() []board.Element {
	return h.s.Elements()
}

func (h *roomHandler) StateChanged(state connection.State, gaveUp bool) {
	h.s.connectionChanged(state, gaveUp)
}

func (h *roomHandler) HandleMessage(env board.Envelope) {
	s := h.s

	switch env.Type {
	case board.MessageCollaborators:
		var list []board.Collaborator
		if err := env.Decode(&list); err != nil {
			log.Printf("[Session] board=%s bad collaborators message: %v", s.boardID, err)
			return
		}
		s.presence.Seed(list)

	case board.MessageUserJoined:
		var c board.Collaborator
		if err := env.Decode(&c); err != nil {
			log.Printf("[Session] board=%s bad user-joined message: %v", s.boardID, err)
			return
		}
		s.presence.Join(c)

	case board.MessageUserLeft:
		var p board.UserLeftPayload
		if err := env.Decode(&p); err != nil {
			log.Printf("[Session] board=%s bad user-left message: %v", s.boardID, err)
			return
		}
		s.presence.Leave(p.ParticipantID)

	case board.MessageElementsUpdate:
		var p board.ElementsUpdatePayload
		if err := env.Decode(&p); err != nil {
			log.Printf("[Session] board=%s bad elements-update message: %v", s.boardID, err)
			return
		}
		s.applyRemote(p)

	default:
		log.Printf("[Session] [DEBUG] board=%s ignoring %s message", s.boardID, env.Type)
	}
}
