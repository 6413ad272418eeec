package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dyluth/boardsync/pkg/board"
)

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	// BaseURL is the endpoint root; documents live at {BaseURL}/boards/{id}/document.
	BaseURL string

	// Header is added to every request, e.g. for authentication.
	Header http.Header

	// Client defaults to an http.Client with Timeout.
	Client  *http.Client
	Timeout time.Duration
}

// HTTPStore talks to a REST persistence endpoint.
type HTTPStore struct {
	base   *url.URL
	header http.Header
	client *http.Client
}

// NewHTTPStore validates the base URL and returns a store.
func NewHTTPStore(opts HTTPOptions) (*HTTPStore, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid persistence url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported persistence url scheme %q", base.Scheme)
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPStore{base: base, header: opts.Header, client: client}, nil
}

// DocumentURL returns the URL of a board's document.
func (s *HTTPStore) DocumentURL(boardID string) string {
	return s.base.JoinPath("boards", boardID, "document").String()
}

// Persist replaces the board's document with a PUT.
func (s *HTTPStore) Persist(ctx context.Context, boardID string, doc *board.Document) error {
	if boardID == "" {
		return fmt.Errorf("board id cannot be empty")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPut, s.DocumentURL(boardID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// Load fetches the board's document. A 404 is reported as ErrNotFound.
func (s *HTTPStore) Load(ctx context.Context, boardID string) (*board.Document, error) {
	resp, err := s.do(ctx, http.MethodGet, s.DocumentURL(boardID), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := board.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

// do sends a request and turns non-2xx responses into a *StatusError.
// On success the caller owns resp.Body.
func (s *HTTPStore) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s document: %w", strings.ToLower(method), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	return resp, nil
}
