package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/boardsync/internal/status"
)

// Pinger checks backend connectivity. *board.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the HTTP health check endpoint for a headless board session.
type Server struct {
	pinger Pinger
	status func() status.Snapshot

	server   *http.Server
	listener net.Listener
}

// NewServer creates a new health check server. pinger may be nil when the
// session runs without Redis; state reports the session's indicator.
func NewServer(pinger Pinger, state func() status.Snapshot) *Server {
	return &Server{
		pinger: pinger,
		status: state,
	}
}

// Start binds addr (":0" picks a free port) and serves /healthz in the background.
func (h *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.listener = listener

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[Health] [ERROR] Health server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *Server) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown gracefully shuts down the health check server.
func (h *Server) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK when Redis answers and the session is joined to its room,
// 503 Service Unavailable otherwise.
func (h *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := Response{Status: "healthy"}
	code := http.StatusOK

	if h.pinger != nil {
		if err := h.pinger.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Redis = "disconnected"
			response.Error = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			response.Redis = "connected"
		}
	}

	if h.status != nil {
		snap := h.status()
		response.Connection = string(snap.Connection)
		response.Save = string(snap.State)
		if snap.Connection != status.ConnectionOnline {
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

// Response is the JSON response structure for health checks.
type Response struct {
	Status     string `json:"status"`
	Redis      string `json:"redis,omitempty"`
	Connection string `json:"connection,omitempty"`
	Save       string `json:"save,omitempty"`
	Error      string `json:"error,omitempty"`
}
