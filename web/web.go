// Package web serves a small HTTP dashboard over a broker.Broker: a
// static index page, a live SSE feed of tag writes, and a health check.
// Grounded on the teacher's web/web.go (embed.FS static handler + SSE
// endpoint), retargeted from SQL query events to tag-store events.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/mickamy/tagvault/broker"
)

//go:embed static
var staticFS embed.FS

// TagLister lists every tag currently stored, serialized against
// concurrent writes by whatever mutex the backing server already uses to
// guard its ubae.Dict. Implemented by *rbae.Server and *arbae.Server.
type TagLister interface {
	GetTags() ([]string, error)
}

// Server serves the tagvault web UI and API endpoints.
type Server struct {
	httpServer *http.Server
	broker     *broker.Broker
	tags       TagLister
}

// New creates a new web Server backed by the given Broker and TagLister.
func New(b *broker.Broker, tags TagLister) *Server {
	s := &Server{broker: b, tags: tags}

	mux := http.NewServeMux()

	sub, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /", http.FileServer(http.FS(sub)))
	mux.HandleFunc("GET /api/events", s.handleSSE)
	mux.HandleFunc("GET /api/tags", s.handleTags)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleTags(w http.ResponseWriter, _ *http.Request) {
	tags, err := s.tags.GetTags()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tags)
}

type eventJSON struct {
	Kind         string `json:"kind"`
	Tag          string `json:"tag,omitempty"`
	Length       int64  `json:"length,omitempty"`
	UserNameHash string `json:"user_name_hash,omitempty"`
}

func eventToJSON(ev broker.Event) eventJSON {
	return eventJSON{
		Kind:         ev.Kind.String(),
		Tag:          ev.Tag,
		Length:       ev.Length,
		UserNameHash: ev.UserNameHash,
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush() // send headers immediately

	ch, unsub := s.broker.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(eventToJSON(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
