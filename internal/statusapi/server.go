// Package statusapi exposes a small read-mostly HTTP view of the note engine.
// Handlers never touch engine state directly; every read and write runs on
// the event loop through Call.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/DmNote-App/DmNote/internal/logging"
	"github.com/DmNote-App/DmNote/internal/notes"
	"github.com/DmNote-App/DmNote/internal/notestore"
)

const callTimeout = 2 * time.Second

// Caller runs fn on the goroutine that owns the engine and waits for it.
type Caller interface {
	Call(ctx context.Context, fn func()) error
}

type Engine interface {
	Stats() notes.Stats
	Notes() []notestore.Note
	Enabled() bool
	SetEnabled(on bool)
}

type Server struct {
	loop    Caller
	engine  Engine
	session string
	router  *mux.Router
	logger  *slog.Logger
}

func New(loop Caller, engine Engine, session string, logger *slog.Logger) *Server {
	s := &Server{
		loop:    loop,
		engine:  engine,
		session: session,
		router:  mux.NewRouter().StrictSlash(true),
		logger:  logging.OrDefault(logger),
	}
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/notes", s.handleNotes).Methods(http.MethodGet)
	api.HandleFunc("/note-effect", s.handleNoteEffect).Methods(http.MethodGet, http.MethodPut)
	return s
}

// Handler is the router wrapped with a permissive CORS policy so overlay
// pages served from elsewhere can poll it.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("statusapi: listening", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("statusapi: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("statusapi shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("statusapi: %w", err)
	}
	return nil
}

type statsResponse struct {
	Session string      `json:"session"`
	Stats   notes.Stats `json:"stats"`
}

type noteJSON struct {
	ID     string  `json:"id"`
	Key    string  `json:"key"`
	Start  float64 `json:"start"`
	End    float64 `json:"end,omitempty"`
	Active bool    `json:"active"`
}

type noteEffect struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var st notes.Stats
	if !s.call(w, r, func() { st = s.engine.Stats() }) {
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{Session: s.session, Stats: st})
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	var live []notestore.Note
	if !s.call(w, r, func() { live = s.engine.Notes() }) {
		return
	}
	out := make([]noteJSON, len(live))
	for i, n := range live {
		out[i] = noteJSON{ID: n.ID, Key: n.Key, Start: n.Start, Active: n.Active}
		if !n.Active {
			out[i].End = n.End
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNoteEffect(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var body noteEffect
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
			return
		}
		on := *body.Enabled
		if !s.call(w, r, func() { s.engine.SetEnabled(on) }) {
			return
		}
		s.logger.Info("statusapi: note effect set", "enabled", on, "remote", r.RemoteAddr)
	}

	var on bool
	if !s.call(w, r, func() { on = s.engine.Enabled() }) {
		return
	}
	s.writeJSON(w, http.StatusOK, noteEffect{Enabled: &on})
}

// call runs fn on the loop. On failure it writes the error response and
// reports false.
func (s *Server) call(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()
	if err := s.loop.Call(ctx, fn); err != nil {
		s.logger.Warn("statusapi: loop call failed", "path", r.URL.Path, "err", err)
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("statusapi: write response", "err", err)
	}
}
