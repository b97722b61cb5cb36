// Package session wires one visualizer instance together: the event loop,
// the note engine, the animator, the key event bus and the config watcher.
// Everything it creates is released by Dispose.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/DmNote-App/DmNote/internal/bus"
	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/eventloop"
	"github.com/DmNote-App/DmNote/internal/input"
	"github.com/DmNote-App/DmNote/internal/logging"
	"github.com/DmNote-App/DmNote/internal/notes"
	"github.com/DmNote-App/DmNote/internal/render"
)

type Options struct {
	Config config.Config
	// ConfigPath, when set, is watched and reloads are applied live.
	ConfigPath string
	Clock      eventloop.Clock
	Presenter  render.Presenter
	Logger     *slog.Logger
}

type Session struct {
	id       string
	loop     *eventloop.Loop
	sys      *notes.System
	anim     *render.Animator
	keys     bus.Bus[input.Event]
	watcher  *config.Watcher
	cfg      config.Config
	disposed bool
	logger   *slog.Logger
}

// New builds a session. The loop does not run until Run is called.
func New(opts Options) (*Session, error) {
	cfg := opts.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	id := uuid.NewString()
	logger := logging.OrDefault(opts.Logger).With("session", id[:8])

	loop := eventloop.New(opts.Clock, logger)
	sys := notes.New(loop, notes.Options{
		Capacity: cfg.Capacity,
		Settings: cfg.Notes,
		Layouts:  config.Layouts(cfg.Tracks),
		Disabled: !cfg.NoteEffect,
		Logger:   logger,
	})

	s := &Session{
		id:     id,
		loop:   loop,
		sys:    sys,
		cfg:    cfg,
		logger: logger,
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = render.LogPresenter{Logger: logger}
	}
	s.anim = render.NewAnimator(loop, sys, presenter, cfg.Render.FPS, logger)

	if opts.ConfigPath != "" {
		w, err := config.Watch(opts.ConfigPath, func(c config.Config) {
			loop.Post(func() { s.ApplyConfig(c) })
		}, logger)
		if err != nil {
			s.Dispose()
			return nil, err
		}
		s.watcher = w
	}

	logger.Info("session: ready",
		"tracks", len(cfg.Tracks),
		"capacity", cfg.Capacity,
		"speed", cfg.Notes.Speed,
		"delayed", cfg.Notes.DelayedNoteEnabled,
		"noteEffect", cfg.NoteEffect)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Loop() *eventloop.Loop { return s.loop }

func (s *Session) System() *notes.System { return s.sys }

func (s *Session) Animator() *render.Animator { return s.anim }

// Handle queues e for the loop. Safe from any goroutine; sources use it as
// their input.Handler.
func (s *Session) Handle(e input.Event) {
	s.loop.Post(func() { s.Dispatch(e) })
}

// Dispatch feeds e to key listeners and the note engine. Events tagged with
// a mode other than the configured one are dropped. Loop goroutine only.
func (s *Session) Dispatch(e input.Event) {
	if s.disposed {
		return
	}
	if e.Mode != "" && s.cfg.Input.Mode != "" && e.Mode != s.cfg.Input.Mode {
		s.logger.Debug("session: event for other mode dropped", "key", e.Key, "mode", e.Mode)
		return
	}
	s.keys.Notify(e)
	switch e.Edge {
	case input.Down:
		s.sys.HandleKeyDown(e.Key)
	case input.Up:
		s.sys.HandleKeyUp(e.Key)
	}
}

// SubscribeKeys registers fn for every dispatched key edge. Loop goroutine
// only.
func (s *Session) SubscribeKeys(fn func(input.Event)) (unsubscribe func()) {
	return s.keys.Subscribe(fn)
}

// ApplyConfig swaps in a new configuration without restarting. Loop
// goroutine only.
func (s *Session) ApplyConfig(cfg config.Config) {
	if s.disposed {
		return
	}
	cfg = cfg.Normalize()
	s.cfg = cfg
	s.sys.UpdateSettings(cfg.Notes)
	s.sys.UpdateTrackLayouts(config.Layouts(cfg.Tracks))
	s.sys.SetEnabled(cfg.NoteEffect)
	s.logger.Info("session: config applied", "tracks", len(cfg.Tracks), "speed", cfg.Notes.Speed)
}

// Config returns the configuration in effect. Loop goroutine only.
func (s *Session) Config() config.Config { return s.cfg }

// Run drives the loop until ctx is done, then disposes the session.
func (s *Session) Run(ctx context.Context) error {
	err := s.loop.Run(ctx)
	s.Dispose()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dispose stops the watcher and cancels every timer the session owns. It
// must not run concurrently with the loop.
func (s *Session) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("session: closing config watcher", "err", err)
		}
	}
	s.anim.Close()
	s.sys.Close()
	s.loop.Drain()
	s.logger.Info("session: disposed", "pending", s.loop.Pending())
}
