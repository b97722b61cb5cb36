package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/input"
	"github.com/DmNote-App/DmNote/internal/logging"
	"github.com/DmNote-App/DmNote/internal/notes"
	"github.com/DmNote-App/DmNote/internal/render"
	"github.com/DmNote-App/DmNote/internal/session"
	"github.com/DmNote-App/DmNote/internal/statusapi"
)

// source feeds key edges to handle until ctx is done or it runs dry.
type source func(ctx context.Context, cfg config.Config, handle input.Handler) error

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// run starts a session fed by src and blocks until src ends, the terminal
// view quits, or the process is interrupted. readsStdin keeps the terminal
// view off stdin.
func run(cmd *cobra.Command, opts *rootOptions, readsStdin bool, src source) error {
	logger := logging.Init(opts.debug)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var term *render.Terminal
	var presenter render.Presenter = render.LogPresenter{Logger: logger}
	if opts.tui {
		teaOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
		if readsStdin {
			teaOpts = append(teaOpts, tea.WithInput(nil))
		}
		term = render.NewTerminal(cfg.Render, cfg.Tracks, teaOpts...)
		presenter = term
	}

	sess, err := session.New(session.Options{
		Config:     cfg,
		ConfigPath: opts.configPath,
		Presenter:  presenter,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	created := 0
	sess.System().Subscribe(func(e notes.Event) {
		if e.Type == notes.EventAdd {
			created++
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		err := src(gctx, cfg, sess.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		// let the loop consume everything the source posted
		_ = sess.Loop().Call(gctx, func() {})
		return nil
	})
	if opts.httpAddr != "" {
		api := statusapi.New(sess.Loop(), sess.System(), sess.ID(), logger)
		g.Go(func() error { return api.ListenAndServe(gctx, opts.httpAddr) })
	}
	if term != nil {
		g.Go(func() error {
			defer cancel()
			return term.Run()
		})
	}

	err = g.Wait()
	fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d notes, %d frames\n",
		sess.ID()[:8], created, sess.Animator().Frames())
	if errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
