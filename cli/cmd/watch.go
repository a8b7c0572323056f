package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vigil/cli/tui"
	"github.com/pithecene-io/vigil/session"
	"github.com/pithecene-io/vigil/types"
)

// tuiBuffer bounds events queued for the TUI before they are dropped.
const tuiBuffer = 1024

// WatchCommand returns the long-lived watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep a test session running, driven by the run mode",
		Flags: append(SessionFlags(),
			&cli.StringFlag{Name: "format", Usage: "Event output: text, frames or none", Value: eventsText},
			&cli.BoolFlag{Name: "tui", Usage: "Show the live timeline"},
			&cli.BoolFlag{Name: "no-fs-watch", Usage: "Do not watch the file system for saves"},
			&cli.StringFlag{Name: "log-file", Usage: "Write the session log here (with --tui the log is discarded otherwise)"},
		),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	format, err := parseEventFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if c.Bool("tui") && format == eventsFrames {
		return cli.Exit("--tui cannot be combined with --format frames", exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	var opts stackOptions
	if path := c.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open log file: %v", err), exitUsage)
		}
		defer func() { _ = f.Close() }()
		opts.LogWriter = f
	} else if c.Bool("tui") {
		opts.LogWriter = io.Discard
	}
	st, err := newStack(c, cfg, opts)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer st.closeAndLog()
	s := st.session

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !c.Bool("no-fs-watch") {
		w, err := newWatcher(st)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot watch files: %v", err), exitUsage)
		}
		defer func() { _ = w.Close() }()
		go func() {
			_ = w.Run(ctx, func(path string) {
				if _, err := s.OnFileSaved(ctx, path); err != nil && !errors.Is(err, session.ErrDeferred) {
					st.logger.Warn("on-save run rejected", map[string]any{"path": path, "error": err.Error()})
				}
			})
		}()
	}

	if c.Bool("tui") {
		return runLiveTUI(ctx, st)
	}

	out := os.Stderr
	if format == eventsFrames {
		out = os.Stdout
	}
	s.Bus().SubscribeAll(eventHandler(format, out, s.ID(), st.logger))
	if err := s.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("cannot start session: %v", err), exitUsage)
	}
	st.logger.Info("session started", map[string]any{"mode": string(s.Mode().Label())})
	<-ctx.Done()
	return nil
}

func newWatcher(st *stack) (*session.Watcher, error) {
	root := st.settings.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return session.NewWatcher(session.WatcherConfig{
		Root:     root,
		Ignore:   st.settings.Watch.Ignore,
		Debounce: st.settings.Watch.Debounce.Duration,
		Logger:   st.logger,
	})
}

// runLiveTUI feeds bus events to the live timeline until the user quits
// or ctx ends.
func runLiveTUI(ctx context.Context, st *stack) error {
	s := st.session
	events := make(chan types.RunEvent, tuiBuffer)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := s.Bus().SubscribeAll(func(e types.RunEvent) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	if err := s.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("cannot start session: %v", err), exitUsage)
	}
	return tui.RunLive(events, tui.LiveOptions{
		SessionID: s.ID(),
		ModeLabel: string(s.Mode().Label()),
		Actions: tui.Actions{
			RunAll: func() {
				if _, err := s.RunAllTests(ctx); err != nil {
					st.logger.Warn("run all tests rejected", map[string]any{"error": err.Error()})
				}
			},
			ToggleAutoRun: func() string {
				label, err := s.ToggleAutoRun(ctx)
				if err != nil {
					st.logger.Warn("toggle auto-run failed", map[string]any{"error": err.Error()})
				}
				return string(label)
			},
		},
	})
}
