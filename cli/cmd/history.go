package cmd

import (
	"errors"
	"fmt"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vigil/cli/config"
	"github.com/pithecene-io/vigil/cli/render"
	"github.com/pithecene-io/vigil/cli/tui"
	"github.com/pithecene-io/vigil/lode"
)

// HistoryCommand returns the history command with subcommands.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Read stored run history",
		Subcommands: []*cli.Command{
			{
				Name:   "sessions",
				Usage:  "List recorded session ids",
				Flags:  HistoryFlags(),
				Action: historySessionsAction,
			},
			{
				Name:  "timeline",
				Usage: "Show a session's Run Events in time order",
				Flags: append(HistoryFlags(),
					&cli.StringFlag{Name: "session", Usage: "Session id", Required: true},
					&cli.StringFlag{Name: "process", Usage: "Only this process id"},
					&cli.StringFlag{Name: "type", Usage: "Only this event type"},
				),
				Action: historyTimelineAction,
			},
			{
				Name:  "metrics",
				Usage: "Show a session's latest metrics record",
				Flags: append(HistoryFlags(),
					&cli.StringFlag{Name: "session", Usage: "Session id", Required: true},
				),
				Action: historyMetricsAction,
			},
		},
	}
}

// openHistory opens the configured dataset for reading.
func openHistory(c *cli.Context) (lodelib.Dataset, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	sc := resolveStorage(c, cfg.Storage)
	switch sc.Backend {
	case config.BackendFS:
		if sc.Path == "" {
			return nil, errors.New("--storage-path is required")
		}
		return lode.NewReadDatasetFS(sc.Dataset, sc.Path)
	case config.BackendS3:
		return lode.NewReadDatasetS3(sc.Dataset, s3Config(sc))
	case "":
		return nil, errors.New("no history storage configured (set --storage-backend or storage.backend)")
	}
	return nil, fmt.Errorf("storage backend %q cannot be read from another process", sc.Backend)
}

func historySessionsAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for history sessions", exitUsage)
	}
	r, err := render.New(c.String("format"), c.Bool("no-color"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	ds, err := openHistory(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	ids, err := lode.ListSessions(c.Context, ds)
	if err != nil {
		return err
	}
	return r.Render(ids)
}

func historyTimelineAction(c *cli.Context) error {
	r, err := render.New(c.String("format"), c.Bool("no-color"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	ds, err := openHistory(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	records, err := lode.ReadTimeline(c.Context, ds, lode.TimelineFilter{
		SessionID: c.String("session"),
		ProcessID: c.String("process"),
		EventType: c.String("type"),
	})
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return tui.Run(tui.ViewTimeline, records)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return r.Render(records)
}

func historyMetricsAction(c *cli.Context) error {
	r, err := render.New(c.String("format"), c.Bool("no-color"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	ds, err := openHistory(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	record, err := lode.QueryLatestMetrics(c.Context, ds, c.String("session"))
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit(fmt.Sprintf("no metrics recorded for session %s", c.String("session")), exitTestFailure)
	}
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return tui.Run(tui.ViewMetrics, record)
	}
	return r.Render(record)
}
