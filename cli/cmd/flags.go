// Package cmd provides the vigil CLI commands.
package cmd

import "github.com/urfave/cli/v2"

// Output flags shared by read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode",
	}
)

// ReadOnlyFlags returns the output flags. --tui is always registered so
// commands without a TUI can reject it with a clear message.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag, TUIFlag}
}

// ConfigFlag points at a vigil.yaml; without it ./vigil.yaml is used when
// present.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to vigil.yaml (default: ./vigil.yaml when present)",
	EnvVars: []string{"VIGIL_CONFIG"},
}

// SessionFlags configure a test session. Every one overrides the matching
// vigil.yaml key.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{Name: "root", Usage: "Project root the runner starts in"},
		&cli.StringFlag{Name: "command", Usage: "Runner command line (default: npx jest)"},
		&cli.StringFlag{Name: "shell", Usage: "Shell that runs the command (default: /bin/sh)"},
		&cli.BoolFlag{Name: "login-shell", Usage: "Start with the login shell"},
		&cli.StringFlag{Name: "long-run-threshold", Usage: "Warn when a run exceeds this duration, or \"off\""},
		&cli.StringFlag{Name: "run-mode", Usage: "Run mode shorthand: watch, on-save, off, legacy, default"},
		&cli.IntFlag{Name: "non-blocking-limit", Usage: "Max concurrent non-blocking runs (0 = unlimited)"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error", EnvVars: []string{"VIGIL_LOG_LEVEL"}},
		&cli.BoolFlag{Name: "snapshot-update", Usage: "Offer update-snapshot runs after snapshot failures"},
		// History
		&cli.StringFlag{Name: "storage-backend", Usage: "History backend: fs, s3 or memory (empty disables history)"},
		&cli.StringFlag{Name: "storage-path", Usage: "History path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Endpoint for S3-compatible providers"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Use path-style S3 addressing"},
		&cli.StringFlag{Name: "dataset", Usage: "History dataset id (default: vigil)"},
		// Notifications
		&cli.StringFlag{Name: "adapter", Usage: "Run-finished notifications: redis or webhook"},
		&cli.StringFlag{Name: "adapter-url", Usage: "Redis URL or webhook endpoint"},
		&cli.StringFlag{Name: "adapter-channel", Usage: "Redis channel"},
		&cli.DurationFlag{Name: "adapter-timeout", Usage: "Per-notification timeout"},
		&cli.IntFlag{Name: "adapter-retries", Usage: "Notification retries", Value: 3},
	}
}

// HistoryFlags select a history dataset to read.
func HistoryFlags() []cli.Flag {
	return append(ReadOnlyFlags(),
		ConfigFlag,
		&cli.StringFlag{Name: "storage-backend", Usage: "History backend: fs or s3"},
		&cli.StringFlag{Name: "storage-path", Usage: "History path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Endpoint for S3-compatible providers"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Use path-style S3 addressing"},
		&cli.StringFlag{Name: "dataset", Usage: "History dataset id (default: vigil)"},
	)
}
