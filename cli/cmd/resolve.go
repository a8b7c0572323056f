package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vigil/cli/config"
	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/runmode"
)

// loadConfig loads --config, or ./vigil.yaml when the flag is absent.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadDefault("")
}

// resolveString returns the flag when it was set explicitly, else the
// config value, else the flag's default.
func resolveString(c *cli.Context, name, configValue string) string {
	if c.IsSet(name) || configValue == "" {
		return c.String(name)
	}
	return configValue
}

func resolveInt(c *cli.Context, name string, configValue int) int {
	if c.IsSet(name) || configValue == 0 {
		return c.Int(name)
	}
	return configValue
}

func resolveBool(c *cli.Context, name string, configValue bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return configValue
}

func resolveDuration(c *cli.Context, name string, configValue time.Duration) time.Duration {
	if c.IsSet(name) || configValue == 0 {
		return c.Duration(name)
	}
	return configValue
}

// settings is the merged flag and file configuration of one session.
type settings struct {
	Root             string
	Command          string
	Shell            string
	LoginShell       bool
	LongRunThreshold time.Duration
	RunMode          runmode.Config
	NonBlockingLimit int
	LogLevel         string
	SnapshotUpdate   bool
	Watch            config.WatchConfig
	Storage          config.StorageConfig
	Adapter          config.AdapterConfig
}

func resolveSettings(c *cli.Context, cfg *config.Config, logger *log.Logger) (settings, error) {
	s := settings{
		Root:             resolveString(c, "root", cfg.RootPath),
		Command:          resolveString(c, "command", cfg.Command),
		Shell:            resolveString(c, "shell", cfg.Shell),
		LoginShell:       resolveBool(c, "login-shell", cfg.UseLoginShell),
		LongRunThreshold: cfg.LongRunThreshold.Value(),
		NonBlockingLimit: resolveInt(c, "non-blocking-limit", cfg.NonBlockingLimit),
		LogLevel:         resolveString(c, "log-level", cfg.LogLevel),
		SnapshotUpdate:   resolveBool(c, "snapshot-update", cfg.EnableSnapshotUpdate),
		Watch:            cfg.Watch,
		Storage:          resolveStorage(c, cfg.Storage),
		Adapter:          cfg.Adapter,
	}

	if c.IsSet("long-run-threshold") {
		d, err := parseThreshold(c.String("long-run-threshold"))
		if err != nil {
			return settings{}, err
		}
		s.LongRunThreshold = d
	}

	switch {
	case c.IsSet("run-mode"):
		mode, err := runmode.FromShorthand(runmode.Shorthand(c.String("run-mode")))
		if err != nil {
			return settings{}, err
		}
		s.RunMode = mode
	case cfg.RunMode != nil:
		s.RunMode = cfg.RunMode.Resolve(logger)
	default:
		s.RunMode = runmode.Default()
	}

	s.Adapter.Type = resolveString(c, "adapter", cfg.Adapter.Type)
	s.Adapter.URL = resolveString(c, "adapter-url", cfg.Adapter.URL)
	s.Adapter.Channel = resolveString(c, "adapter-channel", cfg.Adapter.Channel)
	s.Adapter.Timeout.Duration = resolveDuration(c, "adapter-timeout", cfg.Adapter.Timeout.Duration)
	if c.IsSet("adapter-retries") || cfg.Adapter.Retries == nil {
		retries := c.Int("adapter-retries")
		s.Adapter.Retries = &retries
	}

	merged := config.Config{Storage: s.Storage, Adapter: s.Adapter, NonBlockingLimit: s.NonBlockingLimit}
	if err := merged.Validate(); err != nil {
		return settings{}, err
	}
	return s, nil
}

func resolveStorage(c *cli.Context, sc config.StorageConfig) config.StorageConfig {
	return config.StorageConfig{
		Backend:     resolveString(c, "storage-backend", sc.Backend),
		Path:        resolveString(c, "storage-path", sc.Path),
		Region:      resolveString(c, "storage-region", sc.Region),
		Endpoint:    resolveString(c, "storage-endpoint", sc.Endpoint),
		S3PathStyle: resolveBool(c, "storage-s3-path-style", sc.S3PathStyle),
		Dataset:     resolveString(c, "dataset", sc.Dataset),
	}
}

func parseThreshold(s string) (time.Duration, error) {
	if strings.EqualFold(s, "off") {
		return -1, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid --long-run-threshold %q: want a positive duration or \"off\"", s)
	}
	return d, nil
}
