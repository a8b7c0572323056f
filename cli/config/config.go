package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/vigil/runmode"
)

// DefaultFile is the config file looked up in the working directory when
// --config is not given.
const DefaultFile = "vigil.yaml"

// Config represents a vigil.yaml file. Every value is optional and acts as
// a default for the matching command flag; flags always win.
type Config struct {
	RootPath         string           `yaml:"root_path"`
	Command          string           `yaml:"command"`
	Shell            string           `yaml:"shell"`
	UseLoginShell    bool             `yaml:"use_login_shell"`
	LongRunThreshold Threshold        `yaml:"long_run_threshold"`
	RunMode          *runmode.Setting `yaml:"run_mode"`
	NonBlockingLimit int              `yaml:"non_blocking_limit"`
	Watch            WatchConfig      `yaml:"watch"`
	LogLevel         string           `yaml:"log_level"`
	Storage          StorageConfig    `yaml:"storage"`
	Adapter          AdapterConfig    `yaml:"adapter"`

	EnableSnapshotUpdate bool `yaml:"enable_snapshot_update"`
}

// WatchConfig tunes the on-save file watcher.
type WatchConfig struct {
	Debounce Duration `yaml:"debounce"`
	// MinInterval is the sustained minimum gap between on-save runs.
	MinInterval Duration `yaml:"min_interval"`
	Burst       int      `yaml:"burst"`
	Ignore      []string `yaml:"ignore"`
}

// StorageConfig selects where run history is written.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Enabled reports whether history storage is configured.
func (s StorageConfig) Enabled() bool {
	return s.Backend != ""
}

// AdapterConfig selects the run-finished notification target.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML strings like "250ms" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Threshold is long_run_threshold: a duration, or "off".
type Threshold struct {
	Duration time.Duration
	Off      bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil
	case "off", "false", "none":
		t.Off = true
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid long_run_threshold %q: %w", s, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("long_run_threshold must be positive, got %s", s)
	}
	t.Duration = parsed
	return nil
}

// Value maps the threshold onto session.Config.LongRunThreshold: zero for
// the default and negative when disabled.
func (t Threshold) Value() time.Duration {
	if t.Off {
		return -1
	}
	return t.Duration
}

// Storage backends.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Adapter types.
const (
	AdapterRedis   = "redis"
	AdapterWebhook = "webhook"
)

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "", BackendMemory:
	case BackendFS, BackendS3:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for backend %q", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be fs, s3 or memory, got %q", c.Storage.Backend))
	}
	switch c.Adapter.Type {
	case "":
	case AdapterRedis, AdapterWebhook:
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for adapter %q", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be redis or webhook, got %q", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries must not be negative"))
	}
	if c.NonBlockingLimit < 0 {
		errs = append(errs, errors.New("non_blocking_limit must not be negative"))
	}
	if c.Watch.Burst < 0 {
		errs = append(errs, errors.New("watch.burst must not be negative"))
	}
	return errors.Join(errs...)
}
