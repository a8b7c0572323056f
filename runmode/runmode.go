// Package runmode normalizes the auto-run setting into a canonical run-mode
// record and holds the on/off pair the session toggles between.
//
// Everything here is pure. Invalid input never leaves a session without a
// usable mode: it is logged and replaced by the watch default.
package runmode

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/types"
)

// Type says when runs are triggered automatically.
type Type string

const (
	// TypeWatch keeps a watch process running.
	TypeWatch Type = "watch"
	// TypeOnSave runs the saved file's tests.
	TypeOnSave Type = "on-save"
	// TypeOnDemand never runs automatically.
	TypeOnDemand Type = "on-demand"
)

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	switch t {
	case TypeWatch, TypeOnSave, TypeOnDemand:
		return true
	}
	return false
}

// RevealOutput says when the run output should be surfaced.
type RevealOutput string

const (
	RevealOnRun       RevealOutput = "on-run"
	RevealOnExecError RevealOutput = "on-exec-error"
	RevealOnDemand    RevealOutput = "on-demand"
)

// IsValid reports whether r is a known reveal policy.
func (r RevealOutput) IsValid() bool {
	switch r {
	case RevealOnRun, RevealOnExecError, RevealOnDemand:
		return true
	}
	return false
}

// Label is the derived display mode.
type Label string

const (
	LabelOff        Label = "auto-run-off"
	LabelWatch      Label = "auto-run-watch"
	LabelOnSaveTest Label = "auto-run-on-save-test"
	LabelOnSave     Label = "auto-run-on-save"
)

// Shorthand is a single-word run-mode setting.
type Shorthand string

const (
	ShorthandWatch   Shorthand = "watch"
	ShorthandOnSave  Shorthand = "on-save"
	ShorthandOff     Shorthand = "off"
	ShorthandLegacy  Shorthand = "legacy"
	ShorthandDefault Shorthand = "default"
)

// Shorthands lists every accepted shorthand.
func Shorthands() []Shorthand {
	return []Shorthand{ShorthandWatch, ShorthandOnSave, ShorthandOff, ShorthandLegacy, ShorthandDefault}
}

// ErrInvalidShorthand is returned for an unknown shorthand string.
var ErrInvalidShorthand = errors.New("invalid run mode shorthand")

// ErrInvalidConfig is returned for a canonical config that fails validation.
var ErrInvalidConfig = errors.New("invalid run mode")

// Config is the canonical run-mode record.
type Config struct {
	Type         Type         `yaml:"type" json:"type"`
	RevealOutput RevealOutput `yaml:"reveal_output,omitempty" json:"reveal_output,omitempty"`
	// TestFileOnly limits on-save runs to test files.
	TestFileOnly bool `yaml:"test_file_only,omitempty" json:"test_file_only,omitempty"`
	Coverage     bool `yaml:"coverage,omitempty" json:"coverage,omitempty"`
	// Deferred holds automatic runs until the session is undeferred.
	Deferred             bool `yaml:"deferred,omitempty" json:"deferred,omitempty"`
	RunAllTestsOnStartup bool `yaml:"run_all_tests_on_startup,omitempty" json:"run_all_tests_on_startup,omitempty"`
}

// Default is the fallback mode.
func Default() Config {
	return Config{Type: TypeWatch, RevealOutput: RevealOnRun}
}

// Validate checks the type and reveal policy.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: type %q", ErrInvalidConfig, c.Type)
	}
	if c.RevealOutput != "" && !c.RevealOutput.IsValid() {
		return fmt.Errorf("%w: reveal_output %q", ErrInvalidConfig, c.RevealOutput)
	}
	return nil
}

func (c Config) normalized() Config {
	if c.RevealOutput == "" {
		c.RevealOutput = RevealOnRun
	}
	if c.Type != TypeOnSave {
		c.TestFileOnly = false
	}
	return c
}

// Label derives the display mode from c.
func (c Config) Label() Label {
	switch c.Type {
	case TypeWatch:
		return LabelWatch
	case TypeOnSave:
		if c.TestFileOnly {
			return LabelOnSaveTest
		}
		return LabelOnSave
	default:
		return LabelOff
	}
}

// FromShorthand translates a shorthand string.
func FromShorthand(s Shorthand) (Config, error) {
	switch s {
	case ShorthandWatch, ShorthandDefault, "":
		return Default(), nil
	case ShorthandOnSave:
		return Config{Type: TypeOnSave, RevealOutput: RevealOnRun}, nil
	case ShorthandOff:
		return Config{Type: TypeOnDemand, RevealOutput: RevealOnRun}, nil
	case ShorthandLegacy:
		return Config{Type: TypeWatch, RevealOutput: RevealOnRun, RunAllTestsOnStartup: true}, nil
	}
	return Config{}, fmt.Errorf("%w: %q", ErrInvalidShorthand, s)
}

// OnSaveTarget is the legacy on-save setting.
type OnSaveTarget string

const (
	OnSaveTestFile    OnSaveTarget = "test-file"
	OnSaveTestSrcFile OnSaveTarget = "test-src-file"
)

// Legacy is the deprecated `{watch, on_save, on_startup}` grammar.
type Legacy struct {
	Watch     bool                `yaml:"watch"`
	OnSave    OnSaveTarget        `yaml:"on_save,omitempty"`
	OnStartup []types.RequestKind `yaml:"on_startup,omitempty"`
}

// Config translates the legacy grammar. Watch wins over on-save.
func (l Legacy) Config() Config {
	c := Config{Type: TypeOnDemand, RevealOutput: RevealOnRun}
	switch {
	case l.Watch:
		c.Type = TypeWatch
	case l.OnSave == OnSaveTestFile:
		c.Type = TypeOnSave
		c.TestFileOnly = true
	case l.OnSave == OnSaveTestSrcFile:
		c.Type = TypeOnSave
	}
	c.RunAllTestsOnStartup = slices.Contains(l.OnStartup, types.KindAllTests)
	return c
}

// Resolve translates any setting form into a valid config. Invalid input
// is logged and replaced by Default.
func (s Setting) Resolve(logger *log.Logger) Config {
	var (
		c   Config
		err error
	)
	switch {
	case s.Config != nil:
		c = *s.Config
		err = c.Validate()
	case s.Legacy != nil:
		c = s.Legacy.Config()
	default:
		c, err = FromShorthand(s.Shorthand)
	}
	if err != nil {
		logger.Error("invalid run mode, falling back to watch", map[string]any{"error": err.Error()})
		return Default()
	}
	return c.normalized()
}

// Mode holds the "on" and "off" configs side by side. Toggling switches
// which one is current and never discards the other.
type Mode struct {
	on     Config
	off    Config
	active bool
}

// New creates a Mode whose current config is c. The alternate config keeps
// c's reveal and coverage settings.
func New(c Config) Mode {
	c = c.normalized()
	if c.Type == TypeOnDemand {
		on := Default()
		on.RevealOutput = c.RevealOutput
		on.Coverage = c.Coverage
		return Mode{on: on, off: c}
	}
	off := Config{Type: TypeOnDemand, RevealOutput: c.RevealOutput, Coverage: c.Coverage}
	return Mode{on: c, off: off, active: true}
}

// Config returns the current config.
func (m Mode) Config() Config {
	if m.active {
		return m.on
	}
	return m.off
}

// On returns the held "on" config.
func (m Mode) On() Config { return m.on }

// Off returns the held "off" config.
func (m Mode) Off() Config { return m.off }

// AutoRun reports whether the "on" config is current.
func (m Mode) AutoRun() bool { return m.active }

// Toggle returns m with the other config current.
func (m Mode) Toggle() Mode {
	m.active = !m.active
	return m
}

// Label derives the display mode from the current config.
func (m Mode) Label() Label {
	return m.Config().Label()
}
