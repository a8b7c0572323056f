package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vigil/cli/render"
	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/runmode"
)

// ModeResponse is the normalized run mode.
type ModeResponse struct {
	Label   runmode.Label  `json:"label" yaml:"label"`
	AutoRun bool           `json:"auto_run" yaml:"auto_run"`
	Current runmode.Config `json:"current" yaml:"current"`
	On      runmode.Config `json:"on" yaml:"on"`
	Off     runmode.Config `json:"off" yaml:"off"`
}

// ModeCommand returns the mode command.
func ModeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mode",
		Usage: "Show the normalized run mode and its label",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{Name: "run-mode", Usage: "Run mode shorthand to normalize instead of the config"},
			&cli.BoolFlag{Name: "toggle", Usage: "Show the mode after one auto-run toggle"},
		),
		Action: modeAction,
	}
}

func modeAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for mode", exitUsage)
	}
	r, err := render.New(c.String("format"), c.Bool("no-color"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	current := runmode.Default()
	switch {
	case c.IsSet("run-mode"):
		current, err = runmode.FromShorthand(runmode.Shorthand(c.String("run-mode")))
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
	case cfg.RunMode != nil:
		current = cfg.RunMode.Resolve(log.NewLogger("", log.WarnLevel))
	}

	m := runmode.New(current)
	if c.Bool("toggle") {
		m = m.Toggle()
	}
	return r.Render(ModeResponse{
		Label:   m.Label(),
		AutoRun: m.AutoRun(),
		Current: m.Config(),
		On:      m.On(),
		Off:     m.Off(),
	})
}
