package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vigil/cli/render"
)

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "List the test files the runner finds",
		Flags:  append(SessionFlags(), FormatFlag, NoColorFlag, TUIFlag),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list", exitUsage)
	}
	r, err := render.New(c.String("format"), c.Bool("no-color"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	st, err := newStack(c, cfg, stackOptions{})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer st.closeAndLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	files, err := st.session.ListTestFiles(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot list test files: %v", err), exitTestFailure)
	}
	if files == nil {
		files = []string{}
	}
	return r.Render(files)
}
