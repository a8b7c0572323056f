package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pithecene-io/vigil/iox"
	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/types"
)

// stopGrace is how long a stopped process may take to exit after SIGTERM
// before it is killed.
const stopGrace = 5 * time.Second

// maxLineBytes bounds a single output line.
const maxLineBytes = 4 * 1024 * 1024

// ExecBackend spawns runner processes through the configured shell.
type ExecBackend struct {
	config CommandConfig
	logger *log.Logger
}

// NewExecBackend creates an exec-based backend. logger may be nil.
func NewExecBackend(config CommandConfig, logger *log.Logger) *ExecBackend {
	return &ExecBackend{config: config.withDefaults(), logger: logger}
}

// Spawn implements Backend.
func (b *ExecBackend) Spawn(ctx context.Context, spec SpawnSpec, handler Handler) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputFile := ""
	if spec.Request.Kind != types.KindListTestFiles && spec.Request.Kind != types.KindNotTest {
		outputFile = filepath.Join(os.TempDir(), fmt.Sprintf("vigil-%s.json", spec.ProcessID))
	}
	args, err := BuildArgs(spec.Request, outputFile, b.config.ReporterArgs)
	if err != nil {
		return nil, err
	}
	line := CommandLine(b.config.Command, args)
	argv := ShellArgs(b.config.Shell, spec.LoginShell, line)

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, argv[0], argv[1:]...)
	cmd.Dir = b.config.RootPath
	cmd.Env = buildEnv(b.config.Env)
	// The shell and the runner it starts share a process group so a stop
	// reaches the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = stopGrace

	p := &execProcess{
		spec:       spec,
		cmd:        cmd,
		cancel:     cancel,
		handler:    handler,
		outputFile: outputFile,
		logger:     b.logger.ForProcess(spec.ProcessID, string(spec.Request.Kind)),
		notes:      make(chan Notification, 64),
		done:       make(chan struct{}),
	}

	b.logger.Debug("spawning runner", map[string]any{
		"process_id":  spec.ProcessID,
		"command":     line,
		"login_shell": spec.LoginShell,
	})

	go p.dispatch()
	p.start()
	return p, nil
}

// execProcess is one running runner process.
type execProcess struct {
	spec       SpawnSpec
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	handler    Handler
	outputFile string
	logger     *log.Logger

	notes     chan Notification
	done      chan struct{}
	closeOnce sync.Once
}

func (p *execProcess) start() {
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		p.fail(fmt.Errorf("failed to create stdout pipe: %w", err))
		return
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		p.fail(fmt.Errorf("failed to create stderr pipe: %w", err))
		return
	}
	if err := p.cmd.Start(); err != nil {
		p.fail(fmt.Errorf("failed to start runner: %w", err))
		return
	}

	go p.supervise(stdout, stderr)
}

// fail reports a start failure and terminates the notification stream.
func (p *execProcess) fail(err error) {
	p.cancel()
	iox.DiscardRemove(p.outputFile)
	p.notes <- Notification{Kind: NotifyTerminalError, Text: err.Error()}
	p.notes <- Notification{Kind: NotifyClose}
	close(p.notes)
}

func (p *execProcess) supervise(stdout, stderr io.Reader) {
	defer iox.DiscardRemove(p.outputFile)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.pump(stdout, NotifyOutput)
	}()
	go func() {
		defer wg.Done()
		p.pump(stderr, NotifyStdErr)
	}()
	wg.Wait()

	exit := exitStatus(p.cmd.Wait())
	p.cancel()

	exitNote := exit
	exitNote.Kind = NotifyExit
	p.notes <- exitNote

	if results := p.readResults(); results != nil {
		p.notes <- Notification{Kind: NotifyJSON, Results: results}
	}

	closeNote := exit
	closeNote.Kind = NotifyClose
	p.notes <- closeNote
	close(p.notes)
}

// pump forwards r line by line.
func (p *execProcess) pump(r io.Reader, kind NotificationKind) {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		if line != "" {
			p.notes <- Notification{Kind: kind, Text: line}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.notes <- Notification{Kind: NotifyTerminalError, Text: err.Error()}
			}
			return
		}
	}
}

func (p *execProcess) readResults() *types.TotalResults {
	if p.outputFile == "" {
		return nil
	}
	data, err := os.ReadFile(p.outputFile)
	if err != nil || len(data) == 0 {
		p.logger.Debug("no results file", map[string]any{"path": p.outputFile})
		return nil
	}
	var results types.TotalResults
	if err := json.Unmarshal(data, &results); err != nil {
		p.logger.Warn("unparseable results file", map[string]any{
			"path":  p.outputFile,
			"error": err.Error(),
		})
		return nil
	}
	results.Raw = data
	return &results
}

// dispatch delivers notifications to the handler one at a time.
func (p *execProcess) dispatch() {
	defer p.closeOnce.Do(func() { close(p.done) })
	for n := range p.notes {
		p.handler(n)
	}
}

// Stop implements Handle.
func (p *execProcess) Stop(ctx context.Context) error {
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop process %s: %w", p.spec.ProcessID, ctx.Err())
	}
}

// Done implements Handle.
func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

// exitStatus classifies the error returned by cmd.Wait.
func exitStatus(err error) Notification {
	if err == nil {
		return Notification{Code: 0, CodeKnown: true}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return Notification{Signal: status.Signal().String()}
		}
		return Notification{Code: exitErr.ExitCode(), CodeKnown: true}
	}
	return Notification{Signal: "unknown"}
}
