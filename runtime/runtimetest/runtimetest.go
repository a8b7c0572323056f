// Package runtimetest provides an in-memory process backend for tests.
package runtimetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/types"
)

// Backend is an in-memory runtime.Backend. Each spawned process is
// driven explicitly through its Process.
type Backend struct {
	mu        sync.Mutex
	processes []*Process
	spawned   chan *Process

	// SpawnErr, if non-nil, is returned by Spawn.
	SpawnErr error
	// KeepRunningOnStop leaves processes running when stopped; the test
	// must close them explicitly.
	KeepRunningOnStop bool
}

// NewBackend creates a backend with no processes.
func NewBackend() *Backend {
	return &Backend{spawned: make(chan *Process, 256)}
}

// Spawn implements runtime.Backend.
func (b *Backend) Spawn(ctx context.Context, spec runtime.SpawnSpec, handler runtime.Handler) (runtime.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.SpawnErr != nil {
		return nil, b.SpawnErr
	}
	p := &Process{
		Spec:     spec,
		handler:  handler,
		done:     make(chan struct{}),
		autoStop: !b.KeepRunningOnStop,
	}
	b.mu.Lock()
	b.processes = append(b.processes, p)
	b.mu.Unlock()
	b.spawned <- p
	return p, nil
}

// Processes returns every process spawned so far, in spawn order.
func (b *Backend) Processes() []*Process {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Process(nil), b.processes...)
}

// Next waits for the next spawned process.
func (b *Backend) Next(ctx context.Context) (*Process, error) {
	select {
	case p := <-b.spawned:
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no process spawned: %w", ctx.Err())
	}
}

// Process is a process spawned by Backend.
type Process struct {
	Spec runtime.SpawnSpec

	mu       sync.Mutex
	handler  runtime.Handler
	closed   bool
	stopped  bool
	autoStop bool
	done     chan struct{}
}

func (p *Process) send(n runtime.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.handler(n)
	if n.Kind == runtime.NotifyClose {
		p.closed = true
		close(p.done)
	}
}

// StdErr delivers a stderr chunk.
func (p *Process) StdErr(text string) { p.send(runtime.Notification{Kind: runtime.NotifyStdErr, Text: text}) }

// Output delivers a stdout chunk.
func (p *Process) Output(text string) { p.send(runtime.Notification{Kind: runtime.NotifyOutput, Text: text}) }

// TerminalError delivers a terminal error.
func (p *Process) TerminalError(text string) {
	p.send(runtime.Notification{Kind: runtime.NotifyTerminalError, Text: text})
}

// JSON delivers a results payload.
func (p *Process) JSON(results *types.TotalResults) {
	p.send(runtime.Notification{Kind: runtime.NotifyJSON, Results: results})
}

// Exit delivers a process-exit notification.
func (p *Process) Exit(code int) {
	p.send(runtime.Notification{Kind: runtime.NotifyExit, Code: code, CodeKnown: true})
}

// Close delivers the final process-close notification with an exit code.
func (p *Process) Close(code int) {
	p.send(runtime.Notification{Kind: runtime.NotifyClose, Code: code, CodeKnown: true})
}

// CloseSignal delivers the final notification for a signalled process.
func (p *Process) CloseSignal(signal string) {
	p.send(runtime.Notification{Kind: runtime.NotifyClose, Signal: signal})
}

// Stopped reports whether Stop was called.
func (p *Process) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Stop implements runtime.Handle. Unless the backend keeps stopped processes
// running, the process closes with SIGTERM.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	auto := p.autoStop
	p.mu.Unlock()

	if auto {
		go p.CloseSignal("SIGTERM")
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done implements runtime.Handle.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

var _ runtime.Backend = (*Backend)(nil)
