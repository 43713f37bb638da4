// Package backend spawns and owns one language analysis subprocess per session.
package backend

import (
	"bufio"
	"io"
	"os/exec"
	"sync"

	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/errors"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Spawner launches backend processes for new sessions.
type Spawner interface {
	// Spawn starts the configured backend with its working directory set to
	// executionRoot. A missing or unlaunchable executable yields a SpawnError.
	Spawn(cfg entity.BackendConfig, executionRoot string) (entity.BackendProcess, error)
}

type spawner struct {
	logger *zap.SugaredLogger
}

// New creates a Spawner.
func New(logger *zap.SugaredLogger) Spawner {
	return &spawner{logger: logger}
}

func (s *spawner) Spawn(cfg entity.BackendConfig, executionRoot string) (entity.BackendProcess, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	// The backend discovers root-relative configuration via its working directory.
	cmd.Dir = executionRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: cfg.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: cfg.Command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &errors.SpawnError{Command: cfg.Command, Err: err}
	}

	p := &process{
		cmd:    cmd,
		stream: jsonrpc2.NewStream(stdioPipe{in: stdin, out: stdout}),
		logger: s.logger.With("backend", cfg.Command, "pid", cmd.Process.Pid),
	}
	go p.drainStderr(stderr)

	s.logger.Infow("backend started", "command", cfg.Command, "pid", cmd.Process.Pid, "dir", executionRoot)
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	stream jsonrpc2.Stream
	logger *zap.SugaredLogger
	kill   sync.Once
}

// Stream exposes the backend's stdio as length-prefixed JSON-RPC messages.
func (p *process) Stream() jsonrpc2.Stream {
	return p.stream
}

// Kill terminates the backend. Safe to call from both relay loops at once.
func (p *process) Kill() {
	p.kill.Do(func() {
		p.stream.Close()
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Debugw("killing backend", "error", err)
			}
		}
	})
}

// Wait blocks until the process has exited.
func (p *process) Wait() error {
	return p.cmd.Wait()
}

// drainStderr surfaces the backend's error stream as diagnostic logging only.
// It never affects control flow.
func (p *process) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Debugw("backend stderr", "line", scanner.Text())
	}
}

// stdioPipe joins the subprocess's stdin and stdout into a single duplex channel.
type stdioPipe struct {
	in  io.WriteCloser
	out io.ReadCloser
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.in.Write(b) }

func (p stdioPipe) Close() error {
	return multierr.Append(p.in.Close(), p.out.Close())
}
