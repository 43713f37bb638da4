package executor

import (
	"bytes"
	"os/exec"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a module to inject using fx.
var Module = fx.Options(
	fx.Supply(
		fx.Annotate(NewExecutor(
			WithExecFunc(func(cmd *exec.Cmd) error { return cmd.Run() }),
		), fx.As(new(Executor))),
	),
)

// Executor wraps the execution of "os/exec".Cmd's to allow adding logs to
// each exec and makes it easier to test.
type Executor interface {
	// Run logs and executes the Cmd specified, overriding its Stdout/Stderr to return their content.
	Run(cmd *exec.Cmd) (stdout string, stderr string, exitCode int, err error)
}

type executorImp struct {
	Logger *zap.SugaredLogger
	// ExecFunc may be nil to use executorImp in tests.
	ExecFunc func(e *exec.Cmd) error
}

// Option defines options to customize executorImp's behavior.
type Option func(*executorImp)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(executor *executorImp) {
		executor.Logger = logger
	}
}

// WithExecFunc provides customized exec behavior for executorImp.
func WithExecFunc(execFunc func(e *exec.Cmd) error) Option {
	return func(executor *executorImp) {
		executor.ExecFunc = execFunc
	}
}

// NewExecutor creates a new executorImp with a default executor function.
func NewExecutor(opts ...Option) Executor {
	executor := &executorImp{
		Logger:   zap.NewNop().Sugar(),
		ExecFunc: func(cmd *exec.Cmd) error { return cmd.Run() },
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// Run logs the Path/Args and calls ExecFunc if it is set.
func (l *executorImp) Run(cmd *exec.Cmd) (stdout string, stderr string, exitCode int, err error) {
	l.logCommand(cmd)

	if l.ExecFunc == nil {
		l.Logger.Warn("missing ExecFunc - skipped execution")
		return "", "", 0, nil
	}

	var stdoutB, stderrB bytes.Buffer
	cmd.Stdout = &stdoutB
	cmd.Stderr = &stderrB
	err = l.ExecFunc(cmd)

	// ProcessState stays nil when the command never started.
	exitCode = -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	return stdoutB.String(), stderrB.String(), exitCode, err
}

// Logs the command specified: Path, Dir, Args.
func (l *executorImp) logCommand(cmd *exec.Cmd) {
	l.Logger.Infow("Exec",
		"Path", cmd.Path,
		"Dir", cmd.Dir,
		"Args", cmd.Args[1:],
	)
}
