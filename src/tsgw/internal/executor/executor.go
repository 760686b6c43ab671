package executor

import (
	"bytes"
	"context"
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
// each exec and makes it easier to test. The dependency installer is the
// main consumer.
type Executor interface {
	// Run logs and executes the command built from the given name and args,
	// returning captured stdout/stderr. The command is bound to ctx.
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (stdout string, stderr string, err error)
}

type executorImpl struct {
	Logger *zap.SugaredLogger
	// ExecFunc may be nil to use executorImpl in tests.
	ExecFunc func(e *exec.Cmd) error
}

// Option defines options to customize the executor's behavior.
type Option func(*executorImpl)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *executorImpl) {
		e.Logger = logger
	}
}

// WithExecFunc provides customized exec behavior.
func WithExecFunc(execFunc func(e *exec.Cmd) error) Option {
	return func(e *executorImpl) {
		e.ExecFunc = execFunc
	}
}

// NewExecutor creates a new executor with a default exec function.
func NewExecutor(opts ...Option) Executor {
	e := &executorImpl{
		Logger:   zap.NewNop().Sugar(),
		ExecFunc: func(cmd *exec.Cmd) error { return cmd.Run() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run logs the command and calls ExecFunc if it is set.
func (l *executorImpl) Run(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	l.Logger.Infow("exec",
		"Path", cmd.Path,
		"Dir", cmd.Dir,
		"Args", args,
	)

	if l.ExecFunc == nil {
		l.Logger.Warn("missing ExecFunc - skipped execution")
		return "", "", nil
	}

	var stdoutB, stderrB bytes.Buffer
	cmd.Stdout = &stdoutB
	cmd.Stderr = &stderrB
	err := l.ExecFunc(cmd)

	return stdoutB.String(), stderrB.String(), err
}
