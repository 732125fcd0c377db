package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Command is a single external process invocation.
type Command struct {
	Dir  string
	Name string
	Args []string
}

// Argv returns the command name followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Result is the outcome of a Command. Output holds stdout and stderr
// interleaved. ExitCode is -1 when the process could not be started.
type Result struct {
	Argv     []string
	ExitCode int
	Output   []byte
	Err      error
}

func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Trimmed returns Output without trailing whitespace.
func (r Result) Trimmed() string {
	return strings.TrimRight(string(r.Output), " \t\r\n")
}

// Runner executes external commands. The orchestrator decides which failures
// matter.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands as child processes and streams their output to
// the logger.
type ExecRunner struct {
	Logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.L()
	}
	return &ExecRunner{Logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (res Result) {
	res.Argv = c.Argv()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	var buf lockedBuffer
	fields := []zap.Field{zap.Strings("argv", res.Argv)}
	cmd.Stdout = io.MultiWriter(&buf, NewZapWriter(r.Logger, zapcore.DebugLevel, "stdout", fields...))
	cmd.Stderr = io.MultiWriter(&buf, NewZapWriter(r.Logger, zapcore.DebugLevel, "stderr", fields...))

	r.Logger.Info("running command", zap.String("cmd", c.String()), zap.String("dir", c.Dir))
	err := cmd.Run()
	res.Output = buf.Bytes()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = fmt.Errorf("failed to execute %s: %w", c.Name, err)
	}

	r.Logger.Debug("command exited", zap.Strings("argv", res.Argv), zap.Int("code", res.ExitCode), zap.Error(res.Err))
	return
}

// lockedBuffer collects stdout and stderr, which exec copies from separate
// goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

type zapWriter struct {
	log *log.Logger
}

func (zw *zapWriter) Write(p []byte) (n int, err error) {
	n = len(p)
	zw.log.Print(string(p))
	return
}

// NewZapWriter returns a writer that logs every write as one entry at level.
func NewZapWriter(logger *zap.Logger, level zapcore.Level, pipe string, fields ...zap.Field) io.Writer {
	logger = logger.With(zap.String("section", "command"), zap.String("out", pipe)).With(fields...)
	l, err := zap.NewStdLogAt(logger, level)
	if err != nil {
		// XXX: cannot fail for the levels used here, but fall back somehow.
		l = zap.NewStdLog(logger)
	}

	return &zapWriter{log: l}
}
