// Package proc runs external media tools (ffprobe, ffmpeg) with a hard
// wall-clock timeout and captures their output for classification.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/wapuda/mkvpress/internal/logx"
)

// ErrNotStarted is returned when the process could not be launched at all
// (missing binary, permission error).
var ErrNotStarted = errors.New("process not started")

// Result holds the outcome of a single invocation that did start.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Elapsed  time.Duration
}

// OK reports a zero exit without timeout.
func (r Result) OK() bool { return r.ExitCode == 0 && !r.TimedOut }

// Runner is the capability the pipeline needs from the OS. Implementations
// return an error only when the process never ran; non-zero exits and
// timeouts are reported through Result.
type Runner interface {
	Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error)
}

// Exec runs commands with os/exec. Stderr is captured and, when Logger is
// set, mirrored line by line at debug level.
type Exec struct {
	Logger *zerolog.Logger
	// KillGrace bounds how long Wait blocks on inherited pipes after the
	// process is killed.
	KillGrace time.Duration
}

func (e Exec) Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.WaitDelay = e.KillGrace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	var lw *logx.LineWriter
	if e.Logger != nil {
		lw = logx.NewLineWriter(*e.Logger, map[string]string{"tool": name}, zerolog.DebugLevel)
		cmd.Stderr = io.MultiWriter(&stderr, lw)
	} else {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrNotStarted, name, err)
	}
	err := cmd.Wait()
	if lw != nil {
		lw.Flush()
	}

	res := Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		res.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
	}
	return res, nil
}
