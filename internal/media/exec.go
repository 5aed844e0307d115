// Package media wraps the external ffprobe and ffmpeg tools used by the
// upload pipeline, plus the pure helpers that name files and classify
// video geometry.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/amillerrr/video-ingest/internal/metrics"
)

// WaitDelay bounds how long Run waits for output pipes after the process
// has been killed on context expiry.
const WaitDelay = 5 * time.Second

var tracer = otel.Tracer("ingest-media")

// Result is the captured outcome of an external tool invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner invokes an external tool and blocks until it exits.
// A non-zero exit is reported through Result.ExitCode, not the error.
// The error is non-nil only when the process could not be started or
// the context ended first.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs tools as local subprocesses.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes name with args and captures stdout and stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return res, nil
}

// runTool calls the runner and records the tool duration.
func runTool(ctx context.Context, runner Runner, tool, binary string, args ...string) (*Result, error) {
	start := time.Now()
	res, err := runner.Run(ctx, binary, args...)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case res.ExitCode != 0:
		status = "nonzero_exit"
	}
	metrics.ToolDuration.WithLabelValues(tool, status).Observe(time.Since(start).Seconds())

	return res, err
}
