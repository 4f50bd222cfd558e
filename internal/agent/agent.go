// Package agent abstracts the external coding-agent process. The engine
// depends only on the Request/Result shape and an explicit timeout — how the
// process is launched, and what model sits behind it, is this package's
// business alone.
package agent

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// DefaultTimeout bounds one agent invocation when the request leaves its
// timeout unset.
const DefaultTimeout = 20 * time.Minute

// Request is one prompt handed to the agent.
type Request struct {
	// Prompt is the full instruction text, delivered on stdin.
	Prompt string

	// WorkDir is the working directory the agent process runs in.
	WorkDir string

	// Timeout bounds the invocation; zero means DefaultTimeout.
	Timeout time.Duration
}

// Result is the observable outcome of one invocation.
type Result struct {
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	TimedOut   bool          `json:"timed_out"`
	DurationMS time.Duration `json:"duration_ms"`
}

// Invoker runs one agent request to completion.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// ExecInvoker launches the agent as a subprocess. The prompt goes to stdin;
// stdout and stderr are captured whole.
type ExecInvoker struct {
	// Command is the agent executable, e.g. "claude".
	Command string

	// Args are fixed arguments prepended to every invocation.
	Args []string
}

// Invoke runs the agent once with a hard timeout. A timeout is reported in
// the result, not as an error: the engine treats it as a non-productive
// iteration, not an infrastructure failure.
func (e *ExecInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.Command, e.Args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = bytes.NewReader([]byte(req.Prompt))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Launch failure (binary missing, bad workdir): infrastructure.
		return result, err
	}

	result.Success = true
	return result, nil
}
