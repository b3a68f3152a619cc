package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// CommandExecutor runs an agent as a subprocess. The request payload is
// written to stdin and stdout becomes the result output. This is the one
// generic adapter; anything smarter lives behind its own Executor.
type CommandExecutor struct {
	Agent   ID
	Command string
	Args    []string
}

// NewCommandExecutor builds a subprocess-backed executor for the given agent.
func NewCommandExecutor(agent ID, command string, args ...string) *CommandExecutor {
	return &CommandExecutor{Agent: agent, Command: command, Args: args}
}

// Run executes the configured command with the payload on stdin.
// Exit errors are permanent; failures to spawn are transient (the binary
// may be temporarily unavailable, e.g. during an upgrade).
func (c *CommandExecutor) Run(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	// Own process group, so the whole subprocess tree dies on cancellation.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = bytes.NewBufferString(req.Payload)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, stderr, err := drainCommand(cmd)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, &ExecError{Agent: c.Agent, Transient: false,
				Err: fmt.Errorf("%s exited %d: %s", c.Command, exitErr.ExitCode(), bytes.TrimSpace(stderr))}
		}
		return Result{}, &ExecError{Agent: c.Agent, Transient: true, Err: err}
	}
	return Result{Output: string(stdout), Agent: c.Agent}, nil
}

// drainCommand starts cmd and reads stdout/stderr concurrently before
// calling Wait. Draining both pipes first prevents a deadlock when output
// exceeds the pipe buffer.
func drainCommand(cmd *exec.Cmd) (stdout, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	var wg sync.WaitGroup
	var outBuf, errBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&outBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&errBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	return outBuf.Bytes(), errBuf.Bytes(), waitErr
}
