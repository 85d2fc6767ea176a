package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Process is a transport to a child process speaking length-prefixed frames
// on its stdin and stdout.
type Process struct {
	*Stream
	cmd   *exec.Cmd
	stdin io.WriteCloser

	waitOnce sync.Once
	waitErr  error
}

// Spawn starts path with args and connects to its stdio. The child's stderr
// is inherited. Cancelling ctx kills the child.
func Spawn(ctx context.Context, path string, args ...string) (*Process, error) {
	return SpawnWithLimits(ctx, DefaultLimits(), path, args...)
}

// SpawnWithLimits is Spawn with explicit frame limits.
func SpawnWithLimits(ctx context.Context, limits Limits, path string, args ...string) (*Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}

	return &Process{
		Stream: NewStreamWithLimits(stdout, stdin, limits),
		cmd:    cmd,
		stdin:  stdin,
	}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait waits for the child to exit.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Close closes the child's stdin, which asks a well-behaved child to exit,
// then waits for it.
func (p *Process) Close() error {
	p.Stream.Close()
	p.stdin.Close()
	return p.Wait()
}

// Kill terminates the child immediately.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Stdio is the child side of Spawn: a stream over this process's stdin and
// stdout. Nothing else may write to stdout while it is in use.
func Stdio(limits Limits) *Stream {
	return NewStreamWithLimits(os.Stdin, os.Stdout, limits)
}
