// Package process starts the test command as a child process and exposes the poll, kill and
// bounded wait operations the monitor needs.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrWaitTimeout is returned by Wait when the child has not exited within the timeout
var ErrWaitTimeout = errors.New("timed out waiting for process to exit")

// Options configures how the child is started
type Options struct {
	Dir    string
	Env    []string // nil inherits the current environment
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// PTY runs the child on a pseudo-terminal so it keeps colour output and line buffering.
	// stdout and stderr are merged and copied to Stdout.
	PTY bool
}

// Child is a started child process. A single goroutine waits for it so that Poll never
// blocks.
type Child struct {
	cmd      *exec.Cmd
	ptmx     *os.File
	done     chan struct{}
	exitCode int
	signal   string
}

// Start starts args[0] with the remaining args
func Start(args []string, opts Options) (*Child, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no command given")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	c := &Child{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	if opts.PTY {
		// pty.Start puts the child in its own session, so its pid is also its process group.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start command with pty: %w", err)
		}
		c.ptmx = ptmx
		out := opts.Stdout
		if out == nil {
			out = io.Discard
		}
		go func() {
			// Reading fails with EIO once the child side closes; that is the normal end.
			_, _ = io.Copy(out, ptmx)
		}()
	} else {
		cmd.Stdin = opts.Stdin
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start command: %w", err)
		}
	}

	slog.Debug("Started child process", "pid", cmd.Process.Pid, "args", args, "pty", opts.PTY)

	go c.wait()
	return c, nil
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	c.exitCode, c.signal = exitStatus(err)
	if c.ptmx != nil {
		_ = c.ptmx.Close()
	}
	close(c.done)
}

// exitStatus turns the result of cmd.Wait into an exit code. A child killed by a signal
// gets the negated signal number.
func exitStatus(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, ""
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -int(status.Signal()), status.Signal().String()
	}
	return exitErr.ExitCode(), ""
}

// Pid returns the process id of the child
func (c *Child) Pid() int {
	return c.cmd.Process.Pid
}

// Poll returns the exit code once the child has exited
func (c *Child) Poll() (int, bool) {
	select {
	case <-c.done:
		return c.exitCode, true
	default:
		return 0, false
	}
}

// Signal returns the name of the signal that terminated the child, if any. It is only
// meaningful after Poll or Wait reported an exit.
func (c *Child) Signal() string {
	select {
	case <-c.done:
		return c.signal
	default:
		return ""
	}
}

// Wait blocks until the child exits or timeout elapses
func (c *Child) Wait(timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.exitCode, nil
	case <-timer.C:
		return 0, ErrWaitTimeout
	}
}

// Kill sends SIGKILL to the child and everything it started. Killing a child that already
// exited is not an error.
func (c *Child) Kill() error {
	if _, exited := c.Poll(); exited {
		return nil
	}
	pid := c.Pid()

	killDescendants(pid)

	// The child leads its own process group; take down anything still in it.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.Debug("Failed to kill process group", "pgid", pid, "error", err)
	}

	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
