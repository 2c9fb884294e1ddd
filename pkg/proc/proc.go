// Package proc runs the external helpers the control plane depends on:
// the DHCPv6 client, the RA daemon and the ip utility.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned when a pid file names no live process.
var ErrNotRunning = errors.New("process not running")

// Process is a handle to a child that is not waited on.
type Process interface {
	Pid() int
}

// Runner spawns external processes.
type Runner interface {
	// Output runs name to completion and returns its stdout. A non-zero
	// exit status is returned as an error wrapping *exec.ExitError.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start launches name and returns immediately.
	Start(name string, args ...string) (Process, error)
	// Kill sends sig to pid.
	Kill(pid int, sig syscall.Signal) error
}

// Exec is the os/exec backed Runner.
type Exec struct{}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

// Output implements Runner.
func (Exec) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		msg = strings.ReplaceAll(msg, "\n", "; ")
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	return out, nil
}

// Start implements Runner.
func (Exec) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	// Reap in the background so killed children do not linger as zombies.
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("child exited", "cmd", name, "pid", cmd.Process.Pid, "err", err)
		}
	}()
	return &execProcess{cmd: cmd}, nil
}

// Kill implements Runner.
func (Exec) Kill(pid int, sig syscall.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("pid %d: %w", pid, ErrNotRunning)
		}
		return fmt.Errorf("signal %s to pid %d: %w", sig, pid, err)
	}
	return nil
}

// ReadPidFile returns the pid stored in path.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid pid %d", path, pid)
	}
	return pid, nil
}

// ExitCode returns the exit status carried by err, or -1 if err does not
// come from a process that ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
