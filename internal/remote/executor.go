package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Executor abstracts command execution for testability. onOutput receives
// every stdout and stderr line.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// ExitCoder is implemented by errors that carry a process exit status.
type ExitCoder interface {
	ExitCode() int
}

// defaultWaitDelay bounds how long Run waits for output pipes after the
// child exits or is killed. rsync leaves ssh behind holding them open.
const defaultWaitDelay = 2 * time.Second

// commandExecutor runs each command in its own process group so that a
// cancelled context kills rsync together with the ssh it spawned.
type commandExecutor struct {
	waitDelay time.Duration
}

func (e commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = e.waitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	var mu sync.Mutex
	stdout := &lineWriter{mu: &mu, emit: onOutput}
	stderr := &lineWriter{mu: &mu, emit: onOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}
	err := cmd.Wait()
	stdout.flush()
	stderr.flush()

	if errors.Is(err, exec.ErrWaitDelay) {
		// The command itself succeeded; a grandchild kept the pipes open.
		_ = killGroup(cmd)
		return nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w (%v)", binary, ctxErr, err)
		}
		return fmt.Errorf("wait %s: %w", binary, err)
	}
	return nil
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// lineWriter splits a byte stream into lines. Both streams of a command
// share one mutex so onOutput is never called concurrently.
type lineWriter struct {
	mu   *sync.Mutex
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte("\r"))
		if w.emit != nil {
			w.emit(string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 && w.emit != nil {
		w.emit(string(w.buf))
	}
	w.buf = nil
}
