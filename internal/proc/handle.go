package proc

import (
	"os/exec"
	"sync"
)

// Handle is an opaque handle to one live child process. It exists from
// launch until natural exit or forced kill and is owned exclusively by the
// Supervisor's registry; no other component terminates it.
//
// A single reaper goroutine calls cmd.Wait once and publishes the result
// through done, so Wait and Exited are safe for any number of concurrent
// callers.
type Handle struct {
	name string
	cmd  *exec.Cmd

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
}

func newHandle(name string, cmd *exec.Cmd) *Handle {
	h := &Handle{
		name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go h.reap()
	return h
}

// reap waits for the process exactly once and records the exit code.
// Forced kills surface as -1 via ProcessState.
func (h *Handle) reap() {
	_ = h.cmd.Wait()

	h.mu.Lock()
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	} else {
		h.exitCode = -1
	}
	h.mu.Unlock()
	close(h.done)
}

// Name returns the program label the process was launched under.
func (h *Handle) Name() string {
	return h.name
}

// Wait blocks until the process has exited and returns its exit code.
// Safe to call from multiple goroutines and multiple times.
func (h *Handle) Wait() int {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Exited reports whether the process has already been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done exposes the exit notification channel for bounded multi-process
// waits. The channel is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Terminate sends the platform's graceful termination signal, giving the
// process a chance to flush state. No-op once the process has exited.
func (h *Handle) Terminate() error {
	if h.Exited() {
		return nil
	}
	return terminateProcess(h.cmd)
}

// ForceTerminate hard-kills the process (and, on unix, its whole process
// group, so shells and grandchildren cannot outlive it).
func (h *Handle) ForceTerminate() error {
	if h.Exited() {
		return nil
	}
	return killProcess(h.cmd)
}
