// Package proc launches and supervises the child processes of one
// orchestration session: spawn with redirected error streams, confirm the
// child actually bound its sockets, and tear everything down with a
// graceful-then-forced two-phase shutdown under an explicit time bound.
package proc

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/dreamware/flotilla/internal/cluster"
	"github.com/dreamware/flotilla/internal/poll"
)

// ErrLaunchTimeout is returned when a launched process never bound one of
// its declared listening addresses within the poll budget. The child is
// force-killed before the error is returned so the failed launch cannot
// leak a process.
var ErrLaunchTimeout = errors.New("proc: process did not bind its address")

// Command describes one child process launch. Consumed by Launch; not
// reused afterwards.
type Command struct {
	// Name labels the process in logs and names its error log file,
	// error.<Name>.log, inside Dir.
	Name string

	// Path is the executable to spawn; Args are its arguments
	// (not including the program name).
	Path string
	Args []string

	// Env entries are appended to the parent environment.
	Env []string

	// Dir is the child's working directory. Must exist.
	Dir string

	// WaitAddrs are the addresses the child must be accepting TCP
	// connections on before Launch returns. Failure to bind any of them
	// within the poll budget is a fatal launch failure.
	WaitAddrs []cluster.HostAddress

	// PollOpts override the default readiness budget, used by tests.
	PollOpts []poll.Option
}

// Supervisor owns the ordered registry of every child process launched in
// one orchestration session. Thread-safe: Launch, WaitAll and TerminateAll
// may be driven from different goroutines, though the driver only ever
// launches sequentially.
type Supervisor struct {
	mu      sync.Mutex
	handles []*Handle
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Launch spawns the described process with stdout inherited and stderr
// redirected to error.<name>.log in its working directory, registers the
// handle in launch order, then blocks until every WaitAddr accepts TCP
// connections.
//
// Spawn failures (missing executable, immediate crash) propagate untranslated.
// A child that never binds is force-killed and reported as ErrLaunchTimeout.
func (s *Supervisor) Launch(c Command) (*Handle, error) {
	logPath := filepath.Join(c.Dir, fmt.Sprintf("error.%s.log", c.Name))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create error log for %s: %w", c.Name, err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = logFile
	configureSysProc(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}
	log.Printf("proc: launched %s (pid %d)", c.Name, cmd.Process.Pid)

	h := newHandle(c.Name, cmd)
	// The log file is closed once the reaper observes exit.
	go func() {
		<-h.done
		logFile.Close()
	}()

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	for _, addr := range c.WaitAddrs {
		if err := poll.AwaitBound(addr, c.PollOpts...); err != nil {
			_ = h.ForceTerminate()
			h.Wait()
			return nil, fmt.Errorf("%s on %s: %v: %w", c.Name, addr, err, ErrLaunchTimeout)
		}
	}
	return h, nil
}

// Handles returns a copy of the registry in launch order.
func (s *Supervisor) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// WaitAll blocks until every registered process has exited naturally.
// It does not initiate termination.
func (s *Supervisor) WaitAll() {
	for _, h := range s.Handles() {
		h.Wait()
	}
}

// TerminateAll sends a graceful terminate to every registered process, then
// waits for all of them to exit. Processes still alive once grace has
// elapsed are force-killed. Graceful first so children can flush state;
// forced second so a misbehaving child cannot hang the run.
func (s *Supervisor) TerminateAll(grace time.Duration) {
	handles := s.Handles()
	if len(handles) == 0 {
		return
	}

	for _, h := range handles {
		if err := h.Terminate(); err != nil {
			log.Printf("proc: terminate %s: %v", h.Name(), err)
		}
	}

	if waitAllWithin(handles, grace) {
		return
	}

	for _, h := range handles {
		if h.Exited() {
			continue
		}
		log.Printf("proc: %s ignored graceful termination, force killing", h.Name())
		if err := h.ForceTerminate(); err != nil {
			log.Printf("proc: force terminate %s: %v", h.Name(), err)
		}
	}
	// A killed process always exits, so this wait is bounded in practice.
	for _, h := range handles {
		h.Wait()
	}
}

// waitAllWithin reports whether every handle exited before the deadline.
func waitAllWithin(handles []*Handle, grace time.Duration) bool {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-deadline.C:
			return false
		}
	}
	return true
}
