// Package supervisor launches, monitors, and restarts the media-service
// child process, grouping it under an OS-level process group (or, on
// Windows, a kill-on-close job object) so that a parent crash cannot orphan
// it, and forwarding its stdio into the Log Sink.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/foveate/hostd/internal/logging"
	"github.com/foveate/hostd/internal/logsink"
)

var log = logging.L("supervisor")

// noisyLinePrefixes lists media-service stdio lines that are expected on
// every run and carry no diagnostic value; they are dropped before
// reaching the log sink rather than drowning out real output.
var noisyLinePrefixes = []string{
	"[heartbeat]",
	"[frame-pacer]",
	"debug: swapchain",
}

// pidFileName records the last-launched child's pid next to the executable
// so a freshly started supervisor can recover from a previous crash by
// killing any instance still bound to the same path.
const pidFileName = ".media-service.pid"

// Supervisor owns the media-service child process for the Coordinator's
// lifetime. It is not safe to reuse after Close.
type Supervisor struct {
	execPath string
	sink     *logsink.Sink

	mu       sync.Mutex
	cmd      *exec.Cmd
	job      *jobObject
	teardown atomic.Bool
	exited   chan struct{}
}

// New returns a Supervisor for the media-service executable found at
// execPath (resolved by the caller, typically alongside the host binary).
func New(execPath string, sink *logsink.Sink) *Supervisor {
	return &Supervisor{
		execPath: execPath,
		sink:     sink,
	}
}

// Start kills any prior instance recovered from a previous crash, resolves
// the runtime configuration file, launches the child under a process group,
// and arms the exit watcher that relaunches on unplanned exit.
func (s *Supervisor) Start(ctx context.Context) error {
	s.killPriorInstance()

	runtimeConfig, err := findRuntimeConfig(filepath.Dir(s.execPath))
	if err != nil {
		log.Warn("runtime config search failed, launching without explicit config", "error", err)
	}

	return s.launch(runtimeConfig)
}

func (s *Supervisor) launch(runtimeConfig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := exec.Command(s.execPath)
	cmd.Env = os.Environ()
	if runtimeConfig != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", runtimeConfigEnv, runtimeConfig))
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start: %w", err)
	}

	if job, jerr := newJobObjectIfWindows(); jerr == nil && job != nil {
		if aerr := job.assign(cmd); aerr != nil {
			log.Warn("failed to assign media service to job object", "error", aerr)
		} else {
			s.job = job
		}
	}

	s.writePidFile(cmd.Process.Pid)

	s.cmd = cmd
	s.exited = make(chan struct{})

	go s.captureOutput(stdoutPipe)
	go s.captureOutput(stderrPipe)
	go s.watch(cmd, s.exited)

	log.Info("media service started", "pid", cmd.Process.Pid)
	return nil
}

// captureOutput forwards filtered stdio lines into the Log Sink.
func (s *Supervisor) captureOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if isNoisyLine(line) {
			continue
		}
		s.sink.Append(line)
	}
}

func isNoisyLine(line string) bool {
	for _, prefix := range noisyLinePrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// watch blocks until the child exits, then relaunches it unless the
// supervisor is tearing down. Runs on its own goroutine for the lifetime of
// each launched child.
func (s *Supervisor) watch(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	if s.teardown.Load() {
		return
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	log.Warn("media service exited unexpectedly, relaunching", "exitCode", exitCode, "error", err)

	runtimeConfig, rerr := findRuntimeConfig(filepath.Dir(s.execPath))
	if rerr != nil {
		log.Warn("runtime config search failed on relaunch", "error", rerr)
	}
	if err := s.launch(runtimeConfig); err != nil {
		log.Error("failed to relaunch media service", "error", err)
	}
}

// Close sets the teardown flag before any other step so the exit watcher
// does not race a relaunch against the shutdown, force-kills the child if
// still running, then releases the process-group/job-object handle.
func (s *Supervisor) Close() error {
	s.teardown.Store(true)

	s.mu.Lock()
	cmd := s.cmd
	job := s.job
	exited := s.exited
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := killProcessGroup(cmd); err != nil {
			log.Warn("failed to kill media service process group", "error", err)
		}
		if exited != nil {
			<-exited
		}
	}

	if job != nil {
		if err := job.close(); err != nil {
			log.Warn("failed to close job object", "error", err)
		}
	}

	s.removePidFile()
	log.Info("media service supervisor closed")
	return nil
}

func (s *Supervisor) pidFilePath() string {
	return filepath.Join(filepath.Dir(s.execPath), pidFileName)
}

func (s *Supervisor) writePidFile(pid int) {
	if err := os.WriteFile(s.pidFilePath(), []byte(strconv.Itoa(pid)), 0600); err != nil {
		log.Warn("failed to write media service pid file", "error", err)
	}
}

func (s *Supervisor) removePidFile() {
	_ = os.Remove(s.pidFilePath())
}

// killPriorInstance recovers from a previous crash by killing whatever
// process the last run's pid file points to. It does not check that the
// process is still running this supervisor's executable.
func (s *Supervisor) killPriorInstance() {
	data, err := os.ReadFile(s.pidFilePath())
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	log.Info("killing prior media service instance recovered from pid file", "pid", pid)
	_ = proc.Kill()
	s.removePidFile()
}
