package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/procbox/pkg/procsig"
	"github.com/psantana5/procbox/pkg/task"
)

// spawn launches one worker incarnation for the record's target. The worker
// gets its own process group so that forced termination reaps any children
// it forked, and receives its signal file paths through the environment.
func (s *Supervisor) spawn(rec *task.Record) (*task.Handle, error) {
	target := rec.Target()
	if err := target.Validate(); err != nil {
		return nil, err
	}

	// The incarnation token keys the signal files. A signal raised against a
	// dead incarnation lands in files nobody reads anymore.
	token := uuid.NewString()
	startEv := procsig.NewFileEvent(filepath.Join(s.eventDir, rec.ID()+"."+token+".start"))
	stopEv := procsig.NewFileEvent(filepath.Join(s.eventDir, rec.ID()+"."+token+".stop"))

	cmd := exec.Command(target.Command, target.Args...)
	cmd.Dir = target.Dir
	cmd.Env = append(os.Environ(), target.Env...)
	cmd.Env = append(cmd.Env,
		procsig.EnvStartSignal+"="+startEv.Path(),
		procsig.EnvStopSignal+"="+stopEv.Path(),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if s.taskLogDir != "" {
		if err := os.MkdirAll(s.taskLogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create task log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(s.taskLogDir, rec.ID()+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open task log: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("spawn %s: %w", target.Command, err)
	}

	h := task.NewHandle(cmd.Process.Pid, token, startEv, stopEv)
	go func() {
		err := cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		// Latch the confirmation before dropping the signal files: a worker
		// that confirmed start and exited right away is not a failed start.
		if startEv.IsSet() {
			h.MarkStartConfirmed()
		}
		// Late Sets against the removed paths are harmless because the
		// token is never reused.
		_ = startEv.Clear()
		_ = stopEv.Clear()
		h.MarkExited(exitCode(err), err)
	}()
	return h, nil
}

// terminate forcibly kills the worker's process group and waits out the
// grace period for OS reclamation. It returns whether the exit was observed
// within the grace period; callers surface the failure either way.
func (s *Supervisor) terminate(h *task.Handle) bool {
	killGroup(h.PID)
	select {
	case <-h.Done():
		return true
	case <-time.After(s.grace):
		return false
	}
}

// killGroup sends SIGKILL to the process group, falling back to the single
// process if the group is already gone.
func killGroup(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// exitCode extracts the exit code from a Wait error. Signal-terminated
// processes report -1, which the reaper treats as a failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
