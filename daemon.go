package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// daemonEnv marks the detached child so it does not detach again.
const daemonEnv = "RFIDEXEC_DAEMONIZED"

// workdirEnv passes the parent's working directory, against which the
// child resolves relative paths from the config file.
const workdirEnv = "RFIDEXEC_WORKDIR"

// readyFD is where the child finds the write end of the status pipe
// (first entry of ExtraFiles).
const readyFD = 3

// startupTimeout bounds how long the parent waits for the child's status.
const startupTimeout = 30 * time.Second

func isDaemonChild() bool {
	return os.Getenv(daemonEnv) == "1"
}

// daemonize starts a detached copy of the running binary with args: new
// session, stdio on /dev/null, working directory /. It waits until the
// child reports its startup status and returns it with the child's pid.
func daemonize(args []string) (pid, status int, err error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, exitOSErr, fmt.Errorf("locate executable: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return 0, exitOSErr, fmt.Errorf("getwd: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, exitOSErr, fmt.Errorf("status pipe: %w", err)
	}
	defer r.Close()

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1", workdirEnv+"="+wd)
	cmd.Dir = "/"
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err = cmd.Start()
	w.Close()
	if err != nil {
		return 0, exitOSErr, fmt.Errorf("unable to daemonize: %w", err)
	}
	pid = cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, exitOSErr, fmt.Errorf("release daemon process: %w", err)
	}

	status, err = readStatus(r, startupTimeout)
	return pid, status, err
}

// readStatus waits for the one-byte exit status the child writes once it
// is running or has failed to start. A child that exits without writing
// counts as an OS error.
func readStatus(r *os.File, timeout time.Duration) (int, error) {
	if err := r.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return exitOSErr, fmt.Errorf("status pipe deadline: %w", err)
	}

	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	switch {
	case errors.Is(err, io.EOF):
		return exitOSErr, errors.New("daemon exited during startup")
	case errors.Is(err, os.ErrDeadlineExceeded):
		return exitOSErr, fmt.Errorf("daemon did not report startup within %s", timeout)
	case err != nil:
		return exitOSErr, fmt.Errorf("read daemon status: %w", err)
	}
	return int(b[0]), nil
}

// startupReporter sends the child's startup status to the waiting parent.
// Only the first report is sent; a nil reporter does nothing.
type startupReporter struct {
	f    *os.File
	once sync.Once
}

// parentReporter returns the reporter for a detached child, nil otherwise.
func parentReporter() *startupReporter {
	if !isDaemonChild() {
		return nil
	}
	return &startupReporter{f: os.NewFile(readyFD, "startup-status")}
}

func (s *startupReporter) report(status int) {
	if s == nil || s.f == nil {
		return
	}
	s.once.Do(func() {
		s.f.Write([]byte{byte(status)})
		s.f.Close()
	})
}
