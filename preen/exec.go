package preen

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/mit-pdos/go-journal/util"
	"golang.org/x/sys/unix"
)

// ExecRunner checks each filesystem in a child process, normally the
// fsck binary itself run with -p on one device.
type ExecRunner struct {
	Path string
	// Args go before the device name.
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Self is an ExecRunner that re-runs the current executable in preen
// mode with the given extra arguments.
func Self(args ...string) (*ExecRunner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &ExecRunner{
		Path:   path,
		Args:   append([]string{"-p"}, args...),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Run checks one filesystem in a child. Cancelling ctx interrupts the
// child rather than killing it, so it writes back what it repaired
// before exiting.
func (r *ExecRunner) Run(ctx context.Context, fs Filesystem) Outcome {
	args := append(append([]string(nil), r.Args...), fs.Device)
	cmd := exec.Command(r.Path, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Start(); err != nil {
		return Outcome{Code: ExitFatal, Err: err}
	}
	waited := make(chan error, 1)
	go func() {
		waited <- cmd.Wait()
	}()
	var err error
	select {
	case err = <-waited:
	case <-ctx.Done():
		util.DPrintf(1, "preen: interrupting check of %s\n", fs.Device)
		if serr := cmd.Process.Signal(os.Interrupt); serr != nil {
			util.DPrintf(1, "preen: signal %s: %v\n", fs.Device, serr)
		}
		err = <-waited
	}
	if err == nil {
		return Outcome{Code: ExitOK}
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return Outcome{Code: ExitFatal, Err: err}
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		if ctx.Err() != nil && ws.Signal() == syscall.SIGINT {
			return Outcome{Code: ExitInterrupted}
		}
		return Outcome{Code: ExitFatal, Signal: unix.SignalName(ws.Signal())}
	}
	return Outcome{Code: ee.ExitCode()}
}
