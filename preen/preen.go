package preen

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/mit-pdos/go-journal/util"
	"github.com/rodaine/table"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Exit statuses of one check, as the fsck command reports them.
const (
	ExitOK          = 0
	ExitModified    = 3
	ExitReboot      = 4
	ExitFatal       = 8
	ExitInterrupted = 12
)

// Filesystem is one mount table entry resolved to the device to check.
type Filesystem struct {
	Entry
	Device string
	Disk   string
}

// Outcome is how one check ended.
type Outcome struct {
	Code int
	// Signal names the signal that killed the check, if one did.
	Signal string
	Err    error
}

// Bad reports whether the filesystem needs attention from the operator.
func (o Outcome) Bad() bool {
	if o.Signal != "" || o.Err != nil {
		return true
	}
	switch o.Code {
	case ExitOK, ExitModified, ExitReboot:
		return false
	}
	return true
}

// Runner checks one filesystem.
type Runner interface {
	Run(ctx context.Context, fs Filesystem) Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, fs Filesystem) Outcome

func (f RunnerFunc) Run(ctx context.Context, fs Filesystem) Outcome {
	return f(ctx, fs)
}

type Options struct {
	// MaxParallel bounds how many disks are checked at once; 0 means
	// all of them.
	MaxParallel int
	Runner      Runner
	// Resolve maps an fstab device to what is checked; BlockCheck by
	// default.
	Resolve func(spec string) (string, error)
	// Quit, once closed, stops new checks from starting. Checks
	// already running finish.
	Quit <-chan struct{}
	Out  io.Writer
}

// Result is what happened to one filesystem.
type Result struct {
	Filesystem
	Outcome
	Started bool
	Elapsed time.Duration
}

type Report struct {
	Results []Result
	// Stopped is set when the quit latch kept checks from starting.
	Stopped bool
}

// Status folds the per-filesystem outcomes into one exit status.
func (r *Report) Status() int {
	status := ExitOK
	for _, res := range r.Results {
		if !res.Started {
			continue
		}
		switch {
		case res.Code == ExitInterrupted:
			return ExitInterrupted
		case res.Bad():
			status = ExitFatal
		case res.Code == ExitReboot && status != ExitFatal:
			status = ExitReboot
		case res.Code == ExitModified && status == ExitOK:
			status = ExitModified
		}
	}
	if r.Stopped && status == ExitOK {
		status = ExitInterrupted
	}
	return status
}

// Bad lists the filesystems that had an unexpected inconsistency.
func (r *Report) Bad() []Result {
	var bad []Result
	for _, res := range r.Results {
		if res.Started && res.Bad() {
			bad = append(bad, res)
		}
	}
	return bad
}

type checkRun struct {
	opts   Options
	report *Report
	mu     sync.Mutex
}

func (cr *checkRun) quitting() bool {
	select {
	case <-cr.opts.Quit:
		cr.mu.Lock()
		cr.report.Stopped = true
		cr.mu.Unlock()
		return true
	default:
		return false
	}
}

func (cr *checkRun) check(ctx context.Context, i int) {
	res := &cr.report.Results[i]
	if res.Err != nil {
		return
	}
	if cr.quitting() {
		return
	}
	res.Started = true
	start := time.Now()
	res.Outcome = cr.opts.Runner.Run(ctx, res.Filesystem)
	res.Elapsed = time.Since(start)
	if res.Signal != "" {
		cr.mu.Lock()
		defer cr.mu.Unlock()
		fmt.Fprintf(cr.opts.Out, "%s (%s): EXITED WITH SIGNAL %s\n",
			res.Device, res.File, res.Signal)
	}
	util.DPrintf(1, "preen: %s done in %v: %d\n", res.Device, res.Elapsed, res.Code)
}

// CheckAll checks every checkable entry. Pass-one entries are checked
// first, one after the other, and a failure among them ends the run.
// The rest are grouped by disk: each disk's filesystems are checked in
// order, and up to MaxParallel disks are worked on at once.
func CheckAll(ctx context.Context, ents []Entry, opts Options) *Report {
	if opts.Resolve == nil {
		opts.Resolve = BlockCheck
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	report := &Report{}
	for _, e := range ents {
		if !e.Checkable() {
			continue
		}
		res := Result{Filesystem: Filesystem{Entry: e}}
		dev, err := opts.Resolve(e.Spec)
		if err != nil {
			fmt.Fprintf(opts.Out, "BAD DISK NAME %s\n", e.Spec)
			res.Started = true
			res.Outcome = Outcome{Code: ExitFatal, Err: err}
		}
		res.Device = dev
		res.Disk = DiskName(dev)
		report.Results = append(report.Results, res)
	}
	cr := &checkRun{opts: opts, report: report}

	var disks []string
	queues := make(map[string][]int)
	for i, res := range report.Results {
		if res.Passno != 1 {
			if _, ok := queues[res.Disk]; !ok {
				disks = append(disks, res.Disk)
			}
			queues[res.Disk] = append(queues[res.Disk], i)
			continue
		}
		cr.check(ctx, i)
		if report.Results[i].Bad() {
			return report
		}
	}

	var g errgroup.Group
	limit := opts.MaxParallel
	if limit <= 0 {
		limit = len(disks)
	}
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, disk := range disks {
		if cr.quitting() {
			break
		}
		queue := queues[disk]
		g.Go(func() error {
			for _, i := range queue {
				cr.check(ctx, i)
			}
			return nil
		})
	}
	g.Wait()
	return report
}

// LatchQuit returns a channel closed at the first SIGQUIT, and a
// function that stops listening.
func LatchQuit() (<-chan struct{}, func()) {
	sigc := make(chan os.Signal, 1)
	quit := make(chan struct{})
	done := make(chan struct{})
	signal.Notify(sigc, unix.SIGQUIT)
	go func() {
		select {
		case <-sigc:
			close(quit)
		case <-done:
		}
	}()
	return quit, func() {
		signal.Stop(sigc)
		close(done)
	}
}

// WriteSummary prints a table of what was checked and lists the
// filesystems that need a manual run.
func (r *Report) WriteSummary(w io.Writer) {
	if len(r.Results) == 0 {
		return
	}
	tbl := table.New("device", "mount", "disk", "status", "time")
	tbl.WithWriter(w)
	for _, res := range r.Results {
		tbl.AddRow(res.Device, res.File, res.Disk, res.describe(),
			res.Elapsed.Round(time.Millisecond))
	}
	tbl.Print()

	bad := r.Bad()
	if len(bad) == 0 {
		return
	}
	plural := ""
	if len(bad) > 1 {
		plural = "S"
	}
	fmt.Fprintf(w, "\nTHE FOLLOWING FILE SYSTEM%s HAD AN UNEXPECTED INCONSISTENCY:\n\t", plural)
	for i, res := range bad {
		if i > 0 {
			fmt.Fprintf(w, ", ")
		}
		fmt.Fprintf(w, "%s (%s)", res.Device, res.File)
	}
	fmt.Fprintf(w, "\n")
}

func (res Result) describe() string {
	switch {
	case !res.Started:
		return "not checked"
	case res.Signal != "":
		return "signal " + res.Signal
	case res.Err != nil && res.Code == ExitFatal && res.Device == "":
		return "bad disk name"
	case res.Code == ExitOK:
		return "ok"
	case res.Code == ExitModified:
		return "modified"
	case res.Code == ExitReboot:
		return "reboot"
	case res.Code == ExitInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("exit %d", res.Code)
}
