package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/checker"
	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/preen"
)

const (
	exitOK          = preen.ExitOK
	exitOpen        = 1
	exitUsage       = 2
	exitModified    = preen.ExitModified
	exitReboot      = preen.ExitReboot
	exitFatal       = preen.ExitFatal
	exitInterrupted = preen.ExitInterrupted
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
		os.Exit(exitUsage)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "fsck",
		Usage:                  "check and repair UFS filesystems",
		ArgsUsage:              "[device | mount point ...]",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML configuration file"},
			&cli.BoolFlag{Name: "preen", Aliases: []string{"p"}, Usage: "fix only safe inconsistencies without asking"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "check even if marked clean"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "answer yes to every question"},
			&cli.BoolFlag{Name: "no", Aliases: []string{"n"}, Usage: "answer no to every question and open read-only"},
			&cli.Int64Flag{Name: "alt-superblock", Aliases: []string{"b"}, Usage: "sector of the superblock copy to use"},
			&cli.IntFlag{Name: "max-parallel", Aliases: []string{"l"}, Usage: "disks checked at once when preening (0 for all)"},
			&cli.StringFlag{Name: "lost-found-mode", Aliases: []string{"m"}, Usage: "octal mode of a created lost+found"},
			&cli.IntFlag{Name: "convert", Aliases: []string{"c"}, Usage: "convert to the dynamic cylinder group (1) and 4.4 inode (2) formats"},
			&cli.Uint64Flag{Name: "debug", Aliases: []string{"d"}, Usage: "debug level (higher is more verbose)"},
			&cli.StringFlag{Name: "fstab", Usage: "mount table listing the filesystems to check"},
			&cli.BoolFlag{Name: "stats", Usage: "print phase and device timings to stderr"},
			&cli.IntFlag{Name: "min-buffers", Usage: "minimum buffer cache slots"},
			&cli.Int64Flag{Name: "buffer-budget", Usage: "buffer cache size in bytes"},
			&cli.StringFlag{Name: "pass1b", Usage: "duplicate rescan: auto, always or never"},
		},
		Action: run,
	}
}

// applyFlags lets flags given on the command line win over the file
// and the environment.
func applyFlags(c *cli.Context, cfg *Config) {
	if c.IsSet("preen") {
		cfg.Preen = c.Bool("preen")
	}
	if c.IsSet("force") {
		cfg.Force = c.Bool("force")
	}
	if c.IsSet("yes") {
		cfg.Yes = c.Bool("yes")
	}
	if c.IsSet("no") {
		cfg.No = c.Bool("no")
	}
	if c.IsSet("alt-superblock") {
		cfg.AltSuperblock = c.Int64("alt-superblock")
	}
	if c.IsSet("max-parallel") {
		cfg.MaxParallel = c.Int("max-parallel")
	}
	if c.IsSet("lost-found-mode") {
		cfg.LostFoundMode = c.String("lost-found-mode")
	}
	if c.IsSet("convert") {
		cfg.Convert = c.Int("convert")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Uint64("debug")
	}
	if c.IsSet("fstab") {
		cfg.Fstab = c.String("fstab")
	}
	if c.IsSet("stats") {
		cfg.Stats = c.Bool("stats")
	}
	if c.IsSet("min-buffers") {
		cfg.MinBuffers = c.Int("min-buffers")
	}
	if c.IsSet("buffer-budget") {
		cfg.BufferBudget = c.Int64("buffer-budget")
	}
	if c.IsSet("pass1b") {
		cfg.Pass1b = c.String("pass1b")
	}
}

func run(c *cli.Context) error {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err, exitUsage)
	}
	util.Debug = cfg.Debug
	if cfg.Preen && (cfg.Yes || cfg.No) {
		cfg.Yes, cfg.No = false, false
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, unix.SIGTERM)
	defer stop()

	f := &fsck{cfg: cfg}
	status := exitOK
	if c.NArg() == 0 {
		status = f.checkFstab(ctx)
	}
	for _, arg := range c.Args().Slice() {
		st := f.checkArg(ctx, arg)
		if st == exitInterrupted {
			status = st
			break
		}
		if st > status {
			status = st
		}
	}
	if status != exitOK {
		return cli.Exit("", status)
	}
	return nil
}

type fsck struct {
	cfg   *Config
	fstab []preen.Entry
}

func (f *fsck) loadFstab() error {
	if f.fstab != nil {
		return nil
	}
	file, err := os.Open(f.cfg.Fstab)
	if err != nil {
		return err
	}
	defer file.Close()
	f.fstab, err = preen.ParseFstab(file)
	return err
}

// checkArg checks a device or the filesystem mounted at a mount point.
func (f *fsck) checkArg(ctx context.Context, arg string) int {
	name := arg
	hotroot := false
	if f.loadFstab() == nil {
		if e, ok := preen.Find(f.fstab, arg); ok {
			name = e.Spec
			hotroot = e.File == "/"
		}
	}
	dev, err := preen.BlockCheck(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitOpen
	}
	return f.checkDevice(ctx, dev, hotroot)
}

// checkFstab checks everything in the mount table: in child processes
// when preening, one at a time here otherwise.
func (f *fsck) checkFstab(ctx context.Context) int {
	if err := f.loadFstab(); err != nil {
		fmt.Fprintf(os.Stderr, "Can't open checklist file: %v\n", err)
		return exitFatal
	}
	opts := preen.Options{MaxParallel: f.cfg.MaxParallel, Out: os.Stdout}
	if f.cfg.Preen {
		runner, err := preen.Self(f.childArgs()...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			return exitFatal
		}
		opts.Runner = runner
		quit, stopQuit := preen.LatchQuit()
		defer stopQuit()
		opts.Quit = quit
	} else {
		opts.MaxParallel = 1
		opts.Runner = preen.RunnerFunc(func(ctx context.Context, fs preen.Filesystem) preen.Outcome {
			return preen.Outcome{Code: f.checkDevice(ctx, fs.Device, fs.File == "/")}
		})
	}
	report := preen.CheckAll(ctx, f.fstab, opts)
	if f.cfg.Preen || len(report.Bad()) > 0 {
		report.WriteSummary(os.Stdout)
	}
	return report.Status()
}

// childArgs are the flags a preening child needs besides -p.
func (f *fsck) childArgs() []string {
	var args []string
	if f.cfg.Force {
		args = append(args, "-f")
	}
	if f.cfg.Debug > 0 {
		args = append(args, "--debug", strconv.FormatUint(f.cfg.Debug, 10))
	}
	if f.cfg.Stats {
		args = append(args, "--stats")
	}
	args = append(args, "-m", f.cfg.LostFoundMode, "--pass1b", f.cfg.Pass1b)
	if f.cfg.MinBuffers > 0 {
		args = append(args, "--min-buffers", strconv.Itoa(f.cfg.MinBuffers))
	}
	if f.cfg.BufferBudget > 0 {
		args = append(args, "--buffer-budget", strconv.FormatInt(f.cfg.BufferBudget, 10))
	}
	return args
}

func (f *fsck) checkDevice(ctx context.Context, name string, hotroot bool) int {
	if f.cfg.Preen {
		// a quit from the terminal reaches every child; the parent
		// latches it and lets this check finish
		signal.Ignore(unix.SIGQUIT)
		defer signal.Reset(unix.SIGQUIT)
	}
	raw, err := device.OpenRaw(name, !f.cfg.No)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Can't open %v\n", err)
		return exitOpen
	}
	defer raw.Close()

	var dev device.Device = raw
	var timed *device.Timed
	if f.cfg.Stats {
		timed = device.NewTimed(raw)
		dev = timed
		stopStats := dumpStatsOn(timed)
		defer stopStats()
	}
	c := checker.New(dev, name, f.cfg.Options(hotroot))
	res := c.Check(ctx)
	util.DPrintf(1, "%s: %v files %d used %d reads %d writes %d\n", name, res.Status,
		res.Files, res.Used, res.Stats.DiskReads, res.Stats.DiskWrites)
	if f.cfg.Stats {
		fmt.Fprintf(os.Stderr, "%s: run %s\n", name, res.RunID)
		c.WritePhaseTable(os.Stderr)
		timed.WriteStats(os.Stderr)
	}
	return exitStatus(res, f.cfg.Preen)
}

// dumpStatsOn prints the device timings whenever SIGUSR1 arrives.
func dumpStatsOn(d *device.Timed) func() {
	sigc := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigc, unix.SIGUSR1)
	go func() {
		for {
			select {
			case <-sigc:
				d.WriteStats(os.Stderr)
				d.ResetStats()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigc)
		close(done)
	}
}

func exitStatus(res checker.Result, preening bool) int {
	switch res.Status {
	case checker.StatusFatal:
		return exitFatal
	case checker.StatusInterrupted:
		return exitInterrupted
	case checker.StatusModified:
		if res.Reboot {
			return exitReboot
		}
		if preening {
			return exitModified
		}
	}
	return exitOK
}
