package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rfidexec/audit"
	"rfidexec/dispatch"
	"rfidexec/indicator"
	"rfidexec/mqtt"
	"rfidexec/reader"
	"rfidexec/scan"
	"rfidexec/table"
)

var myBuild string

// sysexits(3)
const (
	exitUsage = 64
	exitOSErr = 71
)

// App holds the application state and dependencies.
type App struct {
	cfg       *Config
	log       *slog.Logger
	table     *table.Table
	source    reader.Source
	indicator indicator.Indicator
	showScans *indicator.Observer
	mqtt      *mqtt.Client
	auditDB   *sql.DB
	loop      *scan.Loop
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) (code int) {
	// A detached child owes its parent a startup status; every exit before
	// the loop starts reports here.
	ready := parentReporter()
	defer func() { ready.report(code) }()

	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "rfidexec: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "rfidexec: %v\n", err)
		return exitUsage
	}
	if err := cfg.resolvePaths(workdir()); err != nil {
		fmt.Fprintf(stderr, "rfidexec: %v\n", err)
		return exitOSErr
	}

	detached := isDaemonChild()
	logger, logCloser, err := newLogger(cfg.Log, detached || cfg.Log.Syslog)
	if err != nil {
		fmt.Fprintf(stderr, "rfidexec: %v\n", err)
		return exitUsage
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	tbl, err := cfg.loadTable()
	if err != nil {
		logger.Error("unable to load translation table", "path", cfg.Table, "error", err)
		return exitOSErr
	}
	logger.Debug("translation table loaded", "entries", tbl.Len(), "codes", tbl.Codes())

	if _, err := lookupIdentity(cfg.User, cfg.Group); err != nil {
		logger.Error("unable to resolve identity", "error", err)
		return exitOSErr
	}

	if !opts.foreground && !detached {
		childArgs, err := opts.daemonArgs(cfg)
		if err != nil {
			logger.Error("unable to daemonize", "error", err)
			return exitOSErr
		}
		pid, status, err := daemonize(childArgs)
		if err != nil {
			logger.Error("unable to daemonize", "pid", pid, "error", err)
			return status
		}
		if status != 0 {
			logger.Error("daemon failed to start, see syslog", "pid", pid, "status", status)
			return status
		}
		logger.Debug("detached", "pid", pid)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, tbl, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitOSErr
	}
	defer app.Close()
	ready.report(0)

	err = app.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("shutting down")
		return 0
	}
	logger.Error("reader stopped", "error", err)
	return exitOSErr
}

// workdir is the directory relative paths are taken from: the parent's
// when running detached, the current one otherwise.
func workdir() string {
	if dir := os.Getenv(workdirEnv); dir != "" && isDaemonChild() {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "/"
	}
	return wd
}

// newApp opens the device and the indicators while still privileged, drops
// privileges, then opens the optional outputs and builds the scan loop.
func newApp(ctx context.Context, cfg *Config, tbl *table.Table, log *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, log: log, table: tbl}

	var err error
	app.source, err = reader.New(ctx, cfg.Reader)
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", cfg.Reader.Device, err)
	}

	app.indicator, err = indicator.New(cfg.Indicator)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init indicator: %w", err)
	}

	if err := dropPrivileges(log, cfg.User, cfg.Group); err != nil {
		app.Close()
		return nil, err
	}

	app.showScans = indicator.NewObserver(app.indicator, cfg.Indicator.Hold)
	observers := scan.Observers{app.showScans}

	if cfg.Audit.Path != "" {
		app.auditDB, err = audit.Open(ctx, cfg.Audit.Path)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		observers = append(observers, audit.NewObserver(audit.NewStore(app.auditDB), cfg.Audit, log))
	}

	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init MQTT: %w", err)
	}
	if app.mqtt.IsEnabled() {
		observers = append(observers, mqtt.NewObserver(app.mqtt, cfg.MQTT))
	}

	decoder := reader.NewDecoder(app.source, cfg.Reader.MaxLength)
	app.loop = scan.New(scan.Dependencies{
		Decoder:     decoder,
		Table:       tbl,
		Dispatcher:  dispatch.NewShell(cfg.Shell, log),
		Observer:    observers,
		Logger:      log,
		MaxLength:   decoder.MaxLength(),
		IgnoreEmpty: cfg.IgnoreEmpty,
	})
	return app, nil
}

// Run processes scans until ctx is cancelled or the device fails.
func (app *App) Run(ctx context.Context) error {
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			app.log.Warn("MQTT connect", "error", err)
		}
	}()

	// Closing the source is what unblocks a pending read on shutdown.
	go func() {
		<-ctx.Done()
		app.source.Close()
	}()

	app.indicator.Idle()
	app.log.Info("started",
		"build", myBuild,
		"device", app.cfg.Reader.Device,
		"entries", app.table.Len())

	return app.loop.Run(ctx)
}

// Close releases everything newApp acquired. Safe on a partially built App.
func (app *App) Close() {
	var errs []error
	if app.mqtt != nil {
		app.mqtt.Disconnect()
	}
	if app.auditDB != nil {
		errs = append(errs, app.auditDB.Close())
	}
	if app.showScans != nil {
		app.showScans.Stop()
	}
	if app.indicator != nil {
		app.indicator.Shutdown()
		errs = append(errs, app.indicator.Release())
	}
	if app.source != nil {
		if err := app.source.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		app.log.Warn("cleanup", "error", err)
	}
}
