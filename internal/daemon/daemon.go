// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/flowcache/internal/command"
	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core/decoder"
	"firestige.xyz/flowcache/internal/export"
	"firestige.xyz/flowcache/internal/flowcache"
	"firestige.xyz/flowcache/internal/forward"
	logpkg "firestige.xyz/flowcache/internal/log"
	"firestige.xyz/flowcache/internal/metrics"
	"firestige.xyz/flowcache/internal/pipeline"
	"firestige.xyz/flowcache/internal/sink"
	"firestige.xyz/flowcache/internal/source"
)

// Options are the command line overrides for a daemon.
type Options struct {
	ConfigPath string
	SocketPath string // empty = control.socket from config
	PIDFile    string // empty = control.pid_file from config
	// ExitOnEOF stops the daemon once every source has finished, e.g. at
	// the end of a replayed capture file.
	ExitOnEOF bool
}

// Daemon owns the flow cache and everything that feeds or reads it.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	pidWritten bool
	exitOnEOF  bool

	// Data plane
	controller *flowcache.Controller
	sink       sink.Sink
	group      *pipeline.Group
	running    bool // group started
	scheduler  *export.Scheduler

	// Control plane
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	exportDone   chan struct{}
	sigChan      chan os.Signal
}

// New loads the configuration and creates a daemon. Nothing is started.
func New(opts Options) (*Daemon, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   opts.ConfigPath,
		socketPath:   opts.SocketPath,
		pidFile:      opts.PIDFile,
		exitOnEOF:    opts.ExitOnEOF,
		shutdownChan: make(chan struct{}),
		exportDone:   make(chan struct{}),
	}
	if d.socketPath == "" {
		d.socketPath = cfg.Control.Socket
	}
	if d.pidFile == "" {
		d.pidFile = cfg.Control.PIDFile
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components. On error the
// components started so far are stopped again.
func (d *Daemon) Start() (err error) {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting flowcache daemon",
		"version", command.Version,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	if err := d.writePIDFile(); err != nil {
		return err
	}
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := d.buildDataPlane(); err != nil {
		return err
	}
	if err := d.startExport(); err != nil {
		return err
	}
	if err := d.startControl(); err != nil {
		return err
	}

	d.group.Start(d.ctx)
	d.running = true

	slog.Info("daemon started successfully",
		"flow_table_capacity", d.controller.Capacity(),
		"capture", d.config.Capture.Type,
		"workers", d.config.Capture.Workers,
	)
	return nil
}

// buildDataPlane creates the flow cache, forwarder, sink and pipelines.
func (d *Daemon) buildDataPlane() error {
	var err error
	d.controller, err = flowcache.NewController(flowcache.Options{
		Capacity:    d.config.FlowTable.Capacity,
		LockStripes: d.config.FlowTable.LockStripes,
	})
	if err != nil {
		return fmt.Errorf("failed to create flow table: %w", err)
	}

	fwd, err := forward.FromConfig(d.config.Forwarding)
	if err != nil {
		return fmt.Errorf("failed to load forwarding tables: %w", err)
	}
	ports, routes := fwd.Size()
	slog.Info("forwarding tables loaded", "port_rules", ports, "routes", routes)

	d.sink, err = sink.New(d.config.Egress)
	if err != nil {
		return fmt.Errorf("failed to open egress: %w", err)
	}

	capture := d.config.Capture
	d.group, err = pipeline.NewGroup(pipeline.GroupConfig{
		Capture: capture,
		NewSource: func(worker int) (source.Source, error) {
			return source.New(capture, worker)
		},
		Pipeline: pipeline.Config{
			Decoder:   decoder.NewStandardDecoder(decoder.Config{SkipChecksum: d.config.Decoder.SkipChecksum}),
			Cache:     d.controller,
			Forwarder: fwd,
			Sink:      d.sink,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build pipelines: %w", err)
	}
	return nil
}

// startExport starts the snapshot scheduler. Without exporters it only
// keeps the occupancy gauges fresh.
func (d *Daemon) startExport() error {
	var exporters []export.Exporter
	closeAll := func() {
		for _, e := range exporters {
			_ = e.Close()
		}
	}

	if d.config.Export.Kafka.Enabled {
		e, err := export.NewKafkaExporter(d.config.Export.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka exporter: %w", err)
		}
		exporters = append(exporters, e)
	}
	if d.config.Export.ClickHouse.Enabled {
		ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
		e, err := export.NewClickHouseExporter(ctx, d.config.Export.ClickHouse)
		cancel()
		if err != nil {
			closeAll()
			return fmt.Errorf("failed to create clickhouse exporter: %w", err)
		}
		exporters = append(exporters, e)
	}

	node := export.Node{Name: d.config.Node.Hostname, Tags: d.config.Node.Tags}
	d.scheduler = export.NewScheduler(d.controller, node, d.config.Export.Interval, exporters...)
	go func() {
		defer close(d.exportDone)
		d.scheduler.Run(d.ctx)
	}()

	slog.Info("export scheduler started", "exporters", len(exporters), "interval", d.config.Export.Interval)
	return nil
}

// startControl starts the UDS server and waits until it accepts.
func (d *Daemon) startControl() error {
	d.cmdHandler = command.NewCommandHandler(d.controller)
	d.cmdHandler.SetPipelineStats(d.group.Stats)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.udsServer.Start(d.ctx)
	}()

	select {
	case <-d.udsServer.Ready():
		return nil
	case err := <-errCh:
		d.udsServer = nil
		return fmt.Errorf("failed to start uds server: %w", err)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("uds server did not become ready on %s", d.socketPath)
	}
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop capture and let pipelines drain.
	if d.running {
		slog.Info("stopping pipelines")
		d.group.Stop()
		if err := d.group.Err(); err != nil {
			slog.Warn("capture finished with errors", "error", err)
		}
	}

	// 2. Flush egress.
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			slog.Error("error closing egress", "error", err)
		}
	}

	// 3. Cancel context: the scheduler runs a final export, the UDS server
	// stops accepting.
	d.cancel()
	if d.scheduler != nil {
		<-d.exportDone
	}
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	if d.controller != nil {
		st := d.controller.Stats()
		slog.Info("daemon stopped gracefully",
			"packets", st.Packets,
			"occupied", st.Occupied,
			"regressions", st.Regressions,
		)
	}

	if err := logpkg.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

// Run blocks until shutdown is triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. the daemon_shutdown command
//  3. every source finishing, when ExitOnEOF is set
//
// SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	var groupDone <-chan struct{}
	if d.exitOnEOF {
		groupDone = d.group.Done()
	}

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-groupDone:
			slog.Info("all sources finished")
			err := d.group.Err()
			d.Stop()
			return err

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file. Only the log section is applied
// to a running daemon; changes elsewhere are reported as requiring a
// restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log != d.config.Log {
		old := d.config.Log
		d.config.Log = newConfig.Log
		if err := d.initLogging(); err != nil {
			d.config.Log = old
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := restartSections(d.config, newConfig)

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// restartSections lists the sections other than log that differ between
// prev and next.
func restartSections(prev, next *config.GlobalConfig) []string {
	sections := []string{}
	if !reflect.DeepEqual(prev.Node, next.Node) {
		sections = append(sections, "node")
	}
	if prev.Control != next.Control {
		sections = append(sections, "control")
	}
	if prev.FlowTable != next.FlowTable {
		sections = append(sections, "flow_table")
	}
	if prev.Capture != next.Capture {
		sections = append(sections, "capture")
	}
	if prev.Decoder != next.Decoder {
		sections = append(sections, "decoder")
	}
	if !forwardingEqual(prev.Forwarding, next.Forwarding) {
		sections = append(sections, "forwarding")
	}
	if prev.Egress != next.Egress {
		sections = append(sections, "egress")
	}
	if !reflect.DeepEqual(prev.Export, next.Export) {
		sections = append(sections, "export")
	}
	if prev.Metrics != next.Metrics {
		sections = append(sections, "metrics")
	}
	return sections
}

func forwardingEqual(a, b config.ForwardingConfig) bool {
	if len(a.PortRules) != len(b.PortRules) || len(a.Routes) != len(b.Routes) {
		return false
	}
	for i := range a.PortRules {
		if a.PortRules[i] != b.PortRules[i] {
			return false
		}
	}
	for i := range a.Routes {
		if a.Routes[i] != b.Routes[i] {
			return false
		}
	}
	return true
}

// TriggerShutdown makes Run return after a graceful stop.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Controller returns the flow cache controller, nil before Start.
func (d *Daemon) Controller() *flowcache.Controller { return d.controller }

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	attrs := []slog.Attr{slog.String("node", d.config.Node.Hostname)}
	if len(d.config.Node.Tags) > 0 {
		attrs = append(attrs, slog.Any("tags", d.config.Node.Tags))
	}
	if err := logpkg.Init(d.config.Log, attrs...); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}

// writePIDFile writes the current process ID to the PID file. A PID file
// naming a live process is an error.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if pid, err := readPIDFile(d.pidFile); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("daemon already running with pid %d (%s)", pid, d.pidFile)
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	d.pidWritten = true

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if !d.pidWritten {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
