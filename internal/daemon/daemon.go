// Package daemon runs the orchestra supervisor process: health checks,
// metrics collection, quality gates and task assignment behind a UDS API.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/msageha/orchestra/internal/assign"
	"github.com/msageha/orchestra/internal/config"
	"github.com/msageha/orchestra/internal/events"
	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/lock"
	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/metrics"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/notify"
	"github.com/msageha/orchestra/internal/quality"
	"github.com/msageha/orchestra/internal/report"
	"github.com/msageha/orchestra/internal/scheduler"
	"github.com/msageha/orchestra/internal/status"
	"github.com/msageha/orchestra/internal/tmux"
	"github.com/msageha/orchestra/internal/uds"
)

const eventBufferSize = 256

// Daemon is the main orchestra daemon process.
type Daemon struct {
	dir       string
	config    model.Config
	logger    *logging.Logger
	logFile   io.Closer
	startedAt time.Time

	fileLock *lock.FileLock
	server   *uds.Server
	bus      *events.Bus
	audit    *events.AuditLogger
	detach   func()

	store       *metrics.SQLiteStore
	analyzer    *metrics.Analyzer
	monitor     *metrics.Monitor
	monitorLoop *scheduler.Loop
	supervisor  *health.Supervisor
	assigner    *assign.Engine
	gates       *quality.Engine
	watcher     *quality.Watcher
	reports     *report.Generator
	sessions    status.SessionLister

	snapMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New creates a daemon that logs to dir/logs/daemon.log and drives agents
// through tmux.
func New(dir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(dir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	logger := logging.New(logFile, logging.ParseLevel(cfg.Logging.Level))

	client := tmux.NewClient(tmux.ExecRunner{}, config.Seconds(cfg.Tmux.CommandTimeoutSec, 10*time.Second))
	comm := tmux.NewCommunicator(client, tmux.CommunicatorConfig{
		LaunchCommand:    cfg.Tmux.LaunchCommand,
		MaxRetries:       cfg.Tmux.MaxRetryAttempts,
		BreakerThreshold: cfg.Tmux.BreakerThreshold,
	}, logger)

	d, err := newDaemon(dir, cfg, logger, comm, client)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	d.logFile = logFile
	return d, nil
}

// newDaemon wires every component. Tests call it with a fake communicator.
func newDaemon(dir string, cfg model.Config, logger *logging.Logger, comm health.Communicator, sessions status.SessionLister) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		dir:      dir,
		config:   cfg,
		logger:   logger.With("daemon"),
		fileLock: lock.NewFileLock(filepath.Join(dir, "locks", "daemon.lock")),
		server:   uds.NewServer(status.SocketPath(dir), logger),
		bus:      events.NewBus(eventBufferSize, logger),
		sessions: sessions,
		ctx:      ctx,
		cancel:   cancel,
	}

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(dir, "metrics.db")
	}
	store, err := metrics.Open(ctx, dbPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open metrics store: %w", err)
	}
	d.store = store
	d.analyzer = metrics.NewAnalyzer(store)
	d.monitor = metrics.NewMonitor(store, logger)

	d.supervisor = health.NewSupervisor(comm, health.Options{
		ObservationDelay: config.Seconds(cfg.Health.ObservationDelaySec, health.DefaultObservationDelay),
		SettleDelay:      config.Seconds(cfg.Health.SettleDelaySec, health.DefaultSettleDelay),
		LaunchDelay:      config.Seconds(cfg.Health.LaunchDelaySec, health.DefaultLaunchDelay),
		Defaults: health.Config{
			MaxFailures:      cfg.Health.MaxFailures,
			RecoveryStrategy: cfg.Health.RecoveryStrategy,
			CheckInterval:    config.Seconds(cfg.Health.CheckIntervalSec, health.DefaultCheckInterval),
		},
		Publisher:    d.bus,
		Notifier:     notify.New(),
		Interactions: store,
		Logger:       logger,
		AfterCheck: func(ctx context.Context, st health.AgentStatus) {
			d.writeSnapshot()
		},
	})

	retention := assign.DefaultRetention
	if cfg.Assignment.RetentionHours > 0 {
		retention = time.Duration(cfg.Assignment.RetentionHours) * time.Hour
	}
	d.assigner = assign.NewEngine(d.analyzer, assign.Options{
		Retention:          retention,
		TrendWindowDays:    cfg.Assignment.TrendWindowDays,
		DefaultPerformance: cfg.Assignment.DefaultPerformanceFactor,
		Publisher:          d.bus,
		Logger:             logger,
	})

	var fallback []quality.Rule
	if cfg.Quality.UseDefaultRules {
		fallback = quality.DefaultRules()
	}
	d.gates = quality.NewEngine(quality.Options{
		Recorder:      store,
		Publisher:     d.bus,
		Logger:        logger,
		FallbackRules: fallback,
	})

	d.reports = report.NewGenerator(report.Options{
		Trends:   d.analyzer,
		Gates:    d.gates,
		Health:   d.supervisor,
		Recorder: store,
		Logger:   logger,
	})

	interval := config.Seconds(cfg.Monitoring.IntervalSec, 60*time.Second)
	d.monitorLoop = scheduler.NewLoop("metrics", interval, d.monitor.CollectAll, logger)

	return d, nil
}

// Run starts the daemon and blocks until a signal or a shutdown request.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := os.MkdirAll(filepath.Join(d.dir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure lock dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Infof("daemon starting pid=%d project=%s", os.Getpid(), d.config.Project.Name)

	if err := d.start(); err != nil {
		d.Shutdown()
		return err
	}
	d.logger.Infof("daemon ready")

	d.waitSignals()
	return nil
}

// start brings up every component after the lock is held.
func (d *Daemon) start() error {
	d.startedAt = time.Now()

	// Step 2: Audit log on the event bus
	audit, err := events.NewAuditLogger(filepath.Join(d.dir, "logs", "audit.jsonl"), 0)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.detach = audit.Attach(d.bus, func(err error) {
		d.logger.Warnf("audit write error=%v", err)
	})

	// Step 3: Quality rules and built-in evaluators
	if err := d.registerEvaluators(); err != nil {
		return err
	}
	n, err := d.gates.LoadRules(d.config.Quality.RulesDir)
	if err != nil {
		d.logger.Errorf("load rules dir=%s: %v", d.config.Quality.RulesDir, err)
		if d.config.Quality.UseDefaultRules {
			if err := d.gates.SetRules(quality.DefaultRules()); err != nil {
				return fmt.Errorf("install default rules: %w", err)
			}
		}
	} else {
		d.logger.Infof("loaded rules count=%d dir=%s", n, d.config.Quality.RulesDir)
	}

	// Step 4: Agents from config
	if err := d.registerAgents(); err != nil {
		return err
	}

	// Step 5: UDS server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Infof("UDS server listening on %s", status.SocketPath(d.dir))

	// Step 6: Background loops
	if d.config.Quality.WatchRules && d.config.Quality.RulesDir != "" {
		d.watcher = quality.NewWatcher(d.config.Quality.RulesDir, d.gates, d.logger)
		if err := d.watcher.Start(d.ctx); err != nil {
			d.logger.Warnf("rule watcher disabled: %v", err)
			d.watcher = nil
		}
	}
	if d.config.Monitoring.Enabled {
		d.monitor.Register("agent_health", d.collectAgentHealth)
		if err := d.monitorLoop.Start(d.ctx); err != nil {
			return fmt.Errorf("start metrics loop: %w", err)
		}
	}
	if d.config.Health.Enabled {
		if err := d.supervisor.Start(d.ctx); err != nil {
			return fmt.Errorf("start supervisor: %w", err)
		}
	}
	d.writeSnapshot()
	return nil
}

// registerAgents hands configured agents to the supervisor and their
// capabilities to the assignment engine.
func (d *Daemon) registerAgents() error {
	for _, a := range d.config.Agents {
		if d.config.Health.Enabled {
			err := d.supervisor.Register(a.Name, a.Target, health.Config{
				MaxFailures:      a.MaxFailures,
				RecoveryStrategy: a.RecoveryStrategy,
				CheckInterval:    config.Seconds(a.CheckIntervalSec, 0),
			})
			if err != nil {
				return fmt.Errorf("register agent %s: %w", a.Name, err)
			}
		}

		caps, ok := assign.ResolveCapabilities(a.Role, a.Capabilities)
		if !ok {
			d.logger.Infof("agent=%s role=%q has no capabilities, not assignable", a.Name, a.Role)
			continue
		}
		if err := d.assigner.RegisterAgentCapabilities(a.Name, caps); err != nil {
			return fmt.Errorf("register capabilities %s: %w", a.Name, err)
		}
	}
	return nil
}

// waitSignals blocks until a shutdown signal is received or Shutdown is
// called.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Infof("received signal=%s, initiating graceful shutdown", sig)
	case <-d.ctx.Done():
	}

	// Second signal forces exit
	go func() {
		if _, ok := <-sigCh; ok {
			d.logger.Warnf("received second signal, forcing exit")
			os.Exit(1)
		}
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Infof("shutdown started")

		// 1. Cancel context (stops accepting new work)
		d.cancel()

		// 2. Stop producers and drain in-flight cycles with timeout
		timeout := config.Seconds(d.config.Daemon.ShutdownTimeoutSec, 30*time.Second)
		done := make(chan struct{})
		go func() {
			defer close(done)
			d.server.Stop()
			if d.watcher != nil {
				d.watcher.Stop()
			}
			d.monitorLoop.Stop()
			d.supervisor.Stop()
		}()

		select {
		case <-done:
			d.logger.Infof("all loops drained")
		case <-time.After(timeout):
			d.logger.Warnf("shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		// 3. Final snapshot and cleanup
		d.writeSnapshot()
		d.cleanup()
		d.logger.Infof("daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	if d.detach != nil {
		d.detach()
	}
	d.bus.Close()
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			d.logger.Warnf("close audit log: %v", err)
		}
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warnf("close metrics store: %v", err)
	}
	os.Remove(status.SocketPath(d.dir))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

// writeSnapshot persists the supervisor's records to state/health.yaml.
func (d *Daemon) writeSnapshot() {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()
	if err := status.WriteSnapshot(d.dir, d.supervisor.Snapshot(), time.Now()); err != nil {
		d.logger.Warnf("write health snapshot: %v", err)
	}
}

// Done is closed once shutdown has begun.
func (d *Daemon) Done() <-chan struct{} { return d.ctx.Done() }
