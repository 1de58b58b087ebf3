package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/takama/daemon"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/timfallmk/node-local-monitor/internal/api"
	"github.com/timfallmk/node-local-monitor/internal/config"
	"github.com/timfallmk/node-local-monitor/internal/logging"
	"github.com/timfallmk/node-local-monitor/internal/mounts"
	"github.com/timfallmk/node-local-monitor/internal/node"
	"github.com/timfallmk/node-local-monitor/internal/observability"
)

const (
	mountCacheTTL    = time.Minute
	refreshRateLimit = rate.Limit(1)
)

// Option configures a Service.
type Option func(*Service)

// WithConfigPath enables SIGHUP and file-change reloads from path.
func WithConfigPath(path string) Option {
	return func(s *Service) {
		s.configPath = path
	}
}

// WithDaemon replaces the system service manager.
func WithDaemon(d daemon.Daemon) Option {
	return func(s *Service) {
		s.Daemon = d
	}
}

// WithLogger sets the root logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMonitorOptions passes options through to the local monitor.
func WithMonitorOptions(opts ...node.Option) Option {
	return func(s *Service) {
		s.monitorOpts = append(s.monitorOpts, opts...)
	}
}

// WithPartitionLister replaces the partition table used for mount lookups.
func WithPartitionLister(list mounts.PartitionLister) Option {
	return func(s *Service) {
		s.partitions = list
	}
}

// Service runs the local monitor and its supporting components, and manages
// installation as a system service.
type Service struct {
	daemon.Daemon

	mu         sync.RWMutex
	config     *config.Config
	configPath string

	logger      *logging.Logger
	events      *logging.EventLogger
	perf        *logging.MetricsLogger
	monitorOpts []node.Option
	partitions  mounts.PartitionLister

	collector   *observability.MetricsCollector
	metrics     *observability.ApplicationMetrics
	monitor     *node.LocalMonitor
	health      *observability.HealthMonitor
	diskChecker *observability.DiskSpaceHealthChecker
	resolver    *mounts.Resolver
	api         *api.Server

	initialized bool
	started     time.Time
}

func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service requires a configuration")
	}

	s := &Service{config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.Daemon == nil {
		d, err := daemon.New(cfg.Daemon.Name, cfg.Daemon.Description, daemon.SystemDaemon)
		if err != nil {
			return nil, fmt.Errorf("failed to create daemon: %w", err)
		}
		s.Daemon = d
	}

	if s.logger == nil {
		s.logger = logging.GetGlobalLogger()
	}
	s.perf = logging.NewMetricsLogger(s.logger)

	return s, nil
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Monitor returns the local monitor, or nil before Initialize.
func (s *Service) Monitor() *node.LocalMonitor {
	return s.monitor
}

// Metrics returns the application metrics, or nil before Initialize.
func (s *Service) Metrics() *observability.ApplicationMetrics {
	return s.metrics
}

// Health returns the health monitor, or nil before Initialize.
func (s *Service) Health() *observability.HealthMonitor {
	return s.health
}

// Initialize builds the components. It is called by Run and may be called
// earlier to inspect them.
func (s *Service) Initialize() error {
	if s.initialized {
		return nil
	}

	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.events = logging.NewEventLogger(s.logger)
	s.collector = observability.NewMetricsCollector(s.logger, cfg.Monitor.RefreshInterval)
	s.metrics = observability.NewApplicationMetrics(s.collector)

	monitorOpts := append([]node.Option{
		node.WithLogger(s.logger),
		node.WithEventLogger(s.events),
		node.WithObserver(s.metrics),
	}, s.monitorOpts...)
	s.monitor = node.NewLocalMonitor(cfg.MonitoredPaths(), monitorOpts...)

	s.resolver = mounts.NewResolver(s.partitions, mountCacheTTL)

	s.health = observability.NewHealthMonitor(s.logger, s.metrics, cfg.Monitor.RefreshInterval)
	s.diskChecker = observability.NewDiskSpaceHealthChecker("disk_space", s.monitor, thresholdsFrom(cfg))
	s.health.RegisterChecker(s.diskChecker)
	if cfg.Monitor.MaxStaleness > 0 {
		s.health.RegisterChecker(observability.NewFreshnessHealthChecker("freshness", s.monitor, cfg.Monitor.MaxStaleness))
	}
	s.health.RegisterChecker(observability.NewFuncHealthChecker("config", time.Second, func(ctx context.Context) error {
		return s.Config().Validate()
	}))

	if cfg.API.Enabled {
		server, err := api.NewServer(api.Options{
			Listen:         cfg.API.Listen,
			Monitor:        s.monitor,
			Health:         s.health,
			Resolver:       s.resolver,
			Metrics:        s.metrics,
			Thresholds:     s.diskChecker.Thresholds,
			RefreshTimeout: cfg.Monitor.RefreshTimeout,
			RefreshRate:    refreshRateLimit,
			Logger:         s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create api server: %w", err)
		}
		s.api = server
	}

	s.initialized = true
	s.events.LogDaemon(logging.LevelInfo, "daemon initialized", "initialize", map[string]interface{}{
		"paths": cfg.MonitoredPaths(),
	})
	return nil
}

// Run starts every component and blocks until ctx is cancelled, a
// termination signal arrives, or a component fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Initialize(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.started = time.Now()
	s.events.LogDaemon(logging.LevelInfo, "daemon starting", "start", nil)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.handleSignals(ctx, cancel)
	})

	g.Go(func() error {
		return s.runScheduler(ctx)
	})

	g.Go(func() error {
		s.health.Start()
		<-ctx.Done()
		s.health.Stop()
		return nil
	})

	if s.api != nil {
		g.Go(func() error {
			return s.api.Run(ctx)
		})
	}

	if s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath, s.onReload)
		if err != nil {
			s.logger.Warn("config watcher disabled", "path", s.configPath, "error", err)
		} else {
			g.Go(func() error {
				return watcher.Run(ctx)
			})
		}
	}

	err := g.Wait()
	if err != nil {
		s.events.LogError(err, "daemon component failed", nil)
	}

	s.collector.Close()
	s.logger.Info("daemon stopped", "uptime", time.Since(s.started).String())
	s.events.Close()

	return err
}

func (s *Service) runScheduler(ctx context.Context) error {
	cfg := s.Config()

	s.refreshOnce(ctx, cfg.Monitor.RefreshTimeout)
	s.health.RunChecks(ctx)

	ticker := time.NewTicker(cfg.Monitor.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refreshOnce(ctx, s.Config().Monitor.RefreshTimeout)
			s.metrics.RecordDaemonUptime(time.Since(s.started))
		}
	}
}

// refreshOnce runs a single bounded refresh. Failures are logged per path by
// the monitor; the scheduler keeps the previous snapshot and carries on.
func (s *Service) refreshOnce(ctx context.Context, timeout time.Duration) {
	rctx, cancel := context.WithTimeout(logging.ContextWithFields(ctx, "trigger", "scheduler"), timeout)
	defer cancel()

	timer := s.collector.StartTimer("scheduled_refresh_seconds", nil)
	err := s.monitor.Refresh(rctx)
	if ctx.Err() != nil {
		return
	}
	d := timer.StopWithSuccess(err == nil)

	if err != nil {
		s.events.LogRefresh(logging.LevelDebug, "scheduled refresh failed", 0, d, err)
		return
	}
	s.events.LogRefresh(logging.LevelDebug, "scheduled refresh", len(s.monitor.Current().Disks), d, nil)
}

func (s *Service) handleSignals(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				s.logger.Info("received signal, shutting down", "signal", sig.String())
				cancel()
				return nil
			case syscall.SIGHUP:
				s.logger.Info("received SIGHUP, reloading configuration")
				if err := s.Reload(); err != nil {
					s.logger.Warn("failed to reload config", "error", err)
				}
			}
		}
	}
}

// Reload re-reads the configuration file and applies it.
func (s *Service) Reload() error {
	if s.configPath == "" {
		return errors.New("no configuration file to reload")
	}

	tracker := s.perf.StartTracking("config_reload", nil)
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		s.recordReload(false, tracker.FinishWithError(err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	s.applyConfig(cfg)
	s.recordReload(true, tracker.FinishWithError(nil))
	return nil
}

func (s *Service) onReload(cfg *config.Config, err error) {
	if err != nil {
		s.recordReload(false, 0)
		s.events.LogConfig(logging.LevelWarn, "config reload failed", s.configPath, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	start := time.Now()
	s.applyConfig(cfg)
	s.recordReload(true, time.Since(start))
}

// applyConfig swaps in cfg. Thresholds and log level take effect at once;
// path and listener changes need a restart.
func (s *Service) applyConfig(cfg *config.Config) {
	s.mu.Lock()
	old := s.config
	s.config = cfg
	s.mu.Unlock()

	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		s.logger.SetLevel(level)
	}

	if s.diskChecker != nil {
		s.diskChecker.SetThresholds(thresholdsFrom(cfg))
	}

	if !reflect.DeepEqual(old.MonitoredPaths(), cfg.MonitoredPaths()) {
		s.logger.Warn("monitored paths changed, restart required to apply",
			"current", old.MonitoredPaths(), "configured", cfg.MonitoredPaths())
	}
	if old.API != cfg.API {
		s.logger.Warn("api settings changed, restart required to apply")
	}

	if s.resolver != nil {
		s.resolver.Invalidate()
	}

	if s.events != nil {
		s.events.LogConfig(logging.LevelInfo, "configuration reloaded", s.configPath, nil)
	}
}

func (s *Service) recordReload(success bool, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordConfigReload(success, d)
	}
}

func thresholdsFrom(cfg *config.Config) observability.Thresholds {
	return observability.Thresholds{
		MinFreeBytes:           cfg.Thresholds.MinFreeBytes,
		MinFreePercentWarning:  cfg.Thresholds.MinFreePercentWarning,
		MinFreePercentCritical: cfg.Thresholds.MinFreePercentCritical,
	}
}

func (s *Service) Install(args ...string) (string, error) {
	return s.Daemon.Install(args...)
}

func (s *Service) Remove() (string, error) {
	return s.Daemon.Remove()
}

func (s *Service) Status() (string, error) {
	return s.Daemon.Status()
}

func (s *Service) StartService() (string, error) {
	return s.Daemon.Start()
}

func (s *Service) StopService() (string, error) {
	return s.Daemon.Stop()
}
