package observability

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timfallmk/node-local-monitor/internal/logging"
)

const (
	defaultCheckTimeout = 30 * time.Second
	maxConcurrentChecks = 4
)

// HealthStatus is the state of a single check or of the node as a whole.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
	StatusStarting  HealthStatus = "starting"
)

// severity orders statuses for aggregation; the worst one wins.
func (s HealthStatus) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusStarting:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return -1
}

// HealthCheck is the latest outcome of one checker.
type HealthCheck struct {
	Name                string        `json:"name"`
	Status              HealthStatus  `json:"status"`
	Message             string        `json:"message,omitempty"`
	LastChecked         time.Time     `json:"last_checked"`
	Duration            time.Duration `json:"duration"`
	Error               string        `json:"error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures,omitempty"`
}

// HealthChecker is one named check. A non-positive Timeout uses 30s.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
}

// HealthMonitor runs the registered checkers on an interval and keeps the
// latest result of each. Checks run concurrently, at most four at a time.
type HealthMonitor struct {
	logger   *logging.Logger
	metrics  *ApplicationMetrics
	interval time.Duration

	mu       sync.RWMutex
	checkers []HealthChecker
	results  map[string]HealthCheck

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor creates a monitor that checks every interval once
// started. A non-positive interval falls back to one second. metrics may
// be nil.
func NewHealthMonitor(logger *logging.Logger, metrics *ApplicationMetrics, interval time.Duration) *HealthMonitor {
	logger = logger.WithComponent("health")

	if interval <= 0 {
		logger.Warn("invalid health check interval, using 1s", "interval", interval.String())
		interval = time.Second
	}

	return &HealthMonitor{
		logger:   logger,
		metrics:  metrics,
		interval: interval,
		results:  make(map[string]HealthCheck),
	}
}

// RegisterChecker adds checker, replacing any checker with the same name.
// Its status is "starting" until it has run once.
func (hm *HealthMonitor) RegisterChecker(checker HealthChecker) {
	name := checker.Name()

	hm.mu.Lock()
	defer hm.mu.Unlock()

	replaced := false
	for i, c := range hm.checkers {
		if c.Name() == name {
			hm.checkers[i] = checker
			replaced = true
			break
		}
	}
	if !replaced {
		hm.checkers = append(hm.checkers, checker)
	}

	hm.results[name] = HealthCheck{
		Name:        name,
		Status:      StatusStarting,
		LastChecked: time.Now(),
	}
}

// Start runs every check immediately and then on each interval until Stop.
// Calling Start on a running monitor does nothing.
func (hm *HealthMonitor) Start() {
	hm.loopMu.Lock()
	defer hm.loopMu.Unlock()

	if hm.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	hm.cancel = cancel
	hm.done = make(chan struct{})

	go hm.loop(ctx, hm.done)
	hm.logger.Info("health monitor started", "interval", hm.interval.String())
}

// Stop cancels in-flight checks and waits for the loop to exit.
func (hm *HealthMonitor) Stop() {
	hm.loopMu.Lock()
	cancel, done := hm.cancel, hm.done
	hm.cancel, hm.done = nil, nil
	hm.loopMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	hm.logger.Info("health monitor stopped")
}

// GetHealth returns a copy of the latest result of every checker.
func (hm *HealthMonitor) GetHealth() map[string]*HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	out := make(map[string]*HealthCheck, len(hm.results))
	for name, check := range hm.results {
		c := check
		out[name] = &c
	}
	return out
}

// GetOverallHealth folds every result into one status: unknown with no
// checkers, otherwise the worst of unhealthy, starting and healthy.
func (hm *HealthMonitor) GetOverallHealth() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	overall := StatusUnknown
	for _, check := range hm.results {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}
	return overall
}

func (hm *HealthMonitor) IsHealthy() bool {
	return hm.GetOverallHealth() == StatusHealthy
}

// RunChecks runs every checker once and waits for all results. Results of
// checks interrupted by ctx are discarded.
func (hm *HealthMonitor) RunChecks(ctx context.Context) {
	hm.mu.RLock()
	checkers := append([]HealthChecker(nil), hm.checkers...)
	hm.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(maxConcurrentChecks)
	for _, checker := range checkers {
		g.Go(func() error {
			hm.run(ctx, checker)
			return nil
		})
	}
	_ = g.Wait()
}

func (hm *HealthMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	hm.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.RunChecks(ctx)
		}
	}
}

func (hm *HealthMonitor) run(ctx context.Context, checker HealthChecker) {
	timeout := checker.Timeout()
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(cctx)
	if ctx.Err() != nil {
		return
	}

	hm.record(checker.Name(), err, start)
}

// record stores the outcome of a check that began at start. An outcome
// older than the stored one is dropped.
func (hm *HealthMonitor) record(name string, err error, start time.Time) {
	now := time.Now()
	d := now.Sub(start)
	next := HealthCheck{
		Name:        name,
		Status:      StatusHealthy,
		Message:     "OK",
		LastChecked: now,
		Duration:    d,
	}

	hm.mu.Lock()
	prev := hm.results[name]
	if start.Before(prev.LastChecked) {
		hm.mu.Unlock()
		return
	}
	if err != nil {
		next.Status = StatusUnhealthy
		next.Message = "check failed"
		next.Error = errString(err)
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	}
	hm.results[name] = next
	hm.mu.Unlock()

	if hm.metrics != nil {
		hm.metrics.RecordHealthCheck(name, err == nil, d)
	}

	if prev.Status == next.Status {
		return
	}
	if err != nil {
		hm.logger.Warn("health check failing", "check", name, "previous", string(prev.Status), "error", err)
		return
	}
	hm.logger.Info("health check passing", "check", name, "previous", string(prev.Status))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
