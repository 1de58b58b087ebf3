package observability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/timfallmk/node-local-monitor/internal/node"
)

// ErrNotMonitored is reported while no snapshot has been published yet.
var ErrNotMonitored = errors.New("local state not yet monitored")

// StateSource is the read side of a node.LocalMonitor.
type StateSource interface {
	Current() node.LocalState
	LastRefresh() time.Time
}

// FuncHealthChecker adapts a function into a HealthChecker.
type FuncHealthChecker struct {
	name     string
	testFunc func(ctx context.Context) error
	timeout  time.Duration
}

// NewFuncHealthChecker creates a checker that calls testFunc. A nil testFunc
// makes Check fail.
func NewFuncHealthChecker(name string, timeout time.Duration, testFunc func(ctx context.Context) error) *FuncHealthChecker {
	return &FuncHealthChecker{
		name:     name,
		testFunc: testFunc,
		timeout:  timeout,
	}
}

func (f *FuncHealthChecker) Name() string {
	return f.name
}

func (f *FuncHealthChecker) Timeout() time.Duration {
	return f.timeout
}

func (f *FuncHealthChecker) Check(ctx context.Context) error {
	if f.testFunc == nil {
		return fmt.Errorf("no test function provided")
	}
	return f.testFunc(ctx)
}

// DiskSpaceHealthChecker reports unhealthy when any monitored disk is in a
// critical capacity state. It reads the cached snapshot and never probes.
type DiskSpaceHealthChecker struct {
	name    string
	source  StateSource
	timeout time.Duration

	mu         sync.RWMutex
	thresholds Thresholds
}

// NewDiskSpaceHealthChecker creates a DiskSpaceHealthChecker over source
// with a 2s timeout.
func NewDiskSpaceHealthChecker(name string, source StateSource, thresholds Thresholds) *DiskSpaceHealthChecker {
	return &DiskSpaceHealthChecker{
		name:       name,
		source:     source,
		thresholds: thresholds,
		timeout:    2 * time.Second,
	}
}

func (d *DiskSpaceHealthChecker) Name() string {
	return d.name
}

func (d *DiskSpaceHealthChecker) Timeout() time.Duration {
	return d.timeout
}

// SetThresholds replaces the thresholds, e.g. after a config reload.
func (d *DiskSpaceHealthChecker) SetThresholds(t Thresholds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.thresholds = t
}

// Thresholds returns the thresholds in effect.
func (d *DiskSpaceHealthChecker) Thresholds() Thresholds {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.thresholds
}

func (d *DiskSpaceHealthChecker) Check(ctx context.Context) error {
	state := d.source.Current()
	if state.Empty() {
		return ErrNotMonitored
	}

	var critical []string
	for _, c := range Classify(state, d.Thresholds()) {
		if c.Status == CapacityCritical {
			critical = append(critical, fmt.Sprintf("%s (%.1f%% free)", c.Path, c.FreePercent))
		}
	}

	if len(critical) > 0 {
		return fmt.Errorf("low disk space: %s", strings.Join(critical, ", "))
	}

	return nil
}

// FreshnessHealthChecker reports unhealthy when the last successful refresh
// is older than maxAge.
type FreshnessHealthChecker struct {
	name    string
	source  StateSource
	maxAge  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewFreshnessHealthChecker creates a FreshnessHealthChecker with a 1s
// timeout.
func NewFreshnessHealthChecker(name string, source StateSource, maxAge time.Duration) *FreshnessHealthChecker {
	return &FreshnessHealthChecker{
		name:    name,
		source:  source,
		maxAge:  maxAge,
		timeout: time.Second,
		now:     time.Now,
	}
}

func (f *FreshnessHealthChecker) Name() string {
	return f.name
}

func (f *FreshnessHealthChecker) Timeout() time.Duration {
	return f.timeout
}

func (f *FreshnessHealthChecker) Check(ctx context.Context) error {
	last := f.source.LastRefresh()
	if last.IsZero() {
		return ErrNotMonitored
	}

	if age := f.now().Sub(last); age > f.maxAge {
		return fmt.Errorf("local state is stale: last refresh %s ago (max %s)", age.Round(time.Millisecond), f.maxAge)
	}

	return nil
}
