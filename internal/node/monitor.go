package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/timfallmk/node-local-monitor/internal/logging"
)

// Subsystem is the logger name used by the monitor.
const Subsystem = "cluster/node"

// Option configures a LocalMonitor.
type Option func(*LocalMonitor)

// WithProber replaces the statfs-backed prober.
func WithProber(p Prober) Option {
	return func(m *LocalMonitor) {
		if p != nil {
			m.prober = p
		}
	}
}

// WithLogger sets the logger used for probe and refresh failures.
func WithLogger(l *logging.Logger) Option {
	return func(m *LocalMonitor) {
		if l != nil {
			m.logger = l.WithComponent(Subsystem)
		}
	}
}

// WithEventLogger routes per-path probe failures to el instead of the
// monitor's logger.
func WithEventLogger(el *logging.EventLogger) Option {
	return func(m *LocalMonitor) {
		m.events = el
	}
}

// WithObserver registers an observer for refresh outcomes.
func WithObserver(o Observer) Option {
	return func(m *LocalMonitor) {
		m.observer = o
	}
}

// LocalMonitor samples the capacity of the node's data and cache
// directories and publishes the result as an immutable LocalState.
//
// Refresh probes every configured path concurrently and publishes a new
// snapshot only if all probes succeed. Current is lock-free and returns the
// last published snapshot. Concurrent Refresh calls are serialized, so the
// most recent completion always wins.
type LocalMonitor struct {
	paths    []string
	prober   Prober
	logger   *logging.Logger
	events   *logging.EventLogger
	observer Observer

	refreshMu sync.Mutex
	// inflight holds at most one outstanding probe per path. A refresh
	// abandoned on a hung filesystem leaves its probe here and the next
	// refresh waits on it instead of starting another.
	inflight singleflight.Group
	state     atomic.Pointer[LocalState]
	status    atomic.Int32
	lastOK    atomic.Int64

	// Injection points for unit tests, guarded by refreshMu.
	pathsForTest  []string
	statfsForTest StatfsFunc
}

// NewLocalMonitor creates a monitor for paths, which are probed and
// reported in the given order. The initial snapshot is empty.
func NewLocalMonitor(paths []string, opts ...Option) *LocalMonitor {
	m := &LocalMonitor{
		paths:  append([]string(nil), paths...),
		prober: NewStatfsProber(nil),
		logger: logging.Named(Subsystem),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.state.Store(&LocalState{Disks: []Disk{}})
	m.status.Store(int32(StateUnprobed))

	return m
}

// Paths returns the paths probed on the next refresh.
func (m *LocalMonitor) Paths() []string {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	paths, _ := m.targets()
	return append([]string(nil), paths...)
}

// SetPathsForTest overrides the configured path set.
func (m *LocalMonitor) SetPathsForTest(paths []string) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	m.pathsForTest = append([]string{}, paths...)
}

// SetStatfsForTest overrides the volume-statistics query.
func (m *LocalMonitor) SetStatfsForTest(fn StatfsFunc) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	m.statfsForTest = fn
}

// Current returns the last published snapshot. It never blocks on an
// in-flight refresh.
func (m *LocalMonitor) Current() LocalState {
	return m.state.Load().clone()
}

// State reports the refresh state machine position.
func (m *LocalMonitor) State() MonitorState {
	return MonitorState(m.status.Load())
}

// LastRefresh returns the time of the last successful publish, or the zero
// time if nothing has been published yet.
func (m *LocalMonitor) LastRefresh() time.Time {
	ns := m.lastOK.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Refresh probes all configured paths and publishes a new snapshot. If any
// probe fails a *RefreshFailure is returned and the previous snapshot stays
// visible. If ctx ends before all probes return, the refresh is abandoned
// without publishing.
func (m *LocalMonitor) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	paths, prober := m.targets()

	prev := MonitorState(m.status.Swap(int32(StateProbing)))
	start := time.Now()

	disks, err := m.probeAll(ctx, prober, paths)
	duration := time.Since(start)

	if err != nil {
		m.status.Store(int32(prev))
		m.reportFailure(ctx, err)
		if m.observer != nil {
			m.observer.ObserveRefresh(duration, err)
		}
		return err
	}

	m.state.Store(&LocalState{Disks: disks})
	m.lastOK.Store(time.Now().UnixNano())
	m.status.Store(int32(StateProbed))

	m.logger.WithContext(ctx).Debug("local state refreshed", "disks", len(disks), "duration", duration.String())

	if m.observer != nil {
		for _, d := range disks {
			m.observer.ObserveDisk(d)
		}
		m.observer.ObserveRefresh(duration, nil)
	}

	return nil
}

// targets must be called with refreshMu held.
func (m *LocalMonitor) targets() ([]string, Prober) {
	paths := m.paths
	if m.pathsForTest != nil {
		paths = m.pathsForTest
	}

	prober := m.prober
	if m.statfsForTest != nil {
		prober = NewStatfsProber(m.statfsForTest)
	}

	return paths, prober
}

func (m *LocalMonitor) reportFailure(ctx context.Context, err error) {
	logger := m.logger.WithContext(ctx)

	var rf *RefreshFailure
	if !errors.As(err, &rf) {
		logger.Warn("local state refresh abandoned", "error", err)
		return
	}
	for _, pf := range rf.Failures {
		if m.events != nil {
			m.events.LogProbe(logging.LevelWarn, "disk probe failed", pf.Path, string(pf.Kind), pf.Err)
			continue
		}
		logger.Warn("disk probe failed", "path", pf.Path, "kind", string(pf.Kind), "error", pf.Err)
	}
}

// probeAll starts one probe per path and gathers every outcome before
// deciding. Results keep configuration order. Probes are shared by path
// and outlive a cancelled ctx.
func (m *LocalMonitor) probeAll(ctx context.Context, prober Prober, paths []string) ([]Disk, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh abandoned: %w", err)
	}

	probeCtx := context.WithoutCancel(ctx)
	pending := make([]<-chan singleflight.Result, len(paths))
	for i, path := range paths {
		pending[i] = m.inflight.DoChan(path, func() (interface{}, error) {
			return prober.Probe(probeCtx, path)
		})
	}

	disks := make([]Disk, len(paths))
	var rf RefreshFailure
	for i, ch := range pending {
		select {
		case r := <-ch:
			if r.Err != nil {
				rf.Failures = append(rf.Failures, asProbeFailure(paths[i], r.Err))
				continue
			}
			d, _ := r.Val.(Disk)
			d.Path = paths[i]
			disks[i] = d
		case <-ctx.Done():
			return nil, fmt.Errorf("refresh abandoned: %w", ctx.Err())
		}
	}

	if len(rf.Failures) > 0 {
		return nil, &rf
	}
	return disks, nil
}

// asProbeFailure reports err against the configured path, keeping the
// kind of a *ProbeFailure returned by the prober.
func asProbeFailure(path string, err error) *ProbeFailure {
	var pf *ProbeFailure
	if errors.As(err, &pf) {
		c := *pf
		c.Path = path
		return &c
	}
	return &ProbeFailure{Path: path, Kind: classify(err), Err: err}
}
