package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/timfallmk/node-local-monitor/internal/logging"
	"github.com/timfallmk/node-local-monitor/internal/node"
)

type fakeSource struct {
	state node.LocalState
	last  time.Time
}

func (f *fakeSource) Current() node.LocalState { return f.state }
func (f *fakeSource) LastRefresh() time.Time   { return f.last }

func newTestHealthMonitor(t *testing.T) *HealthMonitor {
	t.Helper()

	logger, err := logging.NewLogger(logging.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	collector := NewMetricsCollector(logger, time.Hour)
	t.Cleanup(collector.Close)

	return NewHealthMonitor(logger, NewApplicationMetrics(collector), time.Second)
}

func TestNewHealthMonitor(t *testing.T) {
	logger, err := logging.NewLogger(logging.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"configured interval", 5 * time.Second, 5 * time.Second},
		{"zero falls back", 0, time.Second},
		{"negative falls back", -time.Minute, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewHealthMonitor(logger, nil, tt.interval)
			if monitor.interval != tt.want {
				t.Errorf("interval = %v, want %v", monitor.interval, tt.want)
			}
		})
	}
}

func TestHealthMonitor_NoCheckers(t *testing.T) {
	monitor := newTestHealthMonitor(t)

	if health := monitor.GetHealth(); len(health) != 0 {
		t.Errorf("GetHealth() = %v, want empty", health)
	}
	if overall := monitor.GetOverallHealth(); overall != StatusUnknown {
		t.Errorf("GetOverallHealth() = %v, want %v", overall, StatusUnknown)
	}
	if monitor.IsHealthy() {
		t.Error("IsHealthy() = true with no checkers")
	}
}

func TestHealthStatus_Severity(t *testing.T) {
	order := []HealthStatus{StatusUnknown, StatusHealthy, StatusStarting, StatusUnhealthy}

	for i := 1; i < len(order); i++ {
		if order[i-1].severity() >= order[i].severity() {
			t.Errorf("severity(%s) >= severity(%s)", order[i-1], order[i])
		}
	}

	if errString(nil) != "" || errString(errors.New("boom")) != "boom" {
		t.Error("errString() mismatch")
	}
}

func TestHealthMonitor_RunChecks(t *testing.T) {
	monitor := newTestHealthMonitor(t)

	monitor.RegisterChecker(NewFuncHealthChecker("ok", time.Second, func(ctx context.Context) error { return nil }))

	if overall := monitor.GetOverallHealth(); overall != StatusStarting {
		t.Errorf("GetOverallHealth() before checks = %v, want %v", overall, StatusStarting)
	}

	monitor.RunChecks(context.Background())

	if !monitor.IsHealthy() {
		t.Errorf("IsHealthy() = false after passing check, health = %+v", monitor.GetHealth())
	}

	monitor.RegisterChecker(NewFuncHealthChecker("broken", time.Second, func(ctx context.Context) error {
		return errors.New("boom")
	}))
	monitor.RunChecks(context.Background())

	if overall := monitor.GetOverallHealth(); overall != StatusUnhealthy {
		t.Errorf("GetOverallHealth() = %v, want %v", overall, StatusUnhealthy)
	}

	if got := monitor.GetHealth()["broken"].Error; got != "boom" {
		t.Errorf("broken check error = %q, want boom", got)
	}
}

func TestHealthMonitor_ConsecutiveFailures(t *testing.T) {
	monitor := newTestHealthMonitor(t)

	var fail bool
	monitor.RegisterChecker(NewFuncHealthChecker("flaky", time.Second, func(ctx context.Context) error {
		if fail {
			return errors.New("flaky")
		}
		return nil
	}))

	steps := []struct {
		fail bool
		want int
	}{
		{true, 1},
		{true, 2},
		{false, 0},
		{true, 1},
	}

	for i, step := range steps {
		fail = step.fail
		monitor.RunChecks(context.Background())

		if got := monitor.GetHealth()["flaky"].ConsecutiveFailures; got != step.want {
			t.Errorf("step %d: ConsecutiveFailures = %d, want %d", i, got, step.want)
		}
	}
}

func TestHealthMonitor_RegisterReplaces(t *testing.T) {
	monitor := newTestHealthMonitor(t)

	monitor.RegisterChecker(NewFuncHealthChecker("config", time.Second, func(ctx context.Context) error {
		return errors.New("old")
	}))
	monitor.RegisterChecker(NewFuncHealthChecker("config", time.Second, func(ctx context.Context) error {
		return nil
	}))

	monitor.RunChecks(context.Background())

	health := monitor.GetHealth()
	if len(health) != 1 {
		t.Fatalf("GetHealth() has %d checks, want 1", len(health))
	}
	if health["config"].Status != StatusHealthy {
		t.Errorf("config status = %v, want %v", health["config"].Status, StatusHealthy)
	}
}

func TestHealthMonitor_CancelledChecksDiscarded(t *testing.T) {
	monitor := newTestHealthMonitor(t)

	monitor.RegisterChecker(NewFuncHealthChecker("slow", time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	monitor.RunChecks(ctx)

	if status := monitor.GetHealth()["slow"].Status; status != StatusStarting {
		t.Errorf("status after cancelled run = %v, want %v", status, StatusStarting)
	}
}

func TestHealthMonitor_StartStop(t *testing.T) {
	monitor := newTestHealthMonitor(t)

	calls := make(chan struct{}, 10)
	monitor.RegisterChecker(NewFuncHealthChecker("tick", time.Second, func(ctx context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	}))

	monitor.Start()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Error("Start() did not run an initial check")
	}

	monitor.Stop()
}

func TestFuncHealthChecker(t *testing.T) {
	checker := NewFuncHealthChecker("test_config", 2*time.Second, func(ctx context.Context) error {
		return nil
	})

	if checker.Name() != "test_config" {
		t.Errorf("Name() = %v, want test_config", checker.Name())
	}

	if checker.Timeout() != 2*time.Second {
		t.Errorf("Timeout() = %v, want %v", checker.Timeout(), 2*time.Second)
	}

	if err := checker.Check(context.Background()); err != nil {
		t.Errorf("Check() returned error: %v", err)
	}

	if err := NewFuncHealthChecker("nil", time.Second, nil).Check(context.Background()); err == nil {
		t.Error("Check() with nil function should fail")
	}
}

func TestDiskSpaceHealthChecker(t *testing.T) {
	thresholds := Thresholds{
		MinFreeBytes:           100,
		MinFreePercentWarning:  20,
		MinFreePercentCritical: 5,
	}

	tests := []struct {
		name    string
		state   node.LocalState
		wantErr error
		errPart string
	}{
		{
			name:    "not yet monitored",
			state:   node.LocalState{Disks: []node.Disk{}},
			wantErr: ErrNotMonitored,
		},
		{
			name: "plenty of space",
			state: node.LocalState{Disks: []node.Disk{
				{Path: "/data", Total: 10000, Free: 5000},
			}},
		},
		{
			name: "warning is still healthy",
			state: node.LocalState{Disks: []node.Disk{
				{Path: "/data", Total: 10000, Free: 1000},
			}},
		},
		{
			name: "critical percent",
			state: node.LocalState{Disks: []node.Disk{
				{Path: "/data", Total: 10000, Free: 5000},
				{Path: "/cache", Total: 100000, Free: 400},
			}},
			errPart: "/cache",
		},
		{
			name: "below min free bytes",
			state: node.LocalState{Disks: []node.Disk{
				{Path: "/data", Total: 200, Free: 99},
			}},
			errPart: "/data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewDiskSpaceHealthChecker("disk_space", &fakeSource{state: tt.state}, thresholds)

			err := checker.Check(context.Background())

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Check() error = %v, want %v", err, tt.wantErr)
				}
			case tt.errPart != "":
				if err == nil || !strings.Contains(err.Error(), tt.errPart) {
					t.Errorf("Check() error = %v, want mention of %s", err, tt.errPart)
				}
			default:
				if err != nil {
					t.Errorf("Check() error = %v, want nil", err)
				}
			}
		})
	}
}

func TestDiskSpaceHealthChecker_SetThresholds(t *testing.T) {
	source := &fakeSource{state: node.LocalState{Disks: []node.Disk{{Path: "/data", Total: 100, Free: 10}}}}
	checker := NewDiskSpaceHealthChecker("disk_space", source, Thresholds{})

	if err := checker.Check(context.Background()); err != nil {
		t.Fatalf("Check() with no thresholds error = %v", err)
	}

	checker.SetThresholds(Thresholds{MinFreePercentCritical: 50})

	if err := checker.Check(context.Background()); err == nil {
		t.Error("Check() after raising thresholds should fail")
	}
}

func TestFreshnessHealthChecker(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		last    time.Time
		wantErr bool
	}{
		{"never refreshed", time.Time{}, true},
		{"fresh", now.Add(-10 * time.Second), false},
		{"stale", now.Add(-2 * time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewFreshnessHealthChecker("freshness", &fakeSource{last: tt.last}, time.Minute)
			checker.now = func() time.Time { return now }

			err := checker.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
