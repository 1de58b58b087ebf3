package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/takama/daemon"

	"github.com/timfallmk/node-local-monitor/internal/config"
	"github.com/timfallmk/node-local-monitor/internal/node"
	"github.com/timfallmk/node-local-monitor/internal/testutils"
)

// fakeManager stands in for the OS service manager. errs maps an
// operation name to the error it returns.
type fakeManager struct {
	mu          sync.Mutex
	errs        map[string]error
	installArgs []string
	installed   bool
	running     bool
	template    string
}

func (m *fakeManager) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs[op]
}

func (m *fakeManager) Install(args ...string) (string, error) {
	if err := m.fail("install"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed, m.installArgs = true, args
	return "installed", nil
}

func (m *fakeManager) Remove() (string, error) {
	if err := m.fail("remove"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed, m.running = false, false
	return "removed", nil
}

func (m *fakeManager) Start() (string, error) {
	if err := m.fail("start"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.installed {
		return "", errors.New("service not installed")
	}
	m.running = true
	return "started", nil
}

func (m *fakeManager) Stop() (string, error) {
	if err := m.fail("stop"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return "stopped", nil
}

func (m *fakeManager) Status() (string, error) {
	if err := m.fail("status"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return "running", nil
	}
	return "stopped", nil
}

func (m *fakeManager) Run(daemon.Executable) (string, error) { return "", nil }
func (m *fakeManager) GetTemplate() string                  { return m.template }
func (m *fakeManager) SetTemplate(t string) error {
	m.template = t
	return nil
}

func newTestService(t *testing.T, cfg *config.Config, opts ...Option) (*Service, *fakeManager) {
	t.Helper()

	mock := &fakeManager{}
	service, err := NewService(cfg, append([]Option{WithDaemon(mock)}, opts...)...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service, mock
}

func runService(t *testing.T, service *Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
	return cancel, done
}

func TestServiceCreation(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)

	service, _ := newTestService(t, cfg)

	if service.Config() != cfg {
		t.Error("NewService() config not set correctly")
	}

	if service.Monitor() != nil {
		t.Error("NewService() should not build the monitor before Initialize()")
	}

	if _, err := NewService(nil); err == nil {
		t.Error("NewService(nil) should fail")
	}
}

func TestServiceInitialization(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	service, _ := newTestService(t, cfg)

	if err := service.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if service.Monitor() == nil {
		t.Fatal("Initialize() should set the monitor")
	}

	paths := service.Monitor().Paths()
	want := cfg.MonitoredPaths()
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("monitor paths = %v, want %v", paths, want)
	}

	if service.Health() == nil || service.Metrics() == nil {
		t.Error("Initialize() should set health monitor and metrics")
	}

	if service.api != nil {
		t.Error("Initialize() should not build the api server when disabled")
	}

	if !service.Monitor().Current().Empty() {
		t.Error("snapshot should be empty before the first refresh")
	}

	// Initialize is idempotent.
	monitor := service.Monitor()
	if err := service.Initialize(); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if service.Monitor() != monitor {
		t.Error("second Initialize() rebuilt the monitor")
	}
}

func TestServiceInitializationInvalidConfig(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	cfg.Monitor.RefreshInterval = 0

	service, _ := newTestService(t, cfg)

	if err := service.Initialize(); err == nil {
		t.Error("Initialize() with invalid config should fail")
	}
}

func TestServiceRunRefreshesImmediately(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	cfg.Monitor.RefreshInterval = time.Hour
	cfg.Monitor.RefreshTimeout = time.Second

	stub := testutils.NewStubStatfs()
	stub.Set(cfg.Node.DataDirectory, 4096, 1000, 250)
	stub.Set(cfg.Node.CacheDirectory, 4096, 2000, 1000)

	service, _ := newTestService(t, cfg, WithMonitorOptions(node.WithProber(node.NewStatfsProber(stub.Statfs))))
	runService(t, service)

	testutils.WaitForCondition(t, func() bool {
		return service.Monitor() != nil && !service.Monitor().Current().Empty()
	}, 2*time.Second, "initial refresh should publish a snapshot")

	state := service.Monitor().Current()
	if len(state.Disks) != 2 {
		t.Fatalf("snapshot has %d disks, want 2", len(state.Disks))
	}

	if state.Disks[0].Path != cfg.Node.DataDirectory || state.Disks[0].Total != 4096000 || state.Disks[0].Free != 1024000 {
		t.Errorf("data disk = %+v, want 4096000/1024000", state.Disks[0])
	}
	if state.Disks[1].Path != cfg.Node.CacheDirectory {
		t.Errorf("second disk = %v, want cache directory", state.Disks[1].Path)
	}

	testutils.WaitForCondition(t, func() bool {
		return service.Health().IsHealthy()
	}, 2*time.Second, "health should pass after the initial refresh")
}

func TestServiceRunKeepsSnapshotOnFailure(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	cfg.Monitor.RefreshTimeout = 40 * time.Millisecond

	stub := testutils.NewStubStatfs()
	stub.Set(cfg.Node.DataDirectory, 4096, 1000, 250)
	stub.Set(cfg.Node.CacheDirectory, 4096, 1000, 500)

	service, _ := newTestService(t, cfg, WithMonitorOptions(node.WithProber(node.NewStatfsProber(stub.Statfs))))
	runService(t, service)

	testutils.WaitForCondition(t, func() bool {
		return service.Monitor() != nil && !service.Monitor().Current().Empty()
	}, 2*time.Second, "initial refresh should publish a snapshot")

	before := service.Monitor().Current()
	stub.Fail(cfg.Node.CacheDirectory, os.ErrPermission)
	calls := stub.Calls(cfg.Node.CacheDirectory)

	testutils.WaitForCondition(t, func() bool {
		return stub.Calls(cfg.Node.CacheDirectory) >= calls+2
	}, 2*time.Second, "scheduler should keep refreshing")

	if !service.Monitor().Current().Equal(before) {
		t.Errorf("snapshot changed after failing refreshes: %+v, want %+v", service.Monitor().Current(), before)
	}

	key := "probe_failures_total,kind=permission-denied,path=" + cfg.Node.CacheDirectory
	if m, ok := service.Metrics().Collector().GetMetrics()[key]; !ok || m.Value < 1 {
		t.Errorf("metric %s missing after failed refresh", key)
	}

	if _, ok := service.Metrics().Collector().GetMetrics()["scheduled_refresh_seconds,success=false"]; !ok {
		t.Error("scheduled refresh timing missing after failed refresh")
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	service, _ := newTestService(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestServiceRunWithAPI(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"

	service, _ := newTestService(t, cfg)
	runService(t, service)

	testutils.WaitForCondition(t, func() bool {
		return service.Monitor() != nil && !service.Monitor().Current().Empty()
	}, 2*time.Second, "refresh against real temp directories should publish")
}

func TestServiceRunFailsWhenListenAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testutils.CreateTestConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = ln.Addr().String()

	service, _ := newTestService(t, cfg)

	done := make(chan error, 1)
	go func() { done <- service.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run() should fail when the api address is taken")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not fail on a taken api address")
	}
}

func TestServiceConfigReload(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	path := testutils.CreateTempConfig(t, testutils.CreateTestConfigYAML(cfg.Node.DataDirectory, cfg.Node.CacheDirectory))

	loaded, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	service, _ := newTestService(t, loaded, WithConfigPath(path))
	if err := service.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	updated := *loaded
	updated.Thresholds.MinFreePercentWarning = 40
	updated.Thresholds.MinFreePercentCritical = 10
	updated.Logging.Level = "debug"
	if err := updated.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	if err := service.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := service.diskChecker.Thresholds(); got.MinFreePercentWarning != 40 || got.MinFreePercentCritical != 10 {
		t.Errorf("thresholds after reload = %+v, want warning 40 critical 10", got)
	}

	if service.Config().Logging.Level != "debug" {
		t.Errorf("config level after reload = %v, want debug", service.Config().Logging.Level)
	}

	key := "config_reloads_total,success=true"
	if m, ok := service.Metrics().Collector().GetMetrics()[key]; !ok || m.Value != 1 {
		t.Errorf("metric %s = %+v, want 1", key, m)
	}
}

func TestServiceConfigReloadErrors(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)

	service, _ := newTestService(t, cfg)
	if err := service.Reload(); err == nil {
		t.Error("Reload() without a config path should fail")
	}

	path := testutils.CreateTempConfig(t, "monitor: [not, a, map")
	service, _ = newTestService(t, cfg, WithConfigPath(path))
	if err := service.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if err := service.Reload(); err == nil {
		t.Error("Reload() of invalid YAML should fail")
	}
	if service.Config() != cfg {
		t.Error("failed Reload() should keep the previous config")
	}

	key := "config_reloads_total,success=false"
	if _, ok := service.Metrics().Collector().GetMetrics()[key]; !ok {
		t.Errorf("metric %s missing after failed reload", key)
	}
}

func TestServiceLifecycle(t *testing.T) {
	service, manager := newTestService(t, testutils.CreateTestConfig(t))

	steps := []struct {
		name       string
		op         func() (string, error)
		wantErr    bool
		wantStatus string
	}{
		{"start before install", service.StartService, true, "stopped"},
		{"install", func() (string, error) { return service.Install("-config", "/etc/localmond/config.yaml", "run") }, false, "stopped"},
		{"start", service.StartService, false, "running"},
		{"stop", service.StopService, false, "stopped"},
		{"restart", service.StartService, false, "running"},
		{"remove", service.Remove, false, "stopped"},
	}

	for _, step := range steps {
		if _, err := step.op(); (err != nil) != step.wantErr {
			t.Fatalf("%s: error = %v, wantErr %v", step.name, err, step.wantErr)
		}
		if status, err := service.Status(); err != nil || status != step.wantStatus {
			t.Errorf("%s: Status() = %q, %v, want %q", step.name, status, err, step.wantStatus)
		}
	}

	if got := manager.installArgs; len(got) != 3 || got[2] != "run" {
		t.Errorf("install args = %v, want the run command passed through", got)
	}
	if manager.installed {
		t.Error("service still installed after Remove()")
	}
}

func TestServiceManagerErrors(t *testing.T) {
	service, manager := newTestService(t, testutils.CreateTestConfig(t))

	ops := map[string]func() (string, error){
		"install": func() (string, error) { return service.Install() },
		"remove":  service.Remove,
		"start":   service.StartService,
		"stop":    service.StopService,
		"status":  service.Status,
	}

	manager.errs = make(map[string]error, len(ops))
	for op := range ops {
		manager.errs[op] = errors.New(op + " failed")
	}

	for op, fn := range ops {
		t.Run(op, func(t *testing.T) {
			if _, err := fn(); !errors.Is(err, manager.errs[op]) {
				t.Errorf("%s error = %v, want %v", op, err, manager.errs[op])
			}
		})
	}
}

func TestServiceConcurrency(t *testing.T) {
	service, _ := newTestService(t, testutils.CreateTestConfig(t))
	if err := service.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			for j := 0; j < 3; j++ {
				if status, err := service.Status(); err != nil || status != "stopped" {
					t.Errorf("goroutine %d: Status() = %q, %v", id, status, err)
				}

				if err := service.Monitor().Refresh(context.Background()); err != nil {
					t.Errorf("Goroutine %d Refresh() error = %v", id, err)
				}
				_ = service.Monitor().Current()
			}
		}(i)
	}

	wg.Wait()

	if service.Monitor().Current().Empty() {
		t.Error("snapshot should be published after concurrent refreshes")
	}
}

func TestServiceReloadMissingFileKeepsConfig(t *testing.T) {
	dataDir := t.TempDir()
	path := testutils.CreateTempConfig(t, testutils.CreateTestConfigYAML(dataDir, ""))

	loaded, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	loaded.Thresholds.MinFreePercentWarning = 50
	loaded.Thresholds.MinFreePercentCritical = 40

	service, _ := newTestService(t, loaded, WithConfigPath(path))
	if err := service.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if err := service.Reload(); err == nil {
		t.Fatal("Reload() of a deleted config file should fail")
	}
	if got := service.Config().Thresholds; got.MinFreePercentWarning != 50 || got.MinFreePercentCritical != 40 {
		t.Errorf("thresholds after failed reload = %+v, want 50/40 kept", got)
	}
}
