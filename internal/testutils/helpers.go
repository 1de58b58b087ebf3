package testutils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/timfallmk/node-local-monitor/internal/config"
	"github.com/timfallmk/node-local-monitor/internal/node"
)

// CreateTempConfig creates a temporary configuration file for testing
func CreateTempConfig(t *testing.T, configData string) string {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "test_config.yaml")
	if err := os.WriteFile(configFile, []byte(configData), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	return configFile
}

// CreateTestConfig creates a test configuration whose data and cache
// directories are fresh temp directories. The API is disabled.
func CreateTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()

	cfg.Node.DataDirectory = filepath.Join(t.TempDir(), "data")
	cfg.Node.CacheDirectory = filepath.Join(t.TempDir(), "cache")
	for _, dir := range cfg.MonitoredPaths() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	cfg.Monitor.RefreshInterval = 50 * time.Millisecond
	cfg.Monitor.RefreshTimeout = 50 * time.Millisecond
	cfg.Monitor.MaxStaleness = time.Minute
	cfg.API.Enabled = false
	cfg.Daemon.Name = "test-localmond"
	cfg.Daemon.Description = "Test Daemon"

	return cfg
}

// StubStatfs is a scripted volume-statistics query keyed by path.
type StubStatfs struct {
	mu     sync.Mutex
	stats  map[string]node.VolumeStats
	errs   map[string]error
	delays map[string]time.Duration
	calls  map[string]int
}

func NewStubStatfs() *StubStatfs {
	return &StubStatfs{
		stats:  make(map[string]node.VolumeStats),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
		calls:  make(map[string]int),
	}
}

// Set scripts a successful result for path.
func (s *StubStatfs) Set(path string, blockSize, totalBlocks, freeBlocks uint64) *StubStatfs {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[path] = node.VolumeStats{BlockSize: blockSize, TotalBlocks: totalBlocks, FreeBlocks: freeBlocks}
	delete(s.errs, path)
	return s
}

// Fail scripts an error for path.
func (s *StubStatfs) Fail(path string, err error) *StubStatfs {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[path] = err
	return s
}

// Delay makes every query for path sleep first.
func (s *StubStatfs) Delay(path string, d time.Duration) *StubStatfs {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[path] = d
	return s
}

// Calls returns how often path was queried.
func (s *StubStatfs) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Statfs matches node.StatfsFunc. Unscripted paths report fs.ErrNotExist.
func (s *StubStatfs) Statfs(path string) (node.VolumeStats, error) {
	s.mu.Lock()
	s.calls[path]++
	delay := s.delays[path]
	stats, ok := s.stats[path]
	err := s.errs[path]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return node.VolumeStats{}, err
	}
	if !ok {
		return node.VolumeStats{}, fmt.Errorf("statfs %s: %w", path, fs.ErrNotExist)
	}
	return stats, nil
}

// WaitForCondition polls condition every millisecond until it holds or
// timeout passes, then reports message.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); time.Sleep(time.Millisecond) {
		if condition() {
			return
		}
	}
	t.Errorf("condition not met within %v: %s", timeout, message)
}

// CreateTestConfigYAML returns a test configuration in YAML format for the
// given data and cache directories.
func CreateTestConfigYAML(dataDir, cacheDir string) string {
	return fmt.Sprintf(`
node:
  data_directory: %q
  cache_directory: %q

monitor:
  refresh_interval: 50ms
  refresh_timeout: 50ms
  max_staleness: 1m

thresholds:
  min_free_bytes: 0
  min_free_percent_warning: 20
  min_free_percent_critical: 5

api:
  enabled: false
  listen: "127.0.0.1:0"

daemon:
  name: "test-localmond"
  description: "Test Daemon"

logging:
  level: "info"
  format: "text"
  output: "stdout"
`, dataDir, cacheDir)
}
