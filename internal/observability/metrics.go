package observability

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/timfallmk/node-local-monitor/internal/logging"
	"github.com/timfallmk/node-local-monitor/internal/node"
)

type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is one labelled series. For histograms Value is the latest
// observation and Count, Sum, Min and Max summarize all of them.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`

	Count uint64  `json:"count,omitempty"`
	Sum   float64 `json:"sum,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
}

func (m *Metric) clone() *Metric {
	c := *m
	c.Labels = copyLabels(m.Labels)
	return &c
}

// MetricsCollector keeps labelled series in memory and periodically logs
// the ones that changed through a logging.MetricsLogger.
type MetricsCollector struct {
	logger        *logging.MetricsLogger
	flushInterval time.Duration

	mu        sync.RWMutex
	metrics   map[string]*Metric
	lastFlush time.Time

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMetricsCollector starts a collector that flushes every flushInterval.
// A non-positive interval disables periodic flushing; Close still flushes.
func NewMetricsCollector(logger *logging.Logger, flushInterval time.Duration) *MetricsCollector {
	mc := &MetricsCollector{
		logger:        logging.NewMetricsLogger(logger),
		flushInterval: flushInterval,
		metrics:       make(map[string]*Metric),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	go mc.flushLoop()
	return mc
}

func (mc *MetricsCollector) IncCounter(name string, labels map[string]string) {
	mc.AddCounter(name, 1, labels)
}

func (mc *MetricsCollector) AddCounter(name string, value float64, labels map[string]string) {
	mc.upsert(name, MetricTypeCounter, labels, "", func(m *Metric) {
		m.Value += value
	})
}

func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.SetGaugeWithUnit(name, value, labels, "")
}

func (mc *MetricsCollector) SetGaugeWithUnit(name string, value float64, labels map[string]string, unit string) {
	mc.upsert(name, MetricTypeGauge, labels, unit, func(m *Metric) {
		m.Value = value
	})
}

func (mc *MetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	mc.observe(name, value, labels, "")
}

// RecordDuration observes duration in seconds.
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	mc.observe(name, duration.Seconds(), labels, "seconds")
}

func (mc *MetricsCollector) observe(name string, value float64, labels map[string]string, unit string) {
	mc.upsert(name, MetricTypeHistogram, labels, unit, func(m *Metric) {
		if m.Count == 0 || value < m.Min {
			m.Min = value
		}
		if m.Count == 0 || value > m.Max {
			m.Max = value
		}
		m.Count++
		m.Sum += value
		m.Value = value
	})
}

// upsert applies update to the series for name and labels, creating it if
// needed. A series keeps the type it was created with.
func (mc *MetricsCollector) upsert(name string, typ MetricType, labels map[string]string, unit string, update func(*Metric)) {
	key := metricKey(name, labels)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	m, ok := mc.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: typ, Labels: copyLabels(labels), Unit: unit}
		mc.metrics[key] = m
	} else if m.Type != typ {
		return
	}

	update(m)
	m.Timestamp = time.Now()
}

// GetMetrics returns a copy of every series keyed by name and sorted labels,
// e.g. "api_requests_total,route=/v1/node/refresh,status=200".
func (mc *MetricsCollector) GetMetrics() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make(map[string]*Metric, len(mc.metrics))
	for k, m := range mc.metrics {
		out[k] = m.clone()
	}
	return out
}

// GetMetricsByType returns a copy of every series of metricType, ordered by
// key.
func (mc *MetricsCollector) GetMetricsByType(metricType MetricType) []*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	keys := make([]string, 0, len(mc.metrics))
	for k, m := range mc.metrics {
		if m.Type == metricType {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]*Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, mc.metrics[k].clone())
	}
	return out
}

func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = make(map[string]*Metric)
}

// Close stops the flush loop after a final flush. It is safe to call more
// than once.
func (mc *MetricsCollector) Close() {
	mc.closeOnce.Do(func() {
		close(mc.stop)
	})
	<-mc.done
}

func copyLabels(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func (mc *MetricsCollector) flushLoop() {
	defer close(mc.done)

	var tick <-chan time.Time
	if mc.flushInterval > 0 {
		ticker := time.NewTicker(mc.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-mc.stop:
			mc.flush()
			return
		case <-tick:
			mc.flush()
		}
	}
}

// flush logs the series updated since the previous flush.
func (mc *MetricsCollector) flush() {
	mc.mu.Lock()
	since := mc.lastFlush
	mc.lastFlush = time.Now()
	changed := make([]*Metric, 0, len(mc.metrics))
	for _, m := range mc.metrics {
		if m.Timestamp.After(since) {
			changed = append(changed, m.clone())
		}
	}
	mc.mu.Unlock()

	for _, m := range changed {
		switch m.Type {
		case MetricTypeCounter:
			mc.logger.LogCounter(m.Name, int64(m.Value), m.Labels)
		case MetricTypeGauge:
			mc.logger.LogGauge(m.Name, m.Value, m.Labels)
		case MetricTypeHistogram:
			labels := copyLabels(m.Labels)
			if labels == nil {
				labels = make(map[string]string)
			}
			labels["count"] = strconv.FormatUint(m.Count, 10)
			mc.logger.LogHistogram(m.Name, m.Sum/float64(m.Count), labels)
		}
	}
}

// ApplicationMetrics names the series localmond records. It satisfies
// node.Observer so a LocalMonitor can report refresh outcomes directly.
type ApplicationMetrics struct {
	collector *MetricsCollector
}

func NewApplicationMetrics(collector *MetricsCollector) *ApplicationMetrics {
	return &ApplicationMetrics{collector: collector}
}

func (am *ApplicationMetrics) Collector() *MetricsCollector {
	return am.collector
}

// successLabel renders ok as the "true"/"false" label value.
func successLabel(ok bool) string {
	return strconv.FormatBool(ok)
}

// ObserveRefresh counts one refresh and its duration. Every failed path of
// a RefreshFailure also bumps probe_failures_total for its kind.
func (am *ApplicationMetrics) ObserveRefresh(duration time.Duration, err error) {
	labels := map[string]string{"success": successLabel(err == nil)}
	am.collector.IncCounter("refreshes_total", labels)
	am.collector.RecordDuration("refresh_duration_seconds", duration, labels)

	var rf *node.RefreshFailure
	if !errors.As(err, &rf) {
		return
	}
	for _, pf := range rf.Failures {
		am.collector.IncCounter("probe_failures_total", map[string]string{
			"path": pf.Path,
			"kind": string(pf.Kind),
		})
	}
}

// ObserveDisk sets the capacity gauges of one published disk.
func (am *ApplicationMetrics) ObserveDisk(disk node.Disk) {
	labels := map[string]string{"path": disk.Path}

	am.collector.SetGaugeWithUnit("disk_total_bytes", float64(disk.Total), labels, "bytes")
	am.collector.SetGaugeWithUnit("disk_free_bytes", float64(disk.Free), labels, "bytes")
	am.collector.SetGaugeWithUnit("disk_free_percent", disk.FreePercent(), labels, "percent")
}

func (am *ApplicationMetrics) RecordConfigReload(success bool, duration time.Duration) {
	labels := map[string]string{"success": successLabel(success)}
	am.collector.IncCounter("config_reloads_total", labels)
	am.collector.RecordDuration("config_reload_duration_seconds", duration, labels)
}

func (am *ApplicationMetrics) RecordDaemonUptime(uptime time.Duration) {
	am.collector.SetGaugeWithUnit("daemon_uptime_seconds", uptime.Seconds(), nil, "seconds")
}

// RecordAPIRequest counts one operator API request by route and status.
func (am *ApplicationMetrics) RecordAPIRequest(route string, status int, duration time.Duration) {
	labels := map[string]string{"route": route, "status": strconv.Itoa(status)}
	am.collector.IncCounter("api_requests_total", labels)
	am.collector.RecordDuration("api_request_duration_seconds", duration, labels)
}

// RecordHealthCheck counts one check run and sets component_health to 1
// or 0.
func (am *ApplicationMetrics) RecordHealthCheck(check string, healthy bool, duration time.Duration) {
	labels := map[string]string{"component": check, "healthy": successLabel(healthy)}
	am.collector.IncCounter("health_checks_total", labels)
	am.collector.RecordDuration("health_check_duration_seconds", duration, labels)

	up := 0.0
	if healthy {
		up = 1
	}
	am.collector.SetGauge("component_health", up, map[string]string{"component": check})
}

// Timer records the time since it was started as a duration series.
type Timer struct {
	collector *MetricsCollector
	name      string
	labels    map[string]string
	started   time.Time
}

func (mc *MetricsCollector) StartTimer(name string, labels map[string]string) *Timer {
	return &Timer{collector: mc, name: name, labels: labels, started: time.Now()}
}

// StopWithSuccess records the elapsed time with a success label added to
// a copy of the timer's labels, and returns it.
func (t *Timer) StopWithSuccess(success bool) time.Duration {
	elapsed := time.Since(t.started)

	labels := copyLabels(t.labels)
	if labels == nil {
		labels = make(map[string]string, 1)
	}
	labels["success"] = successLabel(success)

	t.collector.RecordDuration(t.name, elapsed, labels)
	return elapsed
}
