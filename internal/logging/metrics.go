package logging

import (
	"log/slog"
	"time"
)

// MetricsLogger writes metric samples as structured log entries under the
// "metrics" component.
type MetricsLogger struct {
	logger *Logger
}

func NewMetricsLogger(logger *Logger) *MetricsLogger {
	return &MetricsLogger{logger: logger.WithComponent("metrics")}
}

func (ml *MetricsLogger) LogCounter(name string, value int64, labels map[string]string) {
	ml.log("counter", name, labels, "value", value)
}

func (ml *MetricsLogger) LogGauge(name string, value float64, labels map[string]string) {
	ml.log("gauge", name, labels, "value", value)
}

func (ml *MetricsLogger) LogHistogram(name string, value float64, labels map[string]string) {
	ml.log("histogram", name, labels, "value", value)
}

func (ml *MetricsLogger) LogTiming(name string, duration time.Duration, labels map[string]string) {
	ml.log("timing", name, labels, "duration_ms", duration.Milliseconds(), "duration_string", duration.String())
}

// log emits one entry whose "fields" group holds the metric type and name,
// the given key/value pairs and the labels prefixed with "label_".
func (ml *MetricsLogger) log(kind, name string, labels map[string]string, kv ...interface{}) {
	fields := map[string]interface{}{
		"metric_type": kind,
		"metric_name": name,
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	for k, v := range labels {
		fields["label_"+k] = v
	}

	ml.logger.Info(kind+" metric", slog.Any("fields", fields))
}

// PerformanceTracker times one operation and logs it as a timing metric.
type PerformanceTracker struct {
	logger    *MetricsLogger
	operation string
	labels    map[string]string
	start     time.Time
}

func (ml *MetricsLogger) StartTracking(operation string, labels map[string]string) *PerformanceTracker {
	return &PerformanceTracker{
		logger:    ml,
		operation: operation,
		labels:    labels,
		start:     time.Now(),
	}
}

// FinishWithError logs the elapsed time, labelled with whether err is set,
// and returns it. The caller's label map is not modified.
func (pt *PerformanceTracker) FinishWithError(err error) time.Duration {
	elapsed := time.Since(pt.start)

	labels := make(map[string]string, len(pt.labels)+2)
	for k, v := range pt.labels {
		labels[k] = v
	}
	labels["error"] = "false"
	if err != nil {
		labels["error"] = "true"
		labels["error_message"] = err.Error()
	}

	pt.logger.LogTiming(pt.operation, elapsed, labels)
	return elapsed
}
