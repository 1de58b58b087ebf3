package logging

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
)

const eventBufferSize = 1000

// LogEvent is one queued observability event.
type LogEvent struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// EventLogger writes structured events from a background goroutine so
// callers on hot paths never wait on log I/O. When the queue is full the
// event is written inline. Close drains the queue; events logged after
// Close are written inline.
type EventLogger struct {
	logger *Logger
	events chan LogEvent

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	drained chan struct{}
}

func NewEventLogger(logger *Logger) *EventLogger {
	el := &EventLogger{
		logger:  logger,
		events:  make(chan LogEvent, eventBufferSize),
		closing: make(chan struct{}),
		drained: make(chan struct{}),
	}

	go el.run()
	return el
}

// LogProbe records the outcome of one volume probe. kind is empty on
// success.
func (el *EventLogger) LogProbe(level LogLevel, message string, path string, kind string, err error) {
	fields := map[string]interface{}{"path": path}
	if kind != "" {
		fields["kind"] = kind
	}
	el.emit(level, "probe", message, fields, err)
}

// LogRefresh records one refresh cycle of the local monitor.
func (el *EventLogger) LogRefresh(level LogLevel, message string, disks int, duration time.Duration, err error) {
	el.emit(level, "monitor", message, map[string]interface{}{
		"disks":    disks,
		"duration": duration.String(),
	}, err)
}

func (el *EventLogger) LogConfig(level LogLevel, message string, configPath string, fields map[string]interface{}) {
	el.emit(level, "config", message, with(fields, "config_path", configPath), nil)
}

func (el *EventLogger) LogDaemon(level LogLevel, message string, action string, fields map[string]interface{}) {
	el.emit(level, "daemon", message, with(fields, "action", action), nil)
}

// LogError records err at error level together with the caller's location.
func (el *EventLogger) LogError(err error, message string, fields map[string]interface{}) {
	if pc, file, line, ok := runtime.Caller(1); ok {
		fields = with(fields, "caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
		if fn := runtime.FuncForPC(pc); fn != nil {
			fields["caller_func"] = fn.Name()
		}
	}
	el.emit(LevelError, "error", message, fields, err)
}

// Close stops the background writer after the queued events are written.
// It is safe to call more than once.
func (el *EventLogger) Close() {
	el.mu.Lock()
	if !el.closed {
		el.closed = true
		close(el.closing)
	}
	el.mu.Unlock()

	<-el.drained
}

// with returns fields, allocated if nil, with key set to value.
func with(fields map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields[key] = value
	return fields
}

func (el *EventLogger) emit(level LogLevel, component, message string, fields map[string]interface{}, err error) {
	ev := LogEvent{
		Level:     string(level),
		Message:   message,
		Component: component,
		Timestamp: time.Now(),
		Fields:    fields,
	}
	if err != nil {
		ev.Error = err.Error()
	}

	el.mu.RLock()
	defer el.mu.RUnlock()

	if el.closed {
		el.write(ev)
		return
	}

	select {
	case el.events <- ev:
	default:
		el.write(ev)
	}
}

func (el *EventLogger) run() {
	defer close(el.drained)

	for {
		select {
		case ev := <-el.events:
			el.write(ev)
		case <-el.closing:
			for {
				select {
				case ev := <-el.events:
					el.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (el *EventLogger) write(ev LogEvent) {
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(keys)*2+4)
	args = append(args, "event_time", ev.Timestamp.Format(time.RFC3339Nano))
	for _, k := range keys {
		args = append(args, k, ev.Fields[k])
	}
	if ev.Error != "" {
		args = append(args, "error", ev.Error)
	}

	el.logger.WithComponent(ev.Component).Log(context.Background(), LogLevel(ev.Level).slogLevel(), ev.Message, args...)
}
