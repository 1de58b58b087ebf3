package logging

import "fmt"

// DefaultWireLimit caps a single wire trace payload at 1 MiB.
const DefaultWireLimit = 1 << 20

// TruncatingLogger logs wire-level traces, cutting payloads that exceed a
// byte limit so a large request cannot flood the log.
type TruncatingLogger struct {
	logger *Logger
	limit  int
}

// NewTruncatingLogger wraps logger. A non-positive limit uses
// DefaultWireLimit.
func NewTruncatingLogger(logger *Logger, limit int) *TruncatingLogger {
	if limit <= 0 {
		limit = DefaultWireLimit
	}
	return &TruncatingLogger{logger: logger, limit: limit}
}

// Trace logs payload at debug level under msg.
func (tl *TruncatingLogger) Trace(msg string, payload string, args ...interface{}) {
	tl.logger.Debug(msg, append(args, "payload", tl.truncate(payload))...)
}

func (tl *TruncatingLogger) truncate(s string) string {
	if len(s) <= tl.limit {
		return s
	}
	return fmt.Sprintf("%s...(truncated %d bytes)", s[:tl.limit], len(s)-tl.limit)
}
