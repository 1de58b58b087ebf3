package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTruncatingLogger(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		payload   string
		want      string
		truncated bool
	}{
		{
			name:    "short payload kept",
			limit:   16,
			payload: "statfs /data",
			want:    "statfs /data",
		},
		{
			name:      "long payload cut",
			limit:     4,
			payload:   "0123456789",
			want:      "0123...(truncated 6 bytes)",
			truncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := &Logger{
				Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
				config: DefaultConfig(),
				writer: &buf,
			}

			wire := NewTruncatingLogger(logger, tt.limit)
			if got := wire.truncate(tt.payload); got != tt.want {
				t.Errorf("truncate() = %q, want %q", got, tt.want)
			}

			wire.Trace("wire", tt.payload)
			if tt.truncated && !strings.Contains(buf.String(), "truncated") {
				t.Errorf("Trace() output %q missing truncation marker", buf.String())
			}
		})
	}
}

func TestNewTruncatingLogger_DefaultLimit(t *testing.T) {
	wire := NewTruncatingLogger(GetGlobalLogger(), 0)
	if wire.limit != DefaultWireLimit {
		t.Errorf("limit = %d, want %d", wire.limit, DefaultWireLimit)
	}
}
