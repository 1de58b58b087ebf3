package node

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestStatfsProber_UnitConversion(t *testing.T) {
	tests := []struct {
		name      string
		stats     VolumeStats
		wantTotal uint64
		wantFree  uint64
	}{
		{
			name:      "4k blocks",
			stats:     VolumeStats{BlockSize: 4096, TotalBlocks: 1000, FreeBlocks: 250},
			wantTotal: 4096000,
			wantFree:  1024000,
		},
		{
			name:      "full volume",
			stats:     VolumeStats{BlockSize: 512, TotalBlocks: 8, FreeBlocks: 0},
			wantTotal: 4096,
			wantFree:  0,
		},
		{
			name:      "empty volume",
			stats:     VolumeStats{BlockSize: 1024, TotalBlocks: 0, FreeBlocks: 0},
			wantTotal: 0,
			wantFree:  0,
		},
		{
			name:      "free clamped to total",
			stats:     VolumeStats{BlockSize: 10, TotalBlocks: 5, FreeBlocks: 9},
			wantTotal: 50,
			wantFree:  50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewStatfsProber(func(string) (VolumeStats, error) { return tt.stats, nil })

			d, err := p.Probe(context.Background(), "/data")
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}

			if d.Path != "/data" {
				t.Errorf("Probe() path = %v, want /data", d.Path)
			}
			if d.Total != tt.wantTotal {
				t.Errorf("Probe() total = %d, want %d", d.Total, tt.wantTotal)
			}
			if d.Free != tt.wantFree {
				t.Errorf("Probe() free = %d, want %d", d.Free, tt.wantFree)
			}
			if d.Free > d.Total {
				t.Errorf("Probe() free %d exceeds total %d", d.Free, d.Total)
			}
		})
	}
}

func TestStatfsProber_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ProbeKind
	}{
		{"not exist", fs.ErrNotExist, KindNotFound},
		{"permission", fs.ErrPermission, KindPermissionDenied},
		{"other", errors.New("device not ready"), KindIOError},
		{"preclassified", &ProbeFailure{Path: "/x", Kind: KindPermissionDenied}, KindPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewStatfsProber(func(string) (VolumeStats, error) { return VolumeStats{}, tt.err })

			_, err := p.Probe(context.Background(), "/x")

			var pf *ProbeFailure
			if !errors.As(err, &pf) {
				t.Fatalf("Probe() error = %v, want *ProbeFailure", err)
			}
			if pf.Kind != tt.want {
				t.Errorf("Probe() kind = %v, want %v", pf.Kind, tt.want)
			}
			if pf.Path != "/x" {
				t.Errorf("Probe() path = %v, want /x", pf.Path)
			}
		})
	}
}

func TestStatfsProber_CancelledContext(t *testing.T) {
	called := false
	p := NewStatfsProber(func(string) (VolumeStats, error) {
		called = true
		return VolumeStats{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Probe(ctx, "/data")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Probe() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("statfs called with a cancelled context")
	}
}

func TestStatfs_RealFilesystem(t *testing.T) {
	p := NewStatfsProber(nil)

	d, err := p.Probe(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if d.Total == 0 {
		t.Error("Probe() total = 0 for a real temp directory")
	}
	if d.Free > d.Total {
		t.Errorf("Probe() free %d exceeds total %d", d.Free, d.Total)
	}
}

func TestStatfs_MissingPath(t *testing.T) {
	p := NewStatfsProber(nil)
	missing := filepath.Join(t.TempDir(), "missing")

	_, err := p.Probe(context.Background(), missing)

	var pf *ProbeFailure
	if !errors.As(err, &pf) {
		t.Fatalf("Probe() error = %v, want *ProbeFailure", err)
	}
	if pf.Kind != KindNotFound {
		t.Errorf("Probe() kind = %v, want %v", pf.Kind, KindNotFound)
	}
}

func TestDisk_Helpers(t *testing.T) {
	d := Disk{Path: "/data", Total: 200, Free: 50}

	if d.Used() != 150 {
		t.Errorf("Used() = %d, want 150", d.Used())
	}
	if d.FreePercent() != 25 {
		t.Errorf("FreePercent() = %v, want 25", d.FreePercent())
	}
	if (Disk{}).FreePercent() != 0 {
		t.Error("FreePercent() of zero-capacity disk should be 0")
	}
}

func TestRefreshFailure_Error(t *testing.T) {
	rf := &RefreshFailure{Failures: []*ProbeFailure{
		{Path: "/a", Kind: KindNotFound},
		{Path: "/b", Kind: KindIOError},
	}}

	want := "refresh failed for 2 path(s): /a (not-found), /b (io-error)"
	if rf.Error() != want {
		t.Errorf("Error() = %q, want %q", rf.Error(), want)
	}
}
