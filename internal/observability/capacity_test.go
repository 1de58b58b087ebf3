package observability

import (
	"testing"

	"github.com/timfallmk/node-local-monitor/internal/node"
)

func TestClassifyDisk(t *testing.T) {
	thresholds := Thresholds{MinFreeBytes: 50, MinFreePercentWarning: 20, MinFreePercentCritical: 5}

	tests := []struct {
		name string
		disk node.Disk
		want CapacityStatus
	}{
		{"normal", node.Disk{Total: 1000, Free: 500}, CapacityNormal},
		{"warning", node.Disk{Total: 1000, Free: 100}, CapacityWarning},
		{"critical percent", node.Disk{Total: 100000, Free: 4000}, CapacityCritical},
		{"critical bytes", node.Disk{Total: 100, Free: 40}, CapacityCritical},
		{"zero capacity", node.Disk{}, CapacityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDisk(tt.disk, thresholds); got != tt.want {
				t.Errorf("ClassifyDisk() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyDisk_DisabledThresholds(t *testing.T) {
	if got := ClassifyDisk(node.Disk{Total: 100, Free: 0}, Thresholds{}); got != CapacityNormal {
		t.Errorf("ClassifyDisk() with zero thresholds = %v, want %v", got, CapacityNormal)
	}
}

func TestClassifyAndWorst(t *testing.T) {
	state := node.LocalState{Disks: []node.Disk{
		{Path: "/data", Total: 1000, Free: 500},
		{Path: "/cache", Total: 1000, Free: 100},
	}}

	caps := Classify(state, Thresholds{MinFreePercentWarning: 20, MinFreePercentCritical: 5})

	if len(caps) != 2 || caps[0].Path != "/data" || caps[1].Path != "/cache" {
		t.Fatalf("Classify() = %+v, want snapshot order", caps)
	}

	if caps[1].FreePercent != 10 {
		t.Errorf("Classify()[1].FreePercent = %v, want 10", caps[1].FreePercent)
	}

	if got := Worst(caps); got != CapacityWarning {
		t.Errorf("Worst() = %v, want %v", got, CapacityWarning)
	}

	if got := Worst(nil); got != CapacityNormal {
		t.Errorf("Worst(nil) = %v, want %v", got, CapacityNormal)
	}
}
