package observability

import (
	"github.com/timfallmk/node-local-monitor/internal/node"
)

// CapacityStatus is the free-space level of a single disk.
type CapacityStatus string

const (
	CapacityNormal   CapacityStatus = "normal"
	CapacityWarning  CapacityStatus = "warning"
	CapacityCritical CapacityStatus = "critical"
)

// Thresholds are the free-space limits a disk is classified against. A
// zero value disables the corresponding check.
type Thresholds struct {
	MinFreeBytes           uint64  `json:"min_free_bytes"`
	MinFreePercentWarning  float64 `json:"min_free_percent_warning"`
	MinFreePercentCritical float64 `json:"min_free_percent_critical"`
}

// DiskCapacity pairs a disk sample with its classification.
type DiskCapacity struct {
	node.Disk
	FreePercent float64        `json:"free_percent"`
	Status      CapacityStatus `json:"status"`
}

// ClassifyDisk evaluates one disk. Falling below MinFreeBytes or the
// critical percentage is critical; below the warning percentage is a
// warning.
func ClassifyDisk(d node.Disk, t Thresholds) CapacityStatus {
	pct := d.FreePercent()

	if t.MinFreeBytes > 0 && d.Free < t.MinFreeBytes {
		return CapacityCritical
	}
	if t.MinFreePercentCritical > 0 && pct < t.MinFreePercentCritical {
		return CapacityCritical
	}
	if t.MinFreePercentWarning > 0 && pct < t.MinFreePercentWarning {
		return CapacityWarning
	}

	return CapacityNormal
}

// Classify evaluates every disk of a snapshot, keeping snapshot order.
func Classify(state node.LocalState, t Thresholds) []DiskCapacity {
	out := make([]DiskCapacity, 0, len(state.Disks))
	for _, d := range state.Disks {
		out = append(out, DiskCapacity{
			Disk:        d,
			FreePercent: d.FreePercent(),
			Status:      ClassifyDisk(d, t),
		})
	}
	return out
}

// Worst returns the most severe status in caps, or CapacityNormal.
func Worst(caps []DiskCapacity) CapacityStatus {
	worst := CapacityNormal
	for _, c := range caps {
		switch c.Status {
		case CapacityCritical:
			return CapacityCritical
		case CapacityWarning:
			worst = CapacityWarning
		}
	}
	return worst
}
