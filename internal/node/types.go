package node

import "time"

// Disk is one capacity sample of a monitored directory. Values are in bytes.
type Disk struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// Used returns the number of bytes in use on the volume.
func (d Disk) Used() uint64 {
	return d.Total - d.Free
}

// FreePercent returns the free space as a percentage of total capacity.
// A zero-capacity volume reports 0.
func (d Disk) FreePercent() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Free) / float64(d.Total) * 100
}

// LocalState is an immutable snapshot of the node's monitored volumes, one
// Disk per configured path in configuration order.
type LocalState struct {
	Disks []Disk `json:"disks"`
}

// Empty reports whether the snapshot carries no samples. An empty snapshot
// means the node has not been monitored yet, not that it has no capacity.
func (s LocalState) Empty() bool {
	return len(s.Disks) == 0
}

// Equal compares two snapshots field by field.
func (s LocalState) Equal(other LocalState) bool {
	if len(s.Disks) != len(other.Disks) {
		return false
	}
	for i := range s.Disks {
		if s.Disks[i] != other.Disks[i] {
			return false
		}
	}
	return true
}

func (s LocalState) clone() LocalState {
	disks := make([]Disk, len(s.Disks))
	copy(disks, s.Disks)
	return LocalState{Disks: disks}
}

// MonitorState tracks where a LocalMonitor is in its refresh cycle.
type MonitorState int32

const (
	StateUnprobed MonitorState = iota
	StateProbing
	StateProbed
)

func (s MonitorState) String() string {
	switch s {
	case StateUnprobed:
		return "unprobed"
	case StateProbing:
		return "probing"
	case StateProbed:
		return "probed"
	default:
		return "unknown"
	}
}

// Observer receives refresh outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveRefresh(duration time.Duration, err error)
	ObserveDisk(disk Disk)
}
