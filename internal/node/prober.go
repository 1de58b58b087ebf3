package node

import (
	"context"
	"errors"
	"io/fs"
)

// VolumeStats is the raw answer of a volume-statistics query.
type VolumeStats struct {
	BlockSize   uint64
	TotalBlocks uint64
	FreeBlocks  uint64
}

// StatfsFunc queries the volume statistics of the filesystem holding path.
type StatfsFunc func(path string) (VolumeStats, error)

// Prober turns a path into a capacity sample.
type Prober interface {
	Probe(ctx context.Context, path string) (Disk, error)
}

// StatfsProber is the production Prober. It never retries and never writes
// to the filesystem.
type StatfsProber struct {
	statfs StatfsFunc
}

// NewStatfsProber returns a prober backed by fn. A nil fn binds the
// operating system's statfs.
func NewStatfsProber(fn StatfsFunc) *StatfsProber {
	if fn == nil {
		fn = Statfs
	}
	return &StatfsProber{statfs: fn}
}

// Probe samples the volume holding path. Failures are returned as
// *ProbeFailure.
func (p *StatfsProber) Probe(ctx context.Context, path string) (Disk, error) {
	if err := ctx.Err(); err != nil {
		return Disk{}, &ProbeFailure{Path: path, Kind: KindIOError, Err: err}
	}

	st, err := p.statfs(path)
	if err != nil {
		return Disk{}, &ProbeFailure{Path: path, Kind: classify(err), Err: err}
	}

	return diskFromStats(path, st), nil
}

func diskFromStats(path string, st VolumeStats) Disk {
	free := st.FreeBlocks
	if free > st.TotalBlocks {
		free = st.TotalBlocks
	}
	return Disk{
		Path:  path,
		Total: st.TotalBlocks * st.BlockSize,
		Free:  free * st.BlockSize,
	}
}

func classify(err error) ProbeKind {
	var pf *ProbeFailure
	if errors.As(err, &pf) {
		return pf.Kind
	}
	if kind, ok := platformKind(err); ok {
		return kind
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	default:
		return KindIOError
	}
}
