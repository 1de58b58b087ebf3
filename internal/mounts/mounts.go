package mounts

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// Mount describes the filesystem backing a monitored path.
type Mount struct {
	Path       string `json:"path"`
	Mountpoint string `json:"mountpoint"`
	Device     string `json:"device"`
	Fstype     string `json:"fstype"`
}

// PartitionLister returns the mounted partitions of the host.
type PartitionLister func(ctx context.Context) ([]disk.PartitionStat, error)

func defaultPartitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, true)
}

// Resolver maps paths to mounts. Partition tables are cached for cacheTTL.
type Resolver struct {
	mu       sync.RWMutex
	list     PartitionLister
	cacheTTL time.Duration

	cached   []disk.PartitionStat
	cachedAt time.Time
}

func NewResolver(list PartitionLister, cacheTTL time.Duration) *Resolver {
	if list == nil {
		list = defaultPartitions
	}
	return &Resolver{
		list:     list,
		cacheTTL: cacheTTL,
	}
}

// Invalidate drops the cached partition table.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	r.cachedAt = time.Time{}
}

func (r *Resolver) partitions(ctx context.Context) ([]disk.PartitionStat, error) {
	r.mu.RLock()
	if r.cached != nil && r.cacheTTL > 0 && time.Since(r.cachedAt) < r.cacheTTL {
		parts := r.cached
		r.mu.RUnlock()
		return parts, nil
	}
	r.mu.RUnlock()

	parts, err := r.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk partitions: %w", err)
	}

	r.mu.Lock()
	r.cached = parts
	r.cachedAt = time.Now()
	r.mu.Unlock()

	return parts, nil
}

// Resolve returns the mount whose mountpoint is the longest prefix of path.
func (r *Resolver) Resolve(ctx context.Context, path string) (Mount, error) {
	parts, err := r.partitions(ctx)
	if err != nil {
		return Mount{}, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Mount{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	best := -1
	bestLen := -1
	for i, p := range parts {
		if !contains(p.Mountpoint, abs) {
			continue
		}
		if l := len(filepath.Clean(p.Mountpoint)); l > bestLen {
			best, bestLen = i, l
		}
	}

	if best < 0 {
		return Mount{}, fmt.Errorf("no mount found for %s", path)
	}

	p := parts[best]
	return Mount{
		Path:       path,
		Mountpoint: p.Mountpoint,
		Device:     p.Device,
		Fstype:     p.Fstype,
	}, nil
}

// ResolveAll resolves every path in order. Paths that cannot be resolved are
// skipped and reported in the returned error.
func (r *Resolver) ResolveAll(ctx context.Context, paths []string) ([]Mount, error) {
	mounts := make([]Mount, 0, len(paths))
	var failed []string

	for _, path := range paths {
		m, err := r.Resolve(ctx, path)
		if err != nil {
			failed = append(failed, path)
			continue
		}
		mounts = append(mounts, m)
	}

	if len(failed) > 0 {
		return mounts, fmt.Errorf("unresolved paths: %s", strings.Join(failed, ", "))
	}
	return mounts, nil
}

func contains(mountpoint, path string) bool {
	mp := filepath.Clean(mountpoint)
	if runtime.GOOS == "windows" {
		mp = strings.ToLower(mp)
		path = strings.ToLower(path)
	}
	if mp == path {
		return true
	}
	if !strings.HasSuffix(mp, string(filepath.Separator)) {
		mp += string(filepath.Separator)
	}
	return strings.HasPrefix(path, mp)
}
