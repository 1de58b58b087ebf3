//go:build !windows

package node

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Statfs queries the volume holding path with statfs(2).
func Statfs(path string) (VolumeStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return VolumeStats{}, err
	}

	return VolumeStats{
		BlockSize:   uint64(st.Bsize),
		TotalBlocks: uint64(st.Blocks),
		FreeBlocks:  uint64(st.Bfree),
	}, nil
}

func platformKind(err error) (ProbeKind, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return "", false
	}
	switch errno {
	case unix.ENOENT, unix.ENOTDIR:
		return KindNotFound, true
	case unix.EACCES, unix.EPERM:
		return KindPermissionDenied, true
	}
	return "", false
}
