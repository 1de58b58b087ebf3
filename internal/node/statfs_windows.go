//go:build windows

package node

import (
	"errors"

	"golang.org/x/sys/windows"
)

// Statfs queries the volume holding path with GetDiskFreeSpaceEx. Windows
// reports bytes directly, so the block size is 1.
func Statfs(path string) (VolumeStats, error) {
	var (
		freeBytesAvailable     uint64
		totalNumberOfBytes     uint64
		totalNumberOfFreeBytes uint64
	)
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return VolumeStats{}, err
	}
	if err := windows.GetDiskFreeSpaceEx(p, &freeBytesAvailable, &totalNumberOfBytes, &totalNumberOfFreeBytes); err != nil {
		return VolumeStats{}, err
	}

	return VolumeStats{
		BlockSize:   1,
		TotalBlocks: totalNumberOfBytes,
		FreeBlocks:  totalNumberOfFreeBytes,
	}, nil
}

func platformKind(err error) (ProbeKind, bool) {
	switch {
	case errors.Is(err, windows.ERROR_FILE_NOT_FOUND), errors.Is(err, windows.ERROR_PATH_NOT_FOUND):
		return KindNotFound, true
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return KindPermissionDenied, true
	}
	return "", false
}
