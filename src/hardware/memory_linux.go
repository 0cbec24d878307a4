//go:build linux

package hardware

import "golang.org/x/sys/unix"

// AvailableMemoryMiB reports free RAM in MiB, or zero if unknown.
func AvailableMemoryMiB() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * uint64(info.Unit)
	return free >> 20
}
