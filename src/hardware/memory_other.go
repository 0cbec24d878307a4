//go:build !linux

package hardware

// AvailableMemoryMiB reports free RAM in MiB, or zero if unknown.
func AvailableMemoryMiB() uint64 {
	return 0
}
