// Package hardware probes the host for the limits and CPU features that
// decide which engine build to run and what a provider may advertise.
package hardware

import (
	"math/bits"
	"runtime"

	"golang.org/x/sys/cpu"
)

// Features are the x86-64 extensions engine builds are compiled for.
// All are false on other architectures.
type Features struct {
	AVX512VNNI bool
	AVX512DQ   bool
	AVX512VL   bool
	AVX512F    bool
	AVX512BW   bool
	BMI2       bool
	AVX2       bool
	SSE41      bool
	SSSE3      bool
	SSE3       bool
	POPCNT     bool
}

// Detect reads the features of the running CPU.
func Detect() Features {
	return Features{
		AVX512VNNI: cpu.X86.HasAVX512VNNI,
		AVX512DQ:   cpu.X86.HasAVX512DQ,
		AVX512VL:   cpu.X86.HasAVX512VL,
		AVX512F:    cpu.X86.HasAVX512F,
		AVX512BW:   cpu.X86.HasAVX512BW,
		BMI2:       cpu.X86.HasBMI2,
		AVX2:       cpu.X86.HasAVX2,
		SSE41:      cpu.X86.HasSSE41,
		SSSE3:      cpu.X86.HasSSSE3,
		SSE3:       cpu.X86.HasSSE3,
		POPCNT:     cpu.X86.HasPOPCNT,
	}
}

// Builds lists engine executables per instruction set. Empty entries are
// skipped; Default is used when nothing better fits.
type Builds struct {
	VNNI512     string
	AVX512      string
	BMI2        string
	AVX2        string
	SSE41Popcnt string
	SSSE3       string
	SSE3Popcnt  string
	Default     string
}

// SelectEngine picks the most specific build the CPU can run. A build also
// requires every feature of the builds ranked below it.
func SelectEngine(b Builds, f Features) string {
	levels := []struct {
		path string
		ok   bool
	}{
		{b.VNNI512, f.AVX512DQ && f.AVX512VL && f.AVX512VNNI},
		{b.AVX512, f.AVX512F && f.AVX512BW},
		{b.BMI2, f.BMI2},
		{b.AVX2, f.AVX2},
		{b.SSE41Popcnt, f.SSE41},
		{b.SSSE3, f.SSSE3},
		{b.SSE3Popcnt, f.SSE3 && f.POPCNT},
	}

	for i, lvl := range levels {
		if lvl.path == "" {
			continue
		}
		supported := true
		for _, below := range levels[i:] {
			supported = supported && below.ok
		}
		if supported {
			return lvl.path
		}
	}
	return b.Default
}

// Threads is the number of logical CPUs.
func Threads() int {
	return runtime.NumCPU()
}

// ThreadLimit bounds a configured thread cap by the host. Zero means
// no configured cap.
func ThreadLimit(configured int) int {
	n := Threads()
	if configured > 0 && configured < n {
		return configured
	}
	return n
}

// HashLimit bounds a configured hash cap (MiB) by half the available
// memory, rounded to a power of two. Zero means no configured cap. When
// memory cannot be probed only the configured cap applies.
func HashLimit(configured int) int {
	avail := AvailableMemoryMiB()
	if avail == 0 {
		return configured
	}
	limit := int(nextPowerOfTwo(avail) / 2)
	if configured > 0 && configured < limit {
		return configured
	}
	return limit
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}
