package system

import (
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// InitResourceLimits raises the open-file limit; staged jobs hold many
// frame files at once.
func InitResourceLimits(logger zerolog.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read open-file limit")
		return
	}

	rLimit.Cur = 4096
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("could not raise open-file limit")
	} else {
		logger.Debug().Uint64("limit", uint64(rLimit.Cur)).Msg("open-file limit raised")
	}
}

// bytesPerWorker is a rough budget for one decoded video held in memory.
const bytesPerWorker = 1 << 30

// DefaultWorkers picks a pool size from the logical CPU count, capped so
// that each worker has about 1 GiB of available memory.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available > 0 {
		if byMem := int(vm.Available / bytesPerWorker); byMem >= 1 && byMem < n {
			n = byMem
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}
