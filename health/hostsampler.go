package health

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// gopsutilHostSampler reads instantaneous host metrics via gopsutil.
type gopsutilHostSampler struct{}

// NewGopsutilHostSampler returns the production HostSampler.
func NewGopsutilHostSampler() HostSampler { return gopsutilHostSampler{} }

func (gopsutilHostSampler) CPUFraction() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0] / 100.0, nil
}

func (gopsutilHostSampler) MemFraction() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100.0, nil
}

func (gopsutilHostSampler) Load1PerCore() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, err
	}
	cores := runtime.NumCPU()
	if cores <= 0 {
		cores = 1
	}
	return avg.Load1 / float64(cores), nil
}
