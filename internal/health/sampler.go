package health

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sysflow-telemetry/sf-apis/go/logger"
)

// sample is one point-in-time system-resource reading (spec §4.4 "Sample
// CPU %, memory %, disk %, load average on a fixed interval").
type sample struct {
	takenAt     time.Time
	cpuPercent  float64
	memPercent  float64
	diskPercent float64
	load1       float64
}

// systemSampler keeps a rolling window of samples (default last 100) so
// the Controller can evaluate "avg CPU > 90% for 2 samples"-style rules
// without re-reading the OS on every check.
type systemSampler struct {
	mu        sync.Mutex
	window    []sample
	maxWindow int
	diskPath  string
}

func newSystemSampler(maxWindow int, diskPath string) *systemSampler {
	if maxWindow <= 0 {
		maxWindow = 100
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &systemSampler{maxWindow: maxWindow, diskPath: diskPath}
}

// take reads current system metrics and appends them to the window,
// evicting the oldest sample once the window is full.
func (s *systemSampler) take() sample {
	sm := sample{takenAt: time.Now().UTC()}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		sm.cpuPercent = pcts[0]
	} else if err != nil {
		logger.Trace.Printf("health: cpu sample failed: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		sm.memPercent = vm.UsedPercent
	} else {
		logger.Trace.Printf("health: mem sample failed: %v", err)
	}

	if du, err := disk.Usage(s.diskPath); err == nil {
		sm.diskPercent = du.UsedPercent
	} else {
		logger.Trace.Printf("health: disk sample failed: %v", err)
	}

	if la, err := load.Avg(); err == nil {
		sm.load1 = la.Load1
	} else {
		logger.Trace.Printf("health: load sample failed: %v", err)
	}

	s.mu.Lock()
	s.window = append(s.window, sm)
	if len(s.window) > s.maxWindow {
		s.window = s.window[len(s.window)-s.maxWindow:]
	}
	s.mu.Unlock()
	return sm
}

// lastN returns up to n of the most recent samples, most recent last.
func (s *systemSampler) lastN(n int) []sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.window) {
		n = len(s.window)
	}
	out := make([]sample, n)
	copy(out, s.window[len(s.window)-n:])
	return out
}

func avgCPU(samples []sample) float64  { return avgOf(samples, func(s sample) float64 { return s.cpuPercent }) }
func avgMem(samples []sample) float64  { return avgOf(samples, func(s sample) float64 { return s.memPercent }) }

func avgOf(samples []sample, f func(sample) float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += f(s)
	}
	return sum / float64(len(samples))
}
