package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats describes the running server process.
type ProcessStats struct {
	PID           int     `json:"pid"`
	RSSBytes      uint64  `json:"rssBytes,omitempty"`
	NumThreads    int32   `json:"numThreads,omitempty"`
	CPUPercent    float64 `json:"cpuPercent,omitempty"`
	UptimeSeconds int64   `json:"uptimeSeconds,omitempty"`
	Goroutines    int     `json:"goroutines"`
}

// CurrentProcess collects stats for this process. Fields the platform cannot
// report are left zero.
func CurrentProcess() ProcessStats {
	stats := ProcessStats{PID: os.Getpid(), Goroutines: runtime.NumGoroutine()}

	p, err := process.NewProcess(int32(stats.PID))
	if err != nil {
		return stats
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		stats.NumThreads = n
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if created, err := p.CreateTime(); err == nil && created > 0 {
		stats.UptimeSeconds = int64(time.Since(time.UnixMilli(created)).Seconds())
	}
	return stats
}
