package diagnostics

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo is a best-effort picture of the host. Fields the platform
// cannot report are left zero.
type SystemInfo struct {
	Hostname   string `json:"hostname" yaml:"hostname"`
	OS         string `json:"os" yaml:"os"`
	Platform   string `json:"platform" yaml:"platform"`
	Kernel     string `json:"kernel" yaml:"kernel"`
	GoVersion  string `json:"go_version" yaml:"go_version"`
	CPUCores   int    `json:"cpu_cores" yaml:"cpu_cores"`
	CPUThreads int    `json:"cpu_threads" yaml:"cpu_threads"`

	MemTotalMB float64 `json:"mem_total_mb" yaml:"mem_total_mb"`
	MemUsedPct float64 `json:"mem_used_percent" yaml:"mem_used_percent"`

	// Disk figures are for the filesystem holding DataDir.
	DataDir     string  `json:"data_dir" yaml:"data_dir"`
	DiskFreeGB  float64 `json:"disk_free_gb" yaml:"disk_free_gb"`
	DiskUsedPct float64 `json:"disk_used_percent" yaml:"disk_used_percent"`

	LoadAvg1 float64 `json:"load_avg_1" yaml:"load_avg_1"`

	ProcessRSSMB float64 `json:"process_rss_mb" yaml:"process_rss_mb"`
	ProcessFDs   int     `json:"process_fds" yaml:"process_fds"`
}

const mb = 1024 * 1024

// CollectSystem gathers SystemInfo. dataDir falls back to the working
// directory when empty or missing.
func CollectSystem(ctx context.Context, dataDir string) SystemInfo {
	info := SystemInfo{
		OS:        runtime.GOOS,
		GoVersion: runtime.Version(),
		DataDir:   dataDir,
	}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform + " " + h.PlatformVersion
		info.Kernel = h.KernelVersion
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.CPUCores = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUThreads = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemTotalMB = float64(vm.Total) / mb
		info.MemUsedPct = vm.UsedPercent
	}

	if _, err := os.Stat(info.DataDir); info.DataDir == "" || err != nil {
		if wd, err := os.Getwd(); err == nil {
			info.DataDir = wd
		}
	}
	if u, err := disk.UsageWithContext(ctx, info.DataDir); err == nil {
		info.DiskFreeGB = float64(u.Free) / mb / 1024
		info.DiskUsedPct = u.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.LoadAvg1 = avg.Load1
	}

	rss, fds := processUsage(ctx)
	info.ProcessRSSMB = rss
	info.ProcessFDs = fds
	return info
}

// processUsage returns resident memory in MB and open descriptors for this
// process, or zeros where unsupported.
func processUsage(ctx context.Context) (rssMB float64, fds int) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) // #nosec G115 -- pids fit in int32
	if err != nil {
		return 0, 0
	}
	if m, err := p.MemoryInfoWithContext(ctx); err == nil && m != nil {
		rssMB = float64(m.RSS) / mb
	}
	if n, err := p.NumFDsWithContext(ctx); err == nil {
		fds = int(n)
	}
	return rssMB, fds
}
