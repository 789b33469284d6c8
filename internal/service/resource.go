package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/domain/resource"
)

// fallbackMemoryTotal is used when the host total cannot be determined.
const fallbackMemoryTotal = 16 << 30

const mib = 1 << 20

// ResourceMonitor samples CPU, memory and disk usage of child processes.
// Disk usage (recursive working-directory size) is expensive, so it is
// cached per instance with a TTL.
type ResourceMonitor struct {
	data config.Data
	cfg  config.Resources

	memOnce  sync.Once
	memTotal float64

	mu      sync.Mutex
	history map[int64]*resource.History

	disk *ristretto.Cache[int64, float64]
}

// NewResourceMonitor creates the monitor.
func NewResourceMonitor(data config.Data, cfg config.Resources) (*ResourceMonitor, error) {
	disk, err := ristretto.NewCache(&ristretto.Config[int64, float64]{
		NumCounters: 1 << 12,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("disk cache: %w", err)
	}

	return &ResourceMonitor{
		data:    data,
		cfg:     cfg,
		history: make(map[int64]*resource.History),
		disk:    disk,
	}, nil
}

// Sample reads the child's current usage. Returns nil (no error) when the
// pid is gone. When instanceID is non-nil the sample is appended to that
// instance's history ring and rolling averages and disk usage are included.
func (m *ResourceMonitor) Sample(ctx context.Context, pid int32, instanceID *int64) (*resource.Sample, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, nil
	}

	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, nil
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil || memInfo == nil {
		return nil, nil
	}

	memoryMB := float64(memInfo.RSS) / mib
	sample := &resource.Sample{
		CPUPercent:    cpuPercent,
		MemoryMB:      memoryMB,
		MemoryPercent: float64(memInfo.RSS) / m.memoryTotal(ctx) * 100,
	}

	if instanceID != nil {
		m.mu.Lock()
		h := m.history[*instanceID]
		if h == nil {
			h = resource.NewHistory()
			m.history[*instanceID] = h
		}
		h.Append(cpuPercent, memoryMB)
		avgCPU, avgMem := h.Averages()
		m.mu.Unlock()

		sample.AvgCPU = &avgCPU
		sample.AvgMemory = &avgMem

		if diskMB, err := m.diskUsage(*instanceID); err == nil {
			sample.DiskMB = &diskMB
		} else {
			slog.Debug("disk usage sample failed", "instance_id", *instanceID, "error", err)
		}
	}

	return sample, nil
}

// Forget drops an instance's history and cached disk size. Called on stop,
// kill and delete.
func (m *ResourceMonitor) Forget(instanceID int64) {
	m.mu.Lock()
	delete(m.history, instanceID)
	m.mu.Unlock()
	m.disk.Del(instanceID)
}

// Close releases the disk cache.
func (m *ResourceMonitor) Close() {
	m.disk.Close()
}

// diskUsage returns the working directory size in MiB, served from the TTL
// cache when fresh.
func (m *ResourceMonitor) diskUsage(instanceID int64) (float64, error) {
	if v, ok := m.disk.Get(instanceID); ok {
		return v, nil
	}

	size, err := dirSize(m.data.InstanceDir(instanceID))
	if err != nil {
		return 0, err
	}
	diskMB := float64(size) / mib
	m.disk.SetWithTTL(instanceID, diskMB, 1, m.cfg.DiskCacheTTL)
	return diskMB, nil
}

// memoryTotal resolves the reference for memoryPercent once: the configured
// value, the host total, or a fixed fallback.
func (m *ResourceMonitor) memoryTotal(ctx context.Context) float64 {
	m.memOnce.Do(func() {
		if m.cfg.MemoryTotalBytes > 0 {
			m.memTotal = float64(m.cfg.MemoryTotalBytes)
			return
		}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
			m.memTotal = float64(vm.Total)
			return
		}
		m.memTotal = fallbackMemoryTotal
	})
	return m.memTotal
}
