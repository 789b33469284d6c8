// Package resource defines resource usage samples and the bounded history
// ring used to compute rolling averages per child process.
package resource

// Sample is one point-in-time resource reading for a child process.
// AvgCPU/AvgMemory are present when a history ring tracked the instance;
// DiskMB is present when the instance working directory was measured.
type Sample struct {
	CPUPercent    float64  `json:"cpuPercent"`
	MemoryMB      float64  `json:"memoryMB"`
	MemoryPercent float64  `json:"memoryPercent"`
	AvgCPU        *float64 `json:"avgCpu,omitempty"`
	AvgMemory     *float64 `json:"avgMemory,omitempty"`
	DiskMB        *float64 `json:"diskMB,omitempty"`
}

// HistoryCapacity is the number of trailing samples kept per instance.
const HistoryCapacity = 10

// History is a bounded ring of CPU and memory samples. Not safe for
// concurrent use; the monitor guards it.
type History struct {
	cpu  []float64
	mem  []float64
	next int
	full bool
}

// NewHistory returns an empty ring with the fixed capacity.
func NewHistory() *History {
	return &History{
		cpu: make([]float64, HistoryCapacity),
		mem: make([]float64, HistoryCapacity),
	}
}

// Append records one CPU/memory pair, evicting the oldest when full.
func (h *History) Append(cpuPercent, memoryMB float64) {
	h.cpu[h.next] = cpuPercent
	h.mem[h.next] = memoryMB
	h.next++
	if h.next == HistoryCapacity {
		h.next = 0
		h.full = true
	}
}

// Len returns the number of recorded samples, at most HistoryCapacity.
func (h *History) Len() int {
	if h.full {
		return HistoryCapacity
	}
	return h.next
}

// Averages returns the trailing CPU and memory means. Zero values when the
// ring is empty.
func (h *History) Averages() (avgCPU, avgMem float64) {
	n := h.Len()
	if n == 0 {
		return 0, 0
	}
	for i := range n {
		avgCPU += h.cpu[i]
		avgMem += h.mem[i]
	}
	return avgCPU / float64(n), avgMem / float64(n)
}
