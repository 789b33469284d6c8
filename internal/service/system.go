package service

import (
	"context"
	"time"

	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/domain/instance"
)

// preferredPortMax is the advertised upper bound of the allocation range.
// Allocation itself runs past it when the range is exhausted.
const preferredPortMax = 9000

// SystemStatus is the manager-wide health summary.
type SystemStatus struct {
	Status    string         `json:"status"`
	Uptime    int64          `json:"uptime"`
	Instances InstanceCounts `json:"instances"`
	Ports     PortSummary    `json:"ports"`
}

// InstanceCounts breaks instances down by state.
type InstanceCounts struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Stopped int `json:"stopped"`
}

// PortSummary summarizes port allocation.
type PortSummary struct {
	Allocated     int `json:"allocated"`
	NextAvailable int `json:"next_available"`
}

// SystemConfig is the operator-visible configuration summary.
type SystemConfig struct {
	PortRange         PortRange `json:"port_range"`
	DataDirectory     string    `json:"data_directory"`
	BinariesDirectory string    `json:"binaries_directory"`
}

// PortRange is the advertised allocation range.
type PortRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// SystemService answers system-level queries.
type SystemService struct {
	engine    *InstanceService
	ports     *PortAllocator
	data      config.Data
	startedAt time.Time
}

// NewSystemService creates the service; uptime counts from now.
func NewSystemService(engine *InstanceService, ports *PortAllocator, data config.Data) *SystemService {
	return &SystemService{
		engine:    engine,
		ports:     ports,
		data:      data,
		startedAt: time.Now(),
	}
}

// Status assembles the manager-wide summary.
func (s *SystemService) Status(ctx context.Context) (*SystemStatus, error) {
	instances, err := s.engine.List(ctx)
	if err != nil {
		return nil, err
	}

	counts := InstanceCounts{Total: len(instances)}
	allocated := 0
	for _, inst := range instances {
		if inst.Status == instance.StatusRunning {
			counts.Running++
		} else {
			counts.Stopped++
		}
		if inst.Port != nil {
			allocated++
		}
	}

	next, err := s.NextPort(ctx)
	if err != nil {
		return nil, err
	}

	return &SystemStatus{
		Status:    "ok",
		Uptime:    int64(time.Since(s.startedAt).Seconds()),
		Instances: counts,
		Ports:     PortSummary{Allocated: allocated, NextAvailable: next},
	}, nil
}

// Config returns the operator-visible configuration summary.
func (s *SystemService) Config() SystemConfig {
	return SystemConfig{
		PortRange:         PortRange{Min: instance.PortMin, Max: preferredPortMax},
		DataDirectory:     s.data.Dir,
		BinariesDirectory: s.data.BinDir(),
	}
}

// NextPort peeks at the next allocatable port without keeping the
// reservation.
func (s *SystemService) NextPort(ctx context.Context) (int, error) {
	port, err := s.ports.NextAvailable(ctx)
	if err != nil {
		return 0, err
	}
	s.ports.Release(port)
	return port, nil
}

// PortAvailable reports the live probe result for one port.
func (s *SystemService) PortAvailable(ctx context.Context, port int) bool {
	return s.ports.IsFree(ctx, port)
}
