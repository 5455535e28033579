// Package sysmonitor samples this process's own resource usage on an
// interval, grounded on the teacher's cgroup.go / system_monitor.go
// samplers. The service runtime folds the sample into its pong
// payload; the updater does not use this package.
package sysmonitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Load is a point-in-time resource sample for the current process.
type Load struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Sampler caches the last successful reading so a failed gopsutil
// call (common in restricted containers) degrades to a stale value
// instead of propagating an error into hot paths like the ping
// handler.
type Sampler struct {
	proc *process.Process
	last Load
}

// New constructs a Sampler bound to the current process.
func New() (*Sampler, error) {
	p, err := process.NewProcess(int32(currentPID()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: p}, nil
}

// Sample refreshes and returns the current Load.
func (s *Sampler) Sample() Load {
	if s.proc == nil {
		return s.last
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		s.last.CPUPercent = cpu
	}
	if mi, err := s.proc.MemoryInfo(); err == nil && mi != nil {
		s.last.RSSBytes = mi.RSS
	}
	return s.last
}

// SystemMemory reports host-wide memory usage.
func SystemMemory() (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemory()
}

// Run samples every interval until ctx is cancelled, invoking fn with
// each Load. Grounded on the teacher's ticker-driven monitor loop.
func Run(ctx context.Context, s *Sampler, interval time.Duration, fn func(Load)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(s.Sample())
		}
	}
}
