// Package sysmonitor periodically samples process CPU and RSS using
// gopsutil, the same library and polling idiom as the pack's
// ResourceGuard (src/resource_guard.go) and SystemMetrics
// (go-server/internal/metrics/system.go). kvsd consults the sample on
// BACKUP admission: a snapshot requested while the process is above the
// CPU threshold is logged with a warning. The snapshot is still spawned
// without delay; this package does not hold it back.
package sysmonitor

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Sample is one point-in-time reading.
type Sample struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Monitor polls the host and current process on an interval, exposing
// the latest Sample atomically for lock-free reads from hot paths
// (mirrors ResourceGuard's atomic.Value currentCPU).
type Monitor struct {
	interval     time.Duration
	cpuThreshold float64
	proc         *process.Process
	logger       zerolog.Logger
	latest       atomic.Value // Sample
	stop         chan struct{}
	done         chan struct{}
}

// New builds a Monitor sampling every interval. cpuThreshold is the
// percentage above which AllowBackup reports false.
func New(interval time.Duration, cpuThreshold float64, logger zerolog.Logger) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		interval:     interval,
		cpuThreshold: cpuThreshold,
		proc:         proc,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	m.latest.Store(Sample{})
	return m, nil
}

// Start launches the sampling loop in its own goroutine.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	cpuPct, err := m.proc.PercentWithContext(ctx, 0)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to sample process CPU")
		return
	}
	// PercentWithContext divides by NumCPU implicitly on some platforms;
	// normalize against host logical CPUs for a 0-100 scale matching
	// ResourceGuard's CPULimit semantics.
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		cpuPct /= float64(n)
	}

	memInfo, err := m.proc.MemInfoWithContext(ctx)
	var rss uint64
	if err == nil && memInfo != nil {
		rss = memInfo.RSS
	}

	m.latest.Store(Sample{CPUPercent: cpuPct, RSSBytes: rss})
}

// Latest returns the most recent sample, or the zero Sample before the
// first tick.
func (m *Monitor) Latest() Sample {
	return m.latest.Load().(Sample)
}

// AllowBackup reports whether a new snapshot child should be admitted
// given the current CPU reading.
func (m *Monitor) AllowBackup() bool {
	return m.Latest().CPUPercent <= m.cpuThreshold
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}
