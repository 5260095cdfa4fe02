package limits

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceGuard is the admission control for new connections: a hard
// connection cap plus a CPU ceiling sampled in the background. Checks
// on the upgrade path read only atomics, so they never block.
type ResourceGuard struct {
	maxConnections     int64
	cpuRejectThreshold float64

	currentConns *int64 // owned by the hub, read here
	currentCPU   atomic.Value // float64
	memoryRSSMB  atomic.Value // float64

	proc   *process.Process
	logger zerolog.Logger
}

// NewResourceGuard builds a guard over the hub's connection counter.
func NewResourceGuard(maxConnections int, cpuRejectThreshold float64, currentConns *int64, logger zerolog.Logger) *ResourceGuard {
	g := &ResourceGuard{
		maxConnections:     int64(maxConnections),
		cpuRejectThreshold: cpuRejectThreshold,
		currentConns:       currentConns,
		logger:             logger,
	}
	g.currentCPU.Store(0.0)
	g.memoryRSSMB.Store(0.0)
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		g.proc = proc
	} else {
		logger.Warn().Err(err).Msg("Process handle unavailable, RSS sampling disabled")
	}
	return g
}

// ShouldAccept reports whether a new connection may be admitted and,
// when rejected, the reason label for metrics.
func (g *ResourceGuard) ShouldAccept() (accept bool, reason string) {
	if atomic.LoadInt64(g.currentConns) >= g.maxConnections {
		return false, "max_connections"
	}
	if cpuPct, _ := g.currentCPU.Load().(float64); cpuPct > g.cpuRejectThreshold {
		return false, "cpu"
	}
	return true, ""
}

// CPUPercent returns the last sampled process CPU usage.
func (g *ResourceGuard) CPUPercent() float64 {
	v, _ := g.currentCPU.Load().(float64)
	return v
}

// MemoryRSSMB returns the last sampled resident set size in MB.
func (g *ResourceGuard) MemoryRSSMB() float64 {
	v, _ := g.memoryRSSMB.Load().(float64)
	return v
}

// StartMonitoring samples CPU and memory until ctx is cancelled.
func (g *ResourceGuard) StartMonitoring(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sample()
			}
		}
	}()
}

func (g *ResourceGuard) sample() {
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		g.currentCPU.Store(pcts[0])
	} else if err != nil {
		g.logger.Debug().Err(err).Msg("CPU sample failed")
	}

	if g.proc != nil {
		if memInfo, err := g.proc.MemoryInfo(); err == nil {
			g.memoryRSSMB.Store(float64(memInfo.RSS) / 1024 / 1024)
		}
	}

	g.logger.Debug().
		Float64("cpu_percent", g.CPUPercent()).
		Float64("memory_rss_mb", g.MemoryRSSMB()).
		Int64("connections", atomic.LoadInt64(g.currentConns)).
		Msg("Resource state sampled")
}
