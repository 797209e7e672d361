package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

const DefaultPerfStatsInterval = 30 * time.Second

var meter = otel.Meter("xhbook.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var memoryGauge, _ = meter.Int64Gauge("allocated_mb")
var liveObjectsGauge, _ = meter.Int64Gauge("live_objects")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")
var openFilesGauge, _ = meter.Int64Gauge("open_fds")

// PerfSample is one reading of the process statistics.
type PerfSample struct {
	CPUPercent  float64
	AllocatedMB int64
	LiveObjects int64
	Goroutines  int64
	// -1 when the platform does not expose it
	OpenFiles int64
}

func samplePerfStats(ctx context.Context, self *process.Process) PerfSample {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sample := PerfSample{
		AllocatedMB: int64(memStats.Alloc / 1_000_000),
		LiveObjects: int64(memStats.Mallocs) - int64(memStats.Frees),
		Goroutines:  int64(runtime.NumGoroutine()),
		OpenFiles:   -1,
	}

	usage, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(usage) > 0 {
		sample.CPUPercent = usage[0]
	} else if err != nil {
		slog.Debug("failed to read cpu usage", "err", err)
	}
	if self != nil {
		fds, err := self.NumFDsWithContext(ctx)
		if err == nil {
			sample.OpenFiles = int64(fds)
		}
	}
	return sample
}

func (s PerfSample) record(ctx context.Context) {
	cpuGauge.Record(ctx, s.CPUPercent)
	memoryGauge.Record(ctx, s.AllocatedMB)
	liveObjectsGauge.Record(ctx, s.LiveObjects)
	goroutineGauge.Record(ctx, s.Goroutines)
	if s.OpenFiles >= 0 {
		openFilesGauge.Record(ctx, s.OpenFiles)
	}
}

// InstrumentPerfStats samples process statistics into otel gauges once per
// interval until ctx is cancelled. A zero interval means the default.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPerfStatsInterval
	}
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Debug("open file count unavailable", "err", err)
		self = nil
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				samplePerfStats(ctx, self).record(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
