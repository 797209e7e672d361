package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/require"
)

func TestSamplePerfStats(t *testing.T) {
	ctx := context.Background()
	self, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)

	sample := samplePerfStats(ctx, self)
	require.Positive(t, sample.Goroutines)
	require.Positive(t, sample.LiveObjects)
	require.GreaterOrEqual(t, sample.CPUPercent, 0.0)

	// recording against the default no-op provider must not fail
	sample.record(ctx)

	require.Equal(t, int64(-1), samplePerfStats(ctx, nil).OpenFiles)
}

func TestInstrumentPerfStatsStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	InstrumentPerfStats(ctx, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
}
