package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAppStatsName(t *testing.T) {
	require.Equal(t, "xcrbt/app/default", appStatsName(""))
	require.Equal(t, "xcrbt/app/default", appStatsName("  "))
	require.Equal(t, "xcrbt/app/stress", appStatsName(" stress "))
}

func TestInitAppStats(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	ctx, cancel := context.WithCancel(context.TODO())
	shutdown := make(chan struct{})
	InitAppStats(ctx, "test", func(ctx context.Context) error {
		defer close(shutdown)
		return provider.Shutdown(ctx)
	})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.TODO(), &rm))
	names := make(map[string]struct{})
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != "xcrbt/app/test" {
			continue
		}
		for _, m := range sm.Metrics {
			names[m.Name] = struct{}{}
		}
	}
	require.Contains(t, names, "app.core.goroutines")
	require.Contains(t, names, "app.core.processes")

	cancel()
	select {
	case <-shutdown:
	case <-time.After(5 * time.Second):
		t.Fatal("app stats shutdown callback not called")
	}
}

func TestConsoleMetricsExporter(t *testing.T) {
	shutdown, err := NewConsoleMetricsExporter(time.Second, time.Second)
	require.NoError(t, err)
	_, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	require.True(t, ok)
	require.NoError(t, shutdown(context.TODO()))
}

func TestStartProfiler(t *testing.T) {
	dir := t.TempDir()

	_, err := StartProfiler(ProfileType(7), filepath.Join(dir, "unknown.pprof"))
	require.ErrorIs(t, err, ErrUnknownProfileType)

	for _, tc := range []struct {
		name string
		typ  ProfileType
	}{
		{"cpu.pprof", CPUProfile},
		{"mem.pprof", MemProfile},
	} {
		path := filepath.Join(dir, tc.name)
		stop, err := StartProfiler(tc.typ, path)
		require.NoError(t, err)
		sum := 0
		for i := 0; i < 1<<16; i++ {
			sum += i
		}
		require.Positive(t, sum)
		require.NoError(t, stop())
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Positive(t, info.Size())
	}
}
