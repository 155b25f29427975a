package observability

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/process"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const AppStatsName = "xcrbt/app"

var (
	once sync.Once
)

type appStats struct {
	ctx              context.Context
	shutdownCallback ShutdownCallback
	goroutines       metric.Int64ObservableUpDownCounter
	processes        metric.Int64ObservableUpDownCounter
	cpuPercent       metric.Float64ObservableGauge
	rss              metric.Int64ObservableGauge
}

func (stats *appStats) waitForShutdown() {
	if stats == nil || stats.shutdownCallback == nil {
		return
	}
	go func() {
		<-stats.ctx.Done()
		_ = stats.shutdownCallback(context.Background())
	}()
}

func appStatsName(name string) string {
	builder := &strings.Builder{}
	builder.WriteString(AppStatsName)
	builder.WriteString("/")
	if name = strings.TrimSpace(name); len(name) > 0 {
		builder.WriteString(name)
	} else {
		builder.WriteString("default")
	}
	return builder.String()
}

// InitAppStats registers the process meters once. The callback, usually an
// exporter's shutdown, runs after ctx is done.
func InitAppStats(ctx context.Context, name string, callback ShutdownCallback) {
	once.Do(func() {
		meter := otel.Meter(
			appStatsName(name),
			metric.WithInstrumentationVersion(otelruntime.Version()),
		)
		// The process lookup is optional, it may be denied in containers.
		proc, procErr := process.NewProcessWithContext(ctx, int32(os.Getpid()))
		stats := &appStats{
			ctx:              ctx,
			shutdownCallback: callback,
			goroutines: lo.Must[metric.Int64ObservableUpDownCounter](meter.Int64ObservableUpDownCounter(
				"app.core.goroutines",
				metric.WithDescription(`The application goroutines' info.`),
				metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
					ob.Observe(int64(runtime.NumGoroutine()))
					return nil
				}),
			)),
			processes: lo.Must[metric.Int64ObservableUpDownCounter](meter.Int64ObservableUpDownCounter(
				"app.core.processes",
				metric.WithDescription(`The application processes' info.`),
				metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
					ob.Observe(int64(runtime.GOMAXPROCS(0)))
					return nil
				}),
			)),
			cpuPercent: lo.Must[metric.Float64ObservableGauge](meter.Float64ObservableGauge(
				"app.process.cpu.percent",
				metric.WithDescription(`The application process cpu usage.`),
				metric.WithFloat64Callback(func(ctx context.Context, ob metric.Float64Observer) error {
					if procErr != nil {
						return nil
					}
					percent, err := proc.CPUPercentWithContext(ctx)
					if err != nil {
						return err
					}
					ob.Observe(percent)
					return nil
				}),
			)),
			rss: lo.Must[metric.Int64ObservableGauge](meter.Int64ObservableGauge(
				"app.process.memory.rss",
				metric.WithDescription(`The application process resident memory in bytes.`),
				metric.WithUnit("By"),
				metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
					if procErr != nil {
						return nil
					}
					info, err := proc.MemoryInfoWithContext(ctx)
					if err != nil {
						return err
					}
					ob.Observe(int64(info.RSS))
					return nil
				}),
			)),
		}
		_ = otelruntime.Start()
		stats.waitForShutdown()
	})
}
