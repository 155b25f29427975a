package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	randv2 "math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spaolacci/murmur3"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benz9527/xcrbt/lib/infra"
	"github.com/benz9527/xcrbt/lib/tree"
	"github.com/benz9527/xcrbt/lib/xlog"
	"github.com/benz9527/xcrbt/observability"
)

var (
	errStressValueMismatch = errors.New("[xcrbt-stress] value does not belong to its key")
	errStressSizeMismatch  = errors.New("[xcrbt-stress] size does not match the entries")
	errStressClientFault   = errors.New("[xcrbt-stress] client fault")
)

// stressKey scatters the key indexes over the whole uint64 range.
// Values are the indexes, so every read can be checked against its key.
func stressKey(idx uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], idx)
	return murmur3.Sum64(buf[:])
}

type stressMetrics struct {
	exporter string
}

func newStressMetrics(lc fx.Lifecycle, opts *stressOpts, logger xlog.XLogger) (*stressMetrics, error) {
	var (
		shutdown observability.ShutdownCallback
		err      error
	)
	switch opts.Metrics {
	case "stdout":
		shutdown, err = observability.NewConsoleMetricsExporter(
			opts.MetricsInterval,
			opts.MetricsInterval,
			stdoutmetric.WithPrettyPrint(),
		)
	case "prometheus":
		shutdown, err = observability.NewPrometheusMetricsExporter()
		if err == nil {
			srv := &http.Server{
				Addr:              opts.PrometheusAddr,
				Handler:           promhttp.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			lc.Append(fx.StartStopHook(
				func() {
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							logger.Error(err, "prometheus metrics server stopped")
						}
					}()
				},
				srv.Shutdown,
			))
		}
	default:
		return &stressMetrics{exporter: "none"}, nil
	}
	if err != nil {
		return nil, err
	}
	observability.InitAppStats(context.Background(), "stress", nil)
	lc.Append(fx.StopHook(func(ctx context.Context) error {
		return shutdown(ctx)
	}))
	return &stressMetrics{exporter: opts.Metrics}, nil
}

func newStressTree(opts *stressOpts, logger xlog.XLogger, _ *stressMetrics) (tree.ConcRBTree[uint64, uint64], error) {
	treeOpts := []tree.ConcRBTreeOption[uint64, uint64]{
		tree.WithConcRBTreeLogger[uint64, uint64](logger),
		tree.WithConcRBTreeStats[uint64, uint64]("stress"),
	}
	if opts.SpinMutex {
		treeOpts = append(treeOpts, tree.WithConcRBTreeSpinMutex[uint64, uint64]())
	}
	return tree.NewConcRBTree[uint64, uint64](treeOpts...)
}

func newStressPool(lc fx.Lifecycle, opts *stressOpts, logger xlog.XLogger) (*ants.Pool, error) {
	pool, err := ants.NewPool(
		opts.Workers,
		ants.WithLogger(xlog.NewAntsXLogger(logger)),
		ants.WithPanicHandler(func(r any) {
			logger.Error(fmt.Errorf("%v", r), "stress pool worker panic")
		}),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() error {
		return pool.ReleaseTimeout(5 * time.Second)
	}))
	return pool, nil
}

type stressCounters struct {
	puts, putIfAbsents, replaces, removes int64
	gets, hits                            int64
	mismatches, faults                    int64
}

func (c *stressCounters) ops() int64 {
	return c.puts + c.putIfAbsents + c.replaces + c.removes + c.gets
}

type stressRunnerParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Opts       *stressOpts
	Tree       tree.ConcRBTree[uint64, uint64]
	Pool       *ants.Pool
	Logger     xlog.XLogger
}

type stressRunner struct {
	opts       *stressOpts
	tree       tree.ConcRBTree[uint64, uint64]
	pool       *ants.Pool
	logger     xlog.XLogger
	shutdowner fx.Shutdowner
	counters   []stressCounters
	profilers  []func() error
	cancel     context.CancelFunc
	done       chan struct{}
}

func newStressRunner(params stressRunnerParams) *stressRunner {
	r := &stressRunner{
		opts:       params.Opts,
		tree:       params.Tree,
		pool:       params.Pool,
		logger:     params.Logger.Named("stress"),
		shutdowner: params.Shutdowner,
		counters:   make([]stressCounters, params.Opts.Workers),
		done:       make(chan struct{}),
	}
	params.Lifecycle.Append(fx.Hook{
		OnStart: r.start,
		OnStop:  r.stop,
	})
	return r
}

func (r *stressRunner) start(context.Context) error {
	for typ, path := range map[observability.ProfileType]string{
		observability.CPUProfile: r.opts.CPUProfile,
		observability.MemProfile: r.opts.MemProfile,
	} {
		if path == "" {
			continue
		}
		stop, err := observability.StartProfiler(typ, path)
		if err != nil {
			return err
		}
		r.profilers = append(r.profilers, stop)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		defer close(r.done)
		code := 0
		if err := r.run(ctx); err != nil {
			r.logger.ErrorStack(err, "stress run failed")
			code = 1
		}
		if err := r.shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
			r.logger.Error(err, "stress shutdown failed")
		}
	}()
	return nil
}

func (r *stressRunner) stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	var err error
	select {
	case <-r.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	for _, stop := range r.profilers {
		err = multierr.Append(err, stop())
	}
	return err
}

func (r *stressRunner) run(ctx context.Context) error {
	r.logger.Info("stress started",
		zap.Int("workers", r.opts.Workers),
		zap.Int("number", r.opts.Number),
		zap.Int("keyspace", r.opts.KeySpace),
		zap.Int("reads", r.opts.Reads),
		zap.Bool("spinMutex", r.opts.SpinMutex),
	)
	var (
		wg   sync.WaitGroup
		errs error
	)
	begin := time.Now()
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		if err := r.pool.Submit(func() {
			defer wg.Done()
			r.client(ctx, w)
		}); err != nil {
			wg.Done()
			errs = multierr.Append(errs, err)
			break
		}
	}
	wg.Wait()
	r.report(time.Since(begin))
	return multierr.Combine(errs, r.verify())
}

func (r *stressRunner) client(ctx context.Context, w int) {
	c := &r.counters[w]
	defer func() {
		if rec := recover(); rec != nil {
			c.faults++
			r.logger.Error(fmt.Errorf("%v", rec), "stress client fault", zap.Int("client", w))
		}
	}()
	rnd := randv2.New(randv2.NewPCG(r.opts.Random, uint64(w)))
	for i := 0; i < r.opts.Number; i++ {
		if i&1023 == 0 && ctx.Err() != nil {
			return
		}
		idx := uint64(rnd.IntN(r.opts.KeySpace))
		key := stressKey(idx)
		if rnd.IntN(100) < r.opts.Reads {
			c.gets++
			if val, ok, err := r.tree.Get(key); err == nil && ok {
				c.hits++
				if stressKey(val) != key {
					c.mismatches++
				}
			}
			continue
		}
		var (
			prev uint64
			ok   bool
		)
		switch rnd.IntN(4) {
		case 0:
			c.puts++
			prev, ok, _ = r.tree.Put(key, idx)
		case 1:
			c.putIfAbsents++
			prev, ok, _ = r.tree.PutIfAbsent(key, idx)
		case 2:
			c.replaces++
			prev, ok, _ = r.tree.Replace(key, idx)
		default:
			c.removes++
			prev, ok, _ = r.tree.Remove(key)
		}
		if ok && stressKey(prev) != key {
			c.mismatches++
		}
	}
}

func (r *stressRunner) total(fn func(c stressCounters) int64) int64 {
	return lo.SumBy(r.counters, fn)
}

func (r *stressRunner) report(elapsed time.Duration) {
	ops := r.total(func(c stressCounters) int64 { return c.ops() })
	gets, hits := r.total(func(c stressCounters) int64 { return c.gets }), r.total(func(c stressCounters) int64 { return c.hits })
	fields := []zap.Field{
		zap.Int64("ops", ops),
		zap.Duration("elapsed", elapsed),
		zap.Float64("opsPerSec", float64(ops)/max(elapsed.Seconds(), 1e-9)),
		zap.Int64("puts", r.total(func(c stressCounters) int64 { return c.puts })),
		zap.Int64("putIfAbsents", r.total(func(c stressCounters) int64 { return c.putIfAbsents })),
		zap.Int64("replaces", r.total(func(c stressCounters) int64 { return c.replaces })),
		zap.Int64("removes", r.total(func(c stressCounters) int64 { return c.removes })),
		zap.Int64("gets", gets),
		zap.Float64("hitRatio", lo.Ternary(gets == 0, 0, float64(hits)/float64(gets))),
		zap.Int64("size", r.tree.Len()),
		zap.Int("blackHeight", tree.BlackHeight[uint64, uint64](r.tree)),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			fields = append(fields, zap.Uint64("rss", mem.RSS))
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			fields = append(fields, zap.Float64("cpuPercent", cpu))
		}
	}
	r.logger.Info("stress finished", fields...)
}

// verify expects the clients to have stopped.
func (r *stressRunner) verify() error {
	var errs []error
	if keys := r.tree.Keys(); int64(len(keys)) != r.tree.Len() {
		errs = append(errs, fmt.Errorf("%w: %d entries, size %d", errStressSizeMismatch, len(keys), r.tree.Len()))
	}
	if n := r.total(func(c stressCounters) int64 { return c.mismatches }); n > 0 {
		errs = append(errs, fmt.Errorf("%w: %d times", errStressValueMismatch, n))
	}
	if n := r.total(func(c stressCounters) int64 { return c.faults }); n > 0 {
		errs = append(errs, fmt.Errorf("%w: %d clients", errStressClientFault, n))
	}
	return infra.AppendErrorStack(tree.InvariantsValidate[uint64, uint64](r.tree), errs...)
}
