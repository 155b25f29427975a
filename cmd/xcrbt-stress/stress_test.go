package main

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/benz9527/xcrbt/lib/infra"
	"github.com/benz9527/xcrbt/lib/tree"
	"github.com/benz9527/xcrbt/lib/xlog"
)

func TestParseStressOpts(t *testing.T) {
	opts, err := parseStressOpts(nil)
	require.NoError(t, err)
	require.Equal(t, runtime.GOMAXPROCS(0)*4, opts.Workers)
	require.Equal(t, 100000, opts.Number)
	require.Equal(t, 65536, opts.KeySpace)
	require.Equal(t, 80, opts.Reads)
	require.Equal(t, "none", opts.Metrics)
	require.Equal(t, 5*time.Second, opts.MetricsInterval)
	require.False(t, opts.SpinMutex)

	opts, err = parseStressOpts([]string{
		"--workers", "3", "-n", "0", "-k", "0", "--reads", "150",
		"--spin-mutex", "--metrics", "stdout", "--metrics-interval", "1s",
	})
	require.NoError(t, err)
	require.Equal(t, 3, opts.Workers)
	require.Equal(t, 1, opts.Number)
	require.Equal(t, 1, opts.KeySpace)
	require.Equal(t, 100, opts.Reads)
	require.True(t, opts.SpinMutex)
	require.Equal(t, "stdout", opts.Metrics)
	require.Equal(t, time.Second, opts.MetricsInterval)

	_, err = parseStressOpts([]string{"--metrics", "graphite"})
	require.Error(t, err)
	var flagsErr *flags.Error
	require.ErrorAs(t, err, &flagsErr)
	require.Equal(t, flags.ErrInvalidChoice, flagsErr.Type)
}

func TestStressKey(t *testing.T) {
	seen := make(map[uint64]struct{}, 1<<12)
	for idx := uint64(0); idx < 1<<12; idx++ {
		key := stressKey(idx)
		require.Equal(t, key, stressKey(idx))
		seen[key] = struct{}{}
	}
	require.Len(t, seen, 1<<12)
}

func testStressOpts() *stressOpts {
	return &stressOpts{
		Workers:  4,
		Number:   4000,
		KeySpace: 256,
		Reads:    50,
		Random:   527,
		Metrics:  "none",
	}
}

func TestStressRunner(t *testing.T) {
	for _, spin := range []bool{false, true} {
		opts := testStressOpts()
		opts.SpinMutex = spin
		logger := xlog.NopXLogger()

		crbt, err := newStressTree(opts, logger, nil)
		require.NoError(t, err)
		pool, err := ants.NewPool(opts.Workers, ants.WithLogger(xlog.NewAntsXLogger(logger)))
		require.NoError(t, err)

		r := &stressRunner{
			opts:     opts,
			tree:     crbt,
			pool:     pool,
			logger:   logger,
			counters: make([]stressCounters, opts.Workers),
		}
		require.NoError(t, r.run(context.TODO()))
		require.Equal(t, int64(opts.Workers*opts.Number), r.total(func(c stressCounters) int64 {
			return c.ops()
		}))
		require.Zero(t, r.total(func(c stressCounters) int64 { return c.mismatches }))
		require.NoError(t, tree.InvariantsValidate[uint64, uint64](crbt))
		require.NoError(t, pool.ReleaseTimeout(time.Second))
	}
}

func TestStressRunnerCanceled(t *testing.T) {
	opts := testStressOpts()
	crbt, err := newStressTree(opts, xlog.NopXLogger(), nil)
	require.NoError(t, err)
	pool, err := ants.NewPool(opts.Workers)
	require.NoError(t, err)
	defer pool.Release()

	r := &stressRunner{
		opts:     opts,
		tree:     crbt,
		pool:     pool,
		logger:   xlog.NopXLogger(),
		counters: make([]stressCounters, opts.Workers),
	}
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	require.NoError(t, r.run(ctx))
	require.Zero(t, r.total(func(c stressCounters) int64 { return c.ops() }))
}

func TestStressApp(t *testing.T) {
	var runner *stressRunner
	app := fxtest.New(t,
		fx.Supply(testStressOpts()),
		fx.Provide(func() xlog.XLogger { return xlog.NopXLogger() }),
		fx.Provide(
			newStressMetrics,
			newStressTree,
			newStressPool,
			newStressRunner,
		),
		fx.Populate(&runner),
	)
	app.RequireStart()
	select {
	case <-app.Wait():
	case <-time.After(time.Minute):
		t.Fatal("stress run did not finish")
	}
	app.RequireStop()
	require.Equal(t, int64(4*4000), runner.total(func(c stressCounters) int64 { return c.ops() }))
}

func TestStressRunnerVerify(t *testing.T) {
	opts := testStressOpts()
	crbt, err := newStressTree(opts, xlog.NopXLogger(), nil)
	require.NoError(t, err)
	r := &stressRunner{
		opts:     opts,
		tree:     crbt,
		logger:   xlog.NopXLogger(),
		counters: make([]stressCounters, opts.Workers),
	}
	require.NoError(t, r.verify())

	for key := uint64(0); key < 16; key++ {
		_, _, err = crbt.Put(key, key)
		require.NoError(t, err)
	}
	require.NoError(t, r.verify())

	r.counters[0].mismatches = 2
	r.counters[1].faults = 1
	err = r.verify()
	require.ErrorIs(t, err, errStressValueMismatch)
	require.ErrorIs(t, err, errStressClientFault)
	require.NotErrorIs(t, err, errStressSizeMismatch)
	var es infra.ErrorStack
	require.ErrorAs(t, err, &es)
	require.NotEmpty(t, es.Frames())
}
