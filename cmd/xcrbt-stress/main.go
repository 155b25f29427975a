package main

import (
	"os"
	"runtime"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"

	"github.com/benz9527/xcrbt/lib/xlog"
)

type stressOpts struct {
	Workers         int           `long:"workers" description:"The number of concurrent clients. Default: GOMAXPROCS*4"`
	Number          int           `short:"n" long:"number" default:"100000" description:"Number of operations per client."`
	KeySpace        int           `short:"k" long:"keyspace" default:"65536" description:"Number of distinct keys."`
	Reads           int           `long:"reads" default:"80" description:"Percentage of read operations."`
	Random          uint64        `long:"random" default:"0" description:"Random number seed."`
	SpinMutex       bool          `long:"spin-mutex" description:"Per node spin locks instead of sync.Mutex."`
	Metrics         string        `long:"metrics" default:"none" choice:"none" choice:"stdout" choice:"prometheus" description:"Metrics exporter."`
	MetricsInterval time.Duration `long:"metrics-interval" default:"5s" description:"Stdout metrics export interval."`
	PrometheusAddr  string        `long:"prometheus-addr" default:":9464" description:"Prometheus metrics listen address."`
	CPUProfile      string        `long:"cpu-profile" description:"Write a cpu profile to the file."`
	MemProfile      string        `long:"mem-profile" description:"Write a heap profile to the file at exit."`
	Verbose         bool          `short:"v" long:"verbose" description:"Debug logging."`
}

func parseStressOpts(args []string) (*stressOpts, error) {
	opts := &stressOpts{}
	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0) * 4
	}
	opts.Number = max(opts.Number, 1)
	opts.KeySpace = max(opts.KeySpace, 1)
	opts.Reads = min(max(opts.Reads, 0), 100)
	return opts, nil
}

func newStressLogger(opts *stressOpts) xlog.XLogger {
	lvl := xlog.LogLevelInfo
	if opts.Verbose {
		lvl = xlog.LogLevelDebug
	}
	return xlog.NewXLogger(
		xlog.WithXLoggerLevel(lvl),
		xlog.WithXLoggerEncoder(xlog.PlainText),
		xlog.WithXLoggerWriter(xlog.StdOut),
	)
}

func main() {
	opts, err := parseStressOpts(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}
	logger := newStressLogger(opts)
	defer func() {
		_ = logger.Sync()
	}()
	if _, err = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Logf(zapcore.InfoLevel, format, args...)
	})); err != nil {
		logger.Warn("unable to align GOMAXPROCS to the cpu quota")
	}

	fx.New(
		fx.Supply(opts),
		fx.Provide(func() xlog.XLogger { return logger }),
		fx.WithLogger(func(logger xlog.XLogger) fxevent.Logger {
			return xlog.NewFxXLogger(logger)
		}),
		fx.Provide(
			newStressMetrics,
			newStressTree,
			newStressPool,
			newStressRunner,
		),
		fx.Invoke(func(*stressRunner) {}),
	).Run()
}
