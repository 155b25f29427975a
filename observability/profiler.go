package observability

// References:
// https://github.com/DataDog/dd-trace-go/blob/main/profiler/profiler.go#L118

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"go.uber.org/multierr"
)

type ProfileType int8

const (
	CPUProfile ProfileType = iota
	MemProfile
)

var ErrUnknownProfileType = errors.New("[observability] unknown profile type")

// StartProfiler writes the typ profile into path. CPU sampling starts
// immediately, the heap is snapshotted when the returned stop runs.
func StartProfiler(typ ProfileType, path string) (stop func() error, err error) {
	if typ != CPUProfile && typ != MemProfile {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProfileType, typ)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if typ == CPUProfile {
		if err = pprof.StartCPUProfile(f); err != nil {
			return nil, multierr.Append(err, f.Close())
		}
		return func() error {
			pprof.StopCPUProfile()
			return f.Close()
		}, nil
	}
	return func() error {
		runtime.GC()
		return multierr.Append(pprof.WriteHeapProfile(f), f.Close())
	}, nil
}
