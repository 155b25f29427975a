package tree

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	ConcRBTreeStatsName = "xcrbt/tree"
)

// concRBTreeStats methods are no-ops on a nil receiver,
// so a tree without stats pays a nil check only.
type concRBTreeStats struct {
	retryCount        metric.Int64Counter
	rotationCount     metric.Int64Counter
	recolorCount      metric.Int64Counter
	unlinkCount       metric.Int64Counter
	waitFallbackCount metric.Int64Counter
	size              metric.Int64ObservableGauge
}

func deltaOf(n []int64) int64 {
	if len(n) == 0 {
		return 1
	}
	return n[0]
}

func (stats *concRBTreeStats) increaseRetry() {
	if stats == nil {
		return
	}
	stats.retryCount.Add(context.Background(), 1)
}

func (stats *concRBTreeStats) increaseRotation(n ...int64) {
	if stats == nil {
		return
	}
	stats.rotationCount.Add(context.Background(), deltaOf(n))
}

func (stats *concRBTreeStats) increaseRecolor(n ...int64) {
	if stats == nil {
		return
	}
	stats.recolorCount.Add(context.Background(), deltaOf(n))
}

func (stats *concRBTreeStats) increaseUnlink() {
	if stats == nil {
		return
	}
	stats.unlinkCount.Add(context.Background(), 1)
}

func (stats *concRBTreeStats) increaseWaitFallback() {
	if stats == nil {
		return
	}
	stats.waitFallbackCount.Add(context.Background(), 1)
}

func newConcRBTreeStats(name string, sizeFn func() int64) *concRBTreeStats {
	meter := otel.Meter(fmt.Sprintf("%s/%s", ConcRBTreeStatsName, name))
	return &concRBTreeStats{
		retryCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"xcrbt.retry.count",
			metric.WithDescription("The number of optimistic validations failed and retried."),
		)),
		rotationCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"xcrbt.rotation.count",
			metric.WithDescription("The number of single rotations, a double rotation counts two."),
		)),
		recolorCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"xcrbt.recolor.count",
			metric.WithDescription("The number of node colors changed by repairs."),
		)),
		unlinkCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"xcrbt.unlink.count",
			metric.WithDescription("The number of routing nodes unlinked."),
		)),
		waitFallbackCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"xcrbt.wait.fallback.count",
			metric.WithDescription("The number of readers blocked on a changing node's lock."),
		)),
		size: lo.Must[metric.Int64ObservableGauge](meter.Int64ObservableGauge(
			"xcrbt.size",
			metric.WithDescription("The number of present entries."),
			metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
				ob.Observe(sizeFn())
				return nil
			}),
		)),
	}
}
