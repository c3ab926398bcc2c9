package sink

import (
	"context"
	"log/slog"
	"strings"

	"github.com/R167/docsis_meter/internal/docsis"
)

const (
	MetricUtilization = "utilization"
	MetricBitrate     = "bitrate"

	// TotalLabel names the aggregate channel.
	TotalLabel = "total"
)

// Path joins a metric path as <prefix>.<channel>.<metric>.
func Path(prefix, channel, metric string) string {
	return strings.Join([]string{prefix, channel, metric}, ".")
}

// Emitter turns cycle results into sink points.
type Emitter struct {
	sink   Sink
	prefix string
	logger *slog.Logger
}

// NewEmitter creates an emitter writing under prefix.
func NewEmitter(s Sink, prefix string, logger *slog.Logger) *Emitter {
	return &Emitter{
		sink:   s,
		prefix: prefix,
		logger: logger,
	}
}

// Publish emits utilization and bitrate for every target result, including
// failed ones whose NaN values land as nulls, then the aggregate utilization.
// It returns the number of points that could not be delivered.
func (e *Emitter) Publish(ctx context.Context, results []docsis.Result, aggregate docsis.Result) int {
	var failed int
	emit := func(path string, value float64, r docsis.Result) {
		if err := e.sink.Emit(ctx, path, value, r.Timestamp); err != nil {
			failed++
			e.logger.Warn("Failed to emit metric", "path", path, "error", err)
			return
		}
		e.logger.Debug("Emitted metric", "path", path, "value", value, "status", r.Status.String())
	}

	for _, r := range results {
		emit(Path(e.prefix, r.Target.Label, MetricUtilization), r.UtilizationPct, r)
		emit(Path(e.prefix, r.Target.Label, MetricBitrate), r.BitsPerSecond, r)
	}
	emit(Path(e.prefix, TotalLabel, MetricUtilization), aggregate.UtilizationPct, aggregate)

	return failed
}
