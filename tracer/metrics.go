package tracer

import (
	"github.com/armon/go-metrics"

	"github.com/tracertl/tracertl/tracefile"
)

// tracerMetrics is a prefix used for tracer-related metrics
const tracerMetrics = "tracer"

func observeFlush(reason flushReason, stats tracefile.FlushStats) {
	labels := []metrics.Label{
		{Name: "reason", Value: string(reason)},
		{Name: "kind", Value: stats.Kind.String()},
	}

	metrics.IncrCounterWithLabels([]string{tracerMetrics, "frames"}, 1, labels)
	metrics.IncrCounter([]string{tracerMetrics, "records_flushed"}, float32(stats.Records))
	metrics.IncrCounter([]string{tracerMetrics, "bytes_raw"}, float32(stats.RawBytes))
	metrics.IncrCounter([]string{tracerMetrics, "bytes_stored"}, float32(stats.StoredBytes))
	metrics.SetGauge([]string{tracerMetrics, "compression_ratio"}, float32(stats.Ratio()))
	metrics.AddSample([]string{tracerMetrics, "flush_duration_ms"}, float32(stats.Duration.Microseconds())/1000)

	if stats.Fallback {
		metrics.IncrCounter([]string{tracerMetrics, "compression_fallbacks"}, 1)
	}
}
