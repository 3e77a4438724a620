// Package benchmark implements the statistics collector and debug ring
// buffer of spec §4.7: percentile/mean/stddev/outlier aggregation over the
// six timestamps every capability call captures, plus a retained-history
// log for on-device debugging (original_source's rac_benchmark_log.cpp,
// supplementing the aggregate collector spec.md names).
package benchmark

import (
	"math"
	"sort"
	"sync"

	"github.com/runanywhere/racore/internal/lifecycle"
)

// Summary is the aggregate statistics spec §4.7 requires over one metric's
// successful-run samples: percentiles, mean, standard deviation, and an
// outlier count (samples beyond mean + 2σ).
type Summary struct {
	Count    int
	Min      float64
	Max      float64
	Mean     float64
	StdDev   float64
	P50      float64
	P95      float64
	P99      float64
	Outliers int
}

// computeSummary derives a [Summary] from samples. samples is sorted in
// place; callers must pass a slice they own.
func computeSummary(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sort.Float64s(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(len(samples))

	var variance float64
	for _, v := range samples {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	stddev := math.Sqrt(variance)

	outliers := 0
	threshold := mean + 2*stddev
	for _, v := range samples {
		if v > threshold {
			outliers++
		}
	}

	return Summary{
		Count:    len(samples),
		Min:      samples[0],
		Max:      samples[len(samples)-1],
		Mean:     mean,
		StdDev:   stddev,
		P50:      percentile(samples, 0.50),
		P95:      percentile(samples, 0.95),
		P99:      percentile(samples, 0.99),
		Outliers: outliers,
	}
}

// percentile returns the value at fraction p (0..1) of sorted, using
// linear interpolation between the two closest samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// metricSamples holds the raw observations for one named derived metric
// (end-to-end latency, TTFT, prefill duration, decode throughput).
type metricSamples struct {
	mu      sync.Mutex
	samples []float64
}

func (m *metricSamples) record(v float64) {
	m.mu.Lock()
	m.samples = append(m.samples, v)
	m.mu.Unlock()
}

func (m *metricSamples) summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float64, len(m.samples))
	copy(cp, m.samples)
	return computeSummary(cp)
}

// Metric names recorded by [Stats.Observe].
const (
	MetricEndToEndLatencyMs     = "end_to_end_latency_ms"
	MetricTTFTMs                = "ttft_ms"
	MetricPrefillDurationMs     = "prefill_duration_ms"
	MetricDecodeTokensPerSecond = "decode_tokens_per_second"
)

// Stats aggregates [lifecycle.Timestamps] observations across every
// successful capability call, keyed by metric name, and reports
// percentile/mean/stddev/outlier summaries per spec §4.7. Safe for
// concurrent use; one Stats instance is typically shared process-wide.
type Stats struct {
	mu      sync.RWMutex
	metrics map[string]*metricSamples
}

// NewStats constructs an empty [Stats] collector.
func NewStats() *Stats {
	return &Stats{metrics: make(map[string]*metricSamples)}
}

// Observe records one successful call's derived metrics. tokenCount is the
// number of tokens generated between T4 and T5 (0 for non-streaming calls),
// used to compute decode throughput.
func (s *Stats) Observe(ts lifecycle.Timestamps, tokenCount int) {
	s.record(MetricEndToEndLatencyMs, float64(ts.EndToEndLatencyMs()))
	s.record(MetricTTFTMs, float64(ts.TTFTMs()))
	s.record(MetricPrefillDurationMs, float64(ts.PrefillDurationMs()))
	if tps := ts.DecodeTokensPerSecond(tokenCount); tps > 0 {
		s.record(MetricDecodeTokensPerSecond, tps)
	}
}

func (s *Stats) record(metric string, v float64) {
	s.mu.Lock()
	m, ok := s.metrics[metric]
	if !ok {
		m = &metricSamples{}
		s.metrics[metric] = m
	}
	s.mu.Unlock()
	m.record(v)
}

// Summary returns the aggregate statistics for metric, or the zero
// [Summary] if no observations have been recorded under that name.
func (s *Stats) Summary(metric string) Summary {
	s.mu.RLock()
	m, ok := s.metrics[metric]
	s.mu.RUnlock()
	if !ok {
		return Summary{}
	}
	return m.summary()
}

// Observer adapts a [Stats] collector to the [lifecycle.Observer] hook so a
// [lifecycle.Component] can feed it directly.
func (s *Stats) Observer() lifecycle.Observer {
	return s.Observe
}
