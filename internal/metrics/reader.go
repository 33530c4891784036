package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsReader reads current metric values directly out of the
// registry, without a network round trip, for an operator-facing debug
// endpoint.
type MetricsReader struct {
	metrics *Metrics
}

// HistogramStats is extracted statistics read from a histogram.
type HistogramStats struct {
	Count uint64
	Sum   float64
	Avg   float64
	P95   float64
}

// NewMetricsReader wraps m for direct reads.
func NewMetricsReader(m *Metrics) *MetricsReader {
	return &MetricsReader{metrics: m}
}

// GetCounterValue reads the current value of a counter.
func (r *MetricsReader) GetCounterValue(counter prometheus.Counter) (float64, error) {
	var metricDto dto.Metric
	if err := counter.(prometheus.Metric).Write(&metricDto); err != nil {
		return 0, err
	}
	return metricDto.GetCounter().GetValue(), nil
}

// GetGaugeValue reads the current value of a gauge.
func (r *MetricsReader) GetGaugeValue(gauge prometheus.Gauge) (float64, error) {
	var metricDto dto.Metric
	if err := gauge.(prometheus.Metric).Write(&metricDto); err != nil {
		return 0, err
	}
	return metricDto.GetGauge().GetValue(), nil
}

// GetWriteSuccessRate computes the fraction of local writes that have
// succeeded so far. Assumes healthy (1.0) when there is no data yet.
func (r *MetricsReader) GetWriteSuccessRate() float64 {
	success, err := r.GetCounterValue(r.metrics.WriteSuccessTotal)
	if err != nil {
		return 1.0
	}
	failure, err := r.GetCounterValue(r.metrics.WriteFailureTotal)
	if err != nil {
		return 1.0
	}
	total := success + failure
	if total == 0 {
		return 1.0
	}
	return success / total
}

// GetHistogramStats extracts count/sum/avg/p95 from a histogram observer.
func (r *MetricsReader) GetHistogramStats(hist prometheus.Observer) (*HistogramStats, error) {
	var metricDto dto.Metric
	if err := hist.(prometheus.Metric).Write(&metricDto); err != nil {
		return nil, err
	}

	h := metricDto.GetHistogram()
	stats := &HistogramStats{
		Count: h.GetSampleCount(),
		Sum:   h.GetSampleSum(),
	}
	if stats.Count > 0 {
		stats.Avg = stats.Sum / float64(stats.Count)
	}
	stats.P95 = r.estimatePercentile(h, 0.95)
	return stats, nil
}

func (r *MetricsReader) estimatePercentile(hist *dto.Histogram, percentile float64) float64 {
	totalCount := hist.GetSampleCount()
	if totalCount == 0 {
		return 0
	}
	target := float64(totalCount) * percentile
	for _, bucket := range hist.GetBucket() {
		if float64(bucket.GetCumulativeCount()) >= target {
			return bucket.GetUpperBound()
		}
	}
	return 0
}

// GetPeerSyncLatencyStats returns sync round latency statistics for one peer.
func (r *MetricsReader) GetPeerSyncLatencyStats(peer string) (*HistogramStats, error) {
	observer, err := r.metrics.SyncRoundLatency.GetMetricWithLabelValues(peer)
	if err != nil {
		return nil, fmt.Errorf("metrics: sync round latency for peer %s: %w", peer, err)
	}
	return r.GetHistogramStats(observer)
}

// GetAllPeersSyncLatencyStats aggregates sync round latency across every
// given peer, reporting the worst-case (max) P95 across the set.
func (r *MetricsReader) GetAllPeersSyncLatencyStats(peers []string) (*HistogramStats, error) {
	if len(peers) == 0 {
		return &HistogramStats{}, nil
	}

	totalCount := uint64(0)
	totalSum := 0.0
	maxP95 := 0.0
	successfulPeers := 0

	for _, peer := range peers {
		stats, err := r.GetPeerSyncLatencyStats(peer)
		if err != nil {
			continue
		}
		totalCount += stats.Count
		totalSum += stats.Sum
		if stats.P95 > maxP95 {
			maxP95 = stats.P95
		}
		successfulPeers++
	}

	result := &HistogramStats{
		Count: uint64(successfulPeers),
		Sum:   totalSum,
		P95:   maxP95,
	}
	if totalCount > 0 {
		result.Avg = totalSum / float64(totalCount)
	}
	return result, nil
}

// GetHealthRTT returns the last sampled health-probe round-trip time for
// one peer, in seconds.
func (r *MetricsReader) GetHealthRTT(peer string) (float64, error) {
	gauge, err := r.metrics.HealthRTT.GetMetricWithLabelValues(peer)
	if err != nil {
		return 0, fmt.Errorf("metrics: health rtt for peer %s: %w", peer, err)
	}
	return r.GetGaugeValue(gauge)
}

// GetPeerLinkScore returns the current 0..1 link quality score for one peer.
func (r *MetricsReader) GetPeerLinkScore(peer string) (float64, error) {
	gauge, err := r.metrics.PeerLinkScore.GetMetricWithLabelValues(peer)
	if err != nil {
		return 0, fmt.Errorf("metrics: link score for peer %s: %w", peer, err)
	}
	return r.GetGaugeValue(gauge)
}

// GetAverageHealthRTT averages the last sampled RTT across every given
// peer, skipping peers with no sample yet.
func (r *MetricsReader) GetAverageHealthRTT(peers []string) float64 {
	if len(peers) == 0 {
		return 0
	}
	total := 0.0
	valid := 0
	for _, peer := range peers {
		rtt, err := r.GetHealthRTT(peer)
		if err != nil || rtt <= 0 {
			continue
		}
		total += rtt
		valid++
	}
	if valid == 0 {
		return 0
	}
	return total / float64(valid)
}
