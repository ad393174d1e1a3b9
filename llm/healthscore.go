package llm

import "math"

// f implements §4.3's latency-to-score decay: linear falloff from 1 at x=0
// to 0 at x=cap, clamped at 0 beyond cap.
func f(x, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	v := 1 - x/cap
	if v < 0 {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func successRate(success, errorCount int64) float64 {
	total := success + errorCount
	if total == 0 {
		return 1
	}
	return float64(success) / float64(total)
}

func healthStateScore(h HealthState) float64 {
	switch h {
	case HealthHealthy:
		return 1
	case HealthDegraded:
		return 0.5
	default:
		return 0
	}
}

// ProviderScore computes §4.3's Provider composite score in [0,1] from the
// provider's aggregate metrics and its live utilization (0..1, where 1 is
// fully saturated against RateLimitRPM). Recomputed fresh on every call —
// there is no cache.
func ProviderScore(m ProviderMetrics, utilization float64) float64 {
	latencyScore := 0.4*f(m.LatencyP50Millis, 3000) +
		0.4*f(m.LatencyP95Millis, 8000) +
		0.2*f(m.AvgLatencyMillis, 5000)

	consistencyScore := math.Max(0, 1-math.Abs(m.LatencyP95Millis-m.LatencyP50Millis)/1000)
	throughputScore := math.Min(1, m.RequestsPerSecond/100)
	capacityScore := math.Max(0, 1-utilization)

	score := 0.25*successRate(m.SuccessCount, m.ErrorCount) +
		0.25*latencyScore +
		0.15*healthStateScore(m.Health) +
		0.05*clamp01(m.UptimeRatio) +
		0.1*throughputScore +
		0.05*capacityScore +
		0.05*consistencyScore

	return clamp01(score)
}

// SubProviderScore computes §4.3's SubProvider composite score. util holds
// the three independently-tracked utilization ratios (0..1 each, where
// tokenUtil already accounts for the candidate request's estTokens);
// capacityScore penalizes the worst (highest) of the three.
func SubProviderScore(m SubProviderMetrics, availability bool, util SubProviderUtilization) float64 {
	latencyScore := f(m.AvgLatencyMillis, 5000)

	worst := math.Max(util.RPM, math.Max(util.TPM, util.Concurrency))
	capacityScore := math.Max(0, 1-worst)

	avail := 0.0
	if availability {
		avail = 1
	}

	score := 0.25*successRate(m.SuccessCount, m.ErrorCount) +
		0.25*latencyScore +
		0.15*clamp01(m.HealthScore) +
		0.15*avail +
		0.2*capacityScore

	return clamp01(score)
}

// SubProviderUtilization is the three capacity dimensions §4.3's
// SubProvider-score capacityScore penalizes the worst of.
type SubProviderUtilization struct {
	RPM         float64
	TPM         float64
	Concurrency float64
}

// Utilization computes the three ratios from a CapacityGate's current
// window state against the sub-provider's configured caps, folding the
// candidate request's estTokens into the TPM ratio per §4.3.
func Utilization(sp *SubProvider, gate *CapacityGate, estTokens int) SubProviderUtilization {
	requests, tokens, concurrent := gate.ObserveWindows()

	ratio := func(used, max int) float64 {
		if max <= 0 {
			return 0
		}
		return float64(used) / float64(max)
	}

	return SubProviderUtilization{
		RPM:         ratio(requests, sp.MaxRPM),
		TPM:         ratio(tokens+estTokens, sp.MaxTPM),
		Concurrency: ratio(concurrent, sp.MaxConcurrentRequests),
	}
}
