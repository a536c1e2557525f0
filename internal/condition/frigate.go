package condition

import (
	"math"
	"sort"
	"time"
)

// frigateDetectionLabel is the only label Frigate person-detection
// conditions query; it is not user-configurable.
const frigateDetectionLabel = "person"

// nearestRankPercentile returns the nearest-rank percentile (1..100) of
// scores, or (0, false) if scores is empty or p is out of range.
func nearestRankPercentile(scores []float64, p int) (float64, bool) {
	if len(scores) == 0 || p <= 0 || p > 100 {
		return 0, false
	}
	ordered := append([]float64(nil), scores...)
	sort.Float64s(ordered)
	n := len(ordered)
	k := int(math.Ceil(float64(p) / 100.0 * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return ordered[k-1], true
}

func evalFrigate(n FrigatePersonDetected, ctx Context) (bool, Trace) {
	if len(n.Cameras) == 0 {
		return false, Trace{Op: OpFrigatePersonDetected, OK: false, Reason: "missing_cameras"}
	}
	if n.WithinSeconds <= 0 {
		return false, Trace{Op: OpFrigatePersonDetected, OK: false, Reason: "invalid_within_seconds"}
	}
	if n.MinConfidencePct < 0 || n.MinConfidencePct > 100 {
		return false, Trace{Op: OpFrigatePersonDetected, OK: false, Reason: "invalid_threshold"}
	}

	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	since := now.Add(-time.Duration(n.WithinSeconds) * time.Second)

	var candidates []candidateDetection
	if ctx.Repo != nil {
		dets, err := ctx.Repo.ListFrigateDetections(frigateDetectionLabel, n.Cameras, since)
		if err == nil {
			for _, d := range dets {
				candidates = append(candidates, candidateDetection{zones: d.Zones, confidencePct: d.ConfidencePct, observedAt: d.ObservedAt})
			}
		}
	}

	if len(n.Zones) > 0 {
		want := make(map[string]bool, len(n.Zones))
		for _, z := range n.Zones {
			want[z] = true
		}
		filtered := candidates[:0]
		for _, c := range candidates {
			for _, z := range c.zones {
				if want[z] {
					filtered = append(filtered, c)
					break
				}
			}
		}
		candidates = filtered
	}

	scores := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, c.confidencePct)
	}

	if len(scores) > 0 {
		var value float64
		var have bool
		switch n.Aggregation {
		case AggregationLatest:
			latest := candidates[0]
			for _, c := range candidates {
				if c.observedAt.After(latest.observedAt) {
					latest = c
				}
			}
			value, have = latest.confidencePct, true
		case AggregationPercentile:
			value, have = nearestRankPercentile(scores, n.Percentile)
		default:
			value = scores[0]
			for _, s := range scores {
				if s > value {
					value = s
				}
			}
			have = true
		}
		ok := have && value >= n.MinConfidencePct
		return ok, Trace{
			Op: OpFrigatePersonDetected, OK: ok,
			Values: map[string]any{"candidates_count": len(candidates), "value_pct": value, "aggregation": string(n.Aggregation)},
		}
	}

	available := ctx.Repo != nil && ctx.Repo.FrigateIsAvailable(now)
	ok := !available && n.OnUnavailable == OnUnavailableMatch
	return ok, Trace{
		Op: OpFrigatePersonDetected, OK: ok,
		Values: map[string]any{"candidates_count": 0, "available": available, "reason": "no_candidates"},
	}
}

type candidateDetection struct {
	zones         []string
	confidencePct float64
	observedAt    time.Time
}
