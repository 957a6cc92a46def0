package metrics

import (
	"math"
	"sort"
	"time"

	"wgpair/internal/model"
)

// Summary is a basic statistics snapshot. Fallback samples are counted but
// left out of the rate figures.
type Summary struct {
	Count         int
	FallbackCount int
	From          time.Time
	To            time.Time
	AvgBps        float64
	P95Bps        float64
	MinBps        float64
	MaxBps        float64
}

// Summarize computes summary metrics for samples in a time window.
func Summarize(items []RateSample, since time.Time) Summary {
	var s Summary
	values := make([]float64, 0, len(items))
	var sum float64
	for _, m := range items {
		if m.Timestamp.Before(since) {
			continue
		}
		if s.Count == 0 || m.Timestamp.Before(s.From) {
			s.From = m.Timestamp
		}
		if s.Count == 0 || m.Timestamp.After(s.To) {
			s.To = m.Timestamp
		}
		s.Count++
		if m.Fallback {
			s.FallbackCount++
			continue
		}
		values = append(values, m.RateBps)
		sum += m.RateBps
	}
	if len(values) == 0 {
		return s
	}

	sort.Float64s(values)
	s.AvgBps = sum / float64(len(values))
	s.P95Bps = percentile(values, 0.95)
	s.MinBps = values[0]
	s.MaxBps = values[len(values)-1]
	return s
}

// ByNode splits samples per node, keeping their order.
func ByNode(items []RateSample) map[model.Node][]RateSample {
	out := make(map[model.Node][]RateSample)
	for _, m := range items {
		out[m.Node] = append(out[m.Node], m)
	}
	return out
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
