// Package stats turns cumulative interface counters into transfer rates.
package stats

import (
	"fmt"
	"time"
)

const (
	// MinInterval guards the rate division against two polls landing too close.
	MinInterval = 500 * time.Millisecond
	// DefaultHistorySize is the number of rates kept for peak/graph display.
	DefaultHistorySize = 30
)

// Sample is the retained "previous" reading of a node. A zero
// TimestampMillis means no baseline exists since the last reset.
type Sample struct {
	BytesReceived   uint64
	BytesSent       uint64
	TimestampMillis int64
}

// Rate returns bytes/second over both directions between prev and cur. It is
// zero for the first sample after a reset, for intervals under MinInterval
// and when the counters went backwards.
func Rate(prev, cur Sample) float64 {
	if prev.TimestampMillis <= 0 {
		return 0
	}
	elapsed := cur.TimestampMillis - prev.TimestampMillis
	if elapsed < MinInterval.Milliseconds() {
		return 0
	}
	delta := float64(cur.BytesReceived+cur.BytesSent) - float64(prev.BytesReceived+prev.BytesSent)
	rate := delta / (float64(elapsed) / 1000)
	if rate < 0 {
		return 0
	}
	return rate
}

// FormatHandshakeAge renders the time since last relative to now.
func FormatHandshakeAge(last, now time.Time) string {
	if last.IsZero() || last.Unix() <= 0 {
		return "Never"
	}
	secs := int64(now.Sub(last) / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	default:
		return fmt.Sprintf("%dh ago", secs/3600)
	}
}

// History is a bounded FIFO of rates. It is not safe for concurrent use.
type History struct {
	size   int
	values []float64
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, values: make([]float64, 0, size)}
}

// Push appends v (clamped to >= 0), evicting the oldest entry when full.
func (h *History) Push(v float64) {
	if v < 0 {
		v = 0
	}
	if len(h.values) == h.size {
		copy(h.values, h.values[1:])
		h.values = h.values[:h.size-1]
	}
	h.values = append(h.values, v)
}

// Values returns a copy, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.values))
	copy(out, h.values)
	return out
}

func (h *History) Len() int { return len(h.values) }

func (h *History) Peak() float64 {
	peak := 0.0
	for _, v := range h.values {
		if v > peak {
			peak = v
		}
	}
	return peak
}

func (h *History) Clear() {
	h.values = h.values[:0]
}
