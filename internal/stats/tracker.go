package stats

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"wgpair/internal/model"
)

// Snapshot is what a stats poll reports for one node.
type Snapshot struct {
	Node            model.Node `json:"node"`
	Interface       string     `json:"interface"`
	BytesReceived   uint64     `json:"bytesReceived"`
	BytesSent       uint64     `json:"bytesSent"`
	PacketsReceived uint64     `json:"packetsReceived"`
	PacketsSent     uint64     `json:"packetsSent"`
	LastHandshake   string     `json:"lastHandshake"`
	TransferRate    float64    `json:"transferRate"`
	PeakRate        float64    `json:"peakRate"`
	History         []float64  `json:"history"`
	SampledAt       time.Time  `json:"sampledAt"`
}

// Tracker owns one node's counter baseline and rate history.
type Tracker struct {
	mu      sync.Mutex
	prev    Sample
	history *History
	now     func() time.Time
}

func NewTracker(historySize int, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{history: NewHistory(historySize), now: now}
}

// Reset drops the baseline back to {0,0,0} and clears the history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prev = Sample{}
	t.history.Clear()
}

// Baseline returns the retained previous sample.
func (t *Tracker) Baseline() Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prev
}

// Observe derives a rate from c against the baseline, records it and makes c
// the new baseline.
func (t *Tracker) Observe(node model.Node, c model.Counters) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cur := Sample{BytesReceived: c.BytesReceived, BytesSent: c.BytesSent, TimestampMillis: now.UnixMilli()}
	rate := Rate(t.prev, cur)
	t.prev = cur
	t.history.Push(rate)
	zap.S().Debugf("node %s rate %.1f B/s (rx=%d tx=%d)", node, rate, c.BytesReceived, c.BytesSent)

	return Snapshot{
		Node:            node,
		Interface:       node.Interface(),
		BytesReceived:   c.BytesReceived,
		BytesSent:       c.BytesSent,
		PacketsReceived: c.PacketsReceived,
		PacketsSent:     c.PacketsSent,
		LastHandshake:   FormatHandshakeAge(c.LastHandshake, now),
		TransferRate:    rate,
		PeakRate:        t.history.Peak(),
		History:         t.history.Values(),
		SampledAt:       now.UTC(),
	}
}
