package metrics

import (
	"sync"

	"wgpair/internal/monitor"
)

// Recorder appends monitor stats events to a CSV file.
type Recorder struct {
	path string
	mu   sync.Mutex
}

func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

// Record stores e if it is a stats event with a snapshot. Fallback events
// keep the stale snapshot's numbers and are flagged as such.
func (r *Recorder) Record(e monitor.Event) error {
	if e.Kind != monitor.KindStats || e.Snapshot == nil {
		return nil
	}
	s := RateSample{
		Timestamp:     e.At,
		Node:          e.Node,
		Interface:     e.Snapshot.Interface,
		BytesReceived: e.Snapshot.BytesReceived,
		BytesSent:     e.Snapshot.BytesSent,
		RateBps:       e.Snapshot.TransferRate,
		PeakBps:       e.Snapshot.PeakRate,
		Fallback:      e.Fallback,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return AppendCSV(r.path, []RateSample{s})
}
