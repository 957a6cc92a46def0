package stats

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"wgpair/internal/model"
)

func TestRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prev Sample
		cur  Sample
		want float64
	}{
		{
			name: "steady",
			prev: Sample{BytesReceived: 1000, BytesSent: 500, TimestampMillis: 1},
			cur:  Sample{BytesReceived: 3000, BytesSent: 1500, TimestampMillis: 2001},
			want: 1500,
		},
		{
			name: "first sample after reset",
			prev: Sample{},
			cur:  Sample{BytesReceived: 9000, BytesSent: 9000, TimestampMillis: 5000},
			want: 0,
		},
		{
			name: "too close",
			prev: Sample{BytesReceived: 0, BytesSent: 0, TimestampMillis: 1000},
			cur:  Sample{BytesReceived: 100, BytesSent: 100, TimestampMillis: 1499},
			want: 0,
		},
		{
			name: "exactly half a second",
			prev: Sample{TimestampMillis: 1000},
			cur:  Sample{BytesReceived: 100, TimestampMillis: 1500},
			want: 200,
		},
		{
			name: "counters went backwards",
			prev: Sample{BytesReceived: 5000, BytesSent: 5000, TimestampMillis: 1000},
			cur:  Sample{BytesReceived: 10, BytesSent: 10, TimestampMillis: 3000},
			want: 0,
		},
	}
	for _, tt := range tests {
		if got := Rate(tt.prev, tt.cur); got != tt.want {
			t.Fatalf("%s: rate=%v want %v", tt.name, got, tt.want)
		}
	}
}

func TestFormatHandshakeAge(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	tests := []struct {
		last time.Time
		want string
	}{
		{last: time.Time{}, want: "Never"},
		{last: time.Unix(0, 0), want: "Never"},
		{last: now.Add(-5 * time.Second), want: "5s ago"},
		{last: now.Add(-59 * time.Second), want: "59s ago"},
		{last: now.Add(-60 * time.Second), want: "1m ago"},
		{last: now.Add(-3599 * time.Second), want: "59m ago"},
		{last: now.Add(-2 * time.Hour), want: "2h ago"},
	}
	for _, tt := range tests {
		if got := FormatHandshakeAge(tt.last, now); got != tt.want {
			t.Fatalf("FormatHandshakeAge(%v)=%q want %q", tt.last, got, tt.want)
		}
	}
}

func TestHistory_BoundedFIFO(t *testing.T) {
	t.Parallel()

	h := NewHistory(30)
	for i := 0; i < 100; i++ {
		h.Push(float64(i))
		if h.Len() > 30 {
			t.Fatalf("len=%d after %d pushes", h.Len(), i+1)
		}
	}
	values := h.Values()
	if values[0] != 70 || values[29] != 99 {
		t.Fatalf("oldest=%v newest=%v", values[0], values[29])
	}
	if h.Peak() != 99 {
		t.Fatalf("peak=%v", h.Peak())
	}

	h.Push(-5)
	if got := h.Values()[29]; got != 0 {
		t.Fatalf("negative rate not clamped: %v", got)
	}

	h.Clear()
	if h.Len() != 0 || h.Peak() != 0 {
		t.Fatalf("clear left %d values", h.Len())
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestTracker_ObserveAndReset(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.UnixMilli(10_000)}
	tr := NewTracker(30, clock.Now)

	first := tr.Observe(model.NodeA, model.Counters{BytesReceived: 1000, BytesSent: 500})
	if first.TransferRate != 0 {
		t.Fatalf("first rate=%v", first.TransferRate)
	}

	clock.t = clock.t.Add(2 * time.Second)
	second := tr.Observe(model.NodeA, model.Counters{BytesReceived: 3000, BytesSent: 1500})
	if second.TransferRate != 1500 {
		t.Fatalf("second rate=%v", second.TransferRate)
	}
	if diff := cmp.Diff([]float64{0, 1500}, second.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if second.PeakRate != 1500 || second.Interface != "wg0" || second.LastHandshake != "Never" {
		t.Fatalf("snapshot=%+v", second)
	}

	// A poll inside the guard still moves the baseline.
	clock.t = clock.t.Add(100 * time.Millisecond)
	third := tr.Observe(model.NodeA, model.Counters{BytesReceived: 4000, BytesSent: 1500})
	if third.TransferRate != 0 {
		t.Fatalf("guarded rate=%v", third.TransferRate)
	}
	if got := tr.Baseline(); got.BytesReceived != 4000 || got.TimestampMillis != clock.t.UnixMilli() {
		t.Fatalf("baseline=%+v", got)
	}

	tr.Reset()
	if got := tr.Baseline(); got != (Sample{}) {
		t.Fatalf("baseline after reset=%+v", got)
	}
	clock.t = clock.t.Add(2 * time.Second)
	after := tr.Observe(model.NodeA, model.Counters{BytesReceived: 90000, BytesSent: 90000})
	if after.TransferRate != 0 || len(after.History) != 1 {
		t.Fatalf("after reset=%+v", after)
	}
}
