package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wgpair/internal/model"
	"wgpair/internal/stats"
	"wgpair/internal/wireguard"
)

type fakeMechanism struct {
	mu          sync.Mutex
	up          bool
	activateErr error
	deactErr    error
	statusErr   error
	counters    model.Counters
	countersErr error
	calls       []string
	block       chan struct{}
	entered     chan struct{}
}

func (f *fakeMechanism) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeMechanism) Activate(_ context.Context, iface, configText string) error {
	f.record("activate " + iface)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	f.up = true
	return nil
}

func (f *fakeMechanism) Deactivate(_ context.Context, iface string) error {
	f.record("deactivate " + iface)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deactErr != nil {
		return f.deactErr
	}
	f.up = false
	return nil
}

func (f *fakeMechanism) IsUp(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up, f.statusErr
}

func (f *fakeMechanism) Counters(context.Context, string) (model.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters, f.countersErr
}

var _ Mechanism = (*fakeMechanism)(nil)

func TestActivate_Success(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{}
	m := New(model.NodeA, mech)

	status, err := m.Activate(context.Background(), "[Interface]\n")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if status != model.StatusConnected || m.Status() != model.StatusConnected {
		t.Fatalf("status=%s cached=%s", status, m.Status())
	}
	if len(mech.calls) != 1 || mech.calls[0] != "activate wg0" {
		t.Fatalf("calls=%v", mech.calls)
	}
}

func TestActivate_EmptyConfig(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{}
	m := New(model.NodeB, mech)

	_, err := m.Activate(context.Background(), "  \n")
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(mech.calls) != 0 {
		t.Fatalf("mechanism called: %v", mech.calls)
	}
}

func TestActivate_FailureRevertsStatus(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{activateErr: &model.ExternalToolError{Op: "activate", Interface: "wg0", Detail: "permission denied"}}
	m := New(model.NodeA, mech)

	status, err := m.Activate(context.Background(), "[Interface]\n")
	var toolErr *model.ExternalToolError
	if !errors.As(err, &toolErr) || toolErr.Detail != "permission denied" {
		t.Fatalf("err=%v", err)
	}
	if status != model.StatusDisconnected || m.Status() != model.StatusDisconnected {
		t.Fatalf("status=%s cached=%s", status, m.Status())
	}

	mech.activateErr = errors.New("plain failure")
	_, err = m.Activate(context.Background(), "[Interface]\n")
	if !errors.As(err, &toolErr) {
		t.Fatalf("plain mechanism error not wrapped: %v", err)
	}
}

func TestActivateDeactivate_Idempotent(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{activateErr: wireguard.ErrAlreadyActive}
	m := New(model.NodeA, mech)

	if _, err := m.Activate(context.Background(), "[Interface]\n"); err != nil {
		t.Fatalf("first Activate: %v", err)
	}
	status, err := m.Activate(context.Background(), "[Interface]\n")
	if err != nil || status != model.StatusConnected {
		t.Fatalf("already active: status=%s err=%v", status, err)
	}

	mech.deactErr = wireguard.ErrAlreadyInactive
	status, err = m.Deactivate(context.Background())
	if err != nil || status != model.StatusDisconnected {
		t.Fatalf("first Deactivate: status=%s err=%v", status, err)
	}
	status, err = m.Deactivate(context.Background())
	if err != nil || status != model.StatusDisconnected {
		t.Fatalf("already inactive: status=%s err=%v", status, err)
	}
}

func TestDeactivate_FailureRevertsStatus(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{}
	m := New(model.NodeA, mech)
	if _, err := m.Activate(context.Background(), "[Interface]\n"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	mech.deactErr = errors.New("device busy")
	status, err := m.Deactivate(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if status != model.StatusConnected {
		t.Fatalf("status=%s", status)
	}
}

func TestActivate_ConnectingVisibleWhileInFlight(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := New(model.NodeA, mech)

	done := make(chan error, 1)
	go func() {
		_, err := m.Activate(context.Background(), "[Interface]\n")
		done <- err
	}()

	<-mech.entered
	if got := m.Status(); got != model.StatusConnecting {
		t.Fatalf("in-flight status=%s", got)
	}
	close(mech.block)
	if err := <-done; err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := m.Status(); got != model.StatusConnected {
		t.Fatalf("final status=%s", got)
	}
}

func TestQueryStatus_HealsCache(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{up: true}
	m := New(model.NodeB, mech)

	status, err := m.QueryStatus(context.Background())
	if err != nil || status != model.StatusConnected {
		t.Fatalf("status=%s err=%v", status, err)
	}

	mech.up = false
	status, err = m.QueryStatus(context.Background())
	if err != nil || status != model.StatusDisconnected {
		t.Fatalf("status=%s err=%v", status, err)
	}

	mech.statusErr = errors.New("ip: command not found")
	_, err = m.QueryStatus(context.Background())
	var toolErr *model.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %v", err)
	}
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestStats_ResetOnTransitions(t *testing.T) {
	t.Parallel()

	clock := &stepClock{t: time.UnixMilli(1_000_000)}
	mech := &fakeMechanism{counters: model.Counters{BytesReceived: 500, BytesSent: 500}}
	m := New(model.NodeA, mech, WithClock(clock.Now), WithHistorySize(5))

	if _, err := m.Activate(context.Background(), "[Interface]\n"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if m.Baseline() != (stats.Sample{}) {
		t.Fatalf("baseline not reset on connect: %+v", m.Baseline())
	}

	snap, err := m.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.TransferRate != 0 {
		t.Fatalf("first rate after connect=%v", snap.TransferRate)
	}

	clock.Advance(2 * time.Second)
	mech.counters = model.Counters{BytesReceived: 2500, BytesSent: 2500}
	snap, err = m.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.TransferRate != 2000 || len(snap.History) != 2 {
		t.Fatalf("snapshot=%+v", snap)
	}

	if _, err := m.Deactivate(context.Background()); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if m.Baseline() != (stats.Sample{}) {
		t.Fatalf("baseline not cleared on disconnect: %+v", m.Baseline())
	}
	clock.Advance(2 * time.Second)
	snap, err = m.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(snap.History) != 1 || snap.PeakRate != 0 {
		t.Fatalf("history not cleared: %+v", snap)
	}
}

func TestStats_FailureIsSurfaced(t *testing.T) {
	t.Parallel()

	mech := &fakeMechanism{countersErr: errors.New("wg: permission denied")}
	m := New(model.NodeA, mech)

	_, err := m.Stats(context.Background())
	var toolErr *model.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %v", err)
	}
}
