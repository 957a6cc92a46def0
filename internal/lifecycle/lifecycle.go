// Package lifecycle owns one node's interface state.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"wgpair/internal/model"
	"wgpair/internal/stats"
)

// Mechanism is the activation boundary (wg-quick, ip, wg).
type Mechanism interface {
	Activate(ctx context.Context, iface, configText string) error
	Deactivate(ctx context.Context, iface string) error
	IsUp(ctx context.Context, iface string) (bool, error)
	Counters(ctx context.Context, iface string) (model.Counters, error)
}

type Option func(*Manager)

func WithHistorySize(n int) Option {
	return func(m *Manager) { m.historySize = n }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the state machine of one node:
//
//	DISCONNECTED --activate--> CONNECTING --ok--> CONNECTED
//	CONNECTED --deactivate--> CONNECTING --ok--> DISCONNECTED
//
// and CONNECTING --failure--> the status held before the call.
type Manager struct {
	node model.Node
	mech Mechanism

	historySize int
	now         func() time.Time

	// opMu serializes mechanism calls for this interface.
	opMu sync.Mutex

	mu      sync.Mutex
	status  model.MachineStatus
	tracker *stats.Tracker
}

func New(node model.Node, mech Mechanism, opts ...Option) *Manager {
	m := &Manager{
		node:        node,
		mech:        mech,
		historySize: stats.DefaultHistorySize,
		now:         time.Now,
		status:      model.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tracker = stats.NewTracker(m.historySize, m.now)
	return m
}

func (m *Manager) Node() model.Node { return m.node }

func (m *Manager) Interface() string { return m.node.Interface() }

// Status returns the cached status, which may be CONNECTING while a call is
// in flight.
func (m *Manager) Status() model.MachineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Baseline exposes the retained counter sample.
func (m *Manager) Baseline() stats.Sample {
	return m.tracker.Baseline()
}

type pending struct {
	prev   model.MachineStatus
	target model.MachineStatus
}

func (m *Manager) begin(target model.MachineStatus) pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := pending{prev: m.status, target: target}
	m.status = model.StatusConnecting
	return p
}

// settle leaves CONNECTING: to the target on success, back to prev otherwise.
func (m *Manager) settle(p pending, err error) model.MachineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.status = p.prev
		return m.status
	}
	m.status = p.target
	m.tracker.Reset()
	return m.status
}

// Activate applies configText. An interface that is already up counts as success.
func (m *Manager) Activate(ctx context.Context, configText string) (model.MachineStatus, error) {
	if strings.TrimSpace(configText) == "" {
		return m.Status(), &model.ValidationError{Field: "config", Message: "configuration is empty"}
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	p := m.begin(model.StatusConnected)
	err := m.mech.Activate(ctx, m.Interface(), configText)
	if errors.Is(err, model.ErrAlreadyInDesiredState) {
		zap.S().Infof("node %s: %s already active", m.node, m.Interface())
		err = nil
	}
	status := m.settle(p, err)
	if err != nil {
		zap.S().Warnf("node %s: activate %s failed: %s", m.node, m.Interface(), err)
		return status, asToolError("activate", m.Interface(), err)
	}
	zap.S().Infof("node %s: %s -> %s", m.node, p.prev, status)
	return status, nil
}

// Deactivate tears the interface down. A missing interface counts as success.
func (m *Manager) Deactivate(ctx context.Context) (model.MachineStatus, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	p := m.begin(model.StatusDisconnected)
	err := m.mech.Deactivate(ctx, m.Interface())
	if errors.Is(err, model.ErrAlreadyInDesiredState) {
		zap.S().Infof("node %s: %s already inactive", m.node, m.Interface())
		err = nil
	}
	status := m.settle(p, err)
	if err != nil {
		zap.S().Warnf("node %s: deactivate %s failed: %s", m.node, m.Interface(), err)
		return status, asToolError("deactivate", m.Interface(), err)
	}
	zap.S().Infof("node %s: %s -> %s", m.node, p.prev, status)
	return status, nil
}

// QueryStatus asks the mechanism for ground truth and heals the cache.
func (m *Manager) QueryStatus(ctx context.Context) (model.MachineStatus, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	up, err := m.mech.IsUp(ctx, m.Interface())
	if err != nil {
		return m.Status(), asToolError("query status", m.Interface(), err)
	}
	next := model.StatusDisconnected
	if up {
		next = model.StatusConnected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != next {
		zap.S().Infof("node %s: observed %s (cached %s)", m.node, next, m.status)
		m.status = next
		m.tracker.Reset()
	}
	return m.status, nil
}

// Stats reads the interface counters and derives the current rate.
func (m *Manager) Stats(ctx context.Context) (stats.Snapshot, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	c, err := m.mech.Counters(ctx, m.Interface())
	if err != nil {
		return stats.Snapshot{}, asToolError("read counters", m.Interface(), err)
	}
	return m.tracker.Observe(m.node, c), nil
}

func asToolError(op, iface string, err error) error {
	var toolErr *model.ExternalToolError
	var validationErr *model.ValidationError
	if errors.As(err, &toolErr) || errors.As(err, &validationErr) {
		return err
	}
	return &model.ExternalToolError{Op: op, Interface: iface, Detail: err.Error(), Err: err}
}
