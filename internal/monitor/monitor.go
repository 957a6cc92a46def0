// Package monitor polls node status and, while the link is established,
// transfer statistics.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wgpair/internal/model"
	"wgpair/internal/stats"
)

// Source is a node that can be polled, local or remote.
type Source interface {
	Node() model.Node
	QueryStatus(ctx context.Context) (model.MachineStatus, error)
	Stats(ctx context.Context) (stats.Snapshot, error)
}

type EventKind string

const (
	KindStatus EventKind = "status"
	KindStats  EventKind = "stats"
)

// Event is delivered to the handler after every poll. A stats event with
// Fallback set carries the last real snapshot (or none) and the poll error;
// its numbers are never synthesized.
type Event struct {
	Kind     EventKind
	Node     model.Node
	Status   model.MachineStatus
	Link     model.LinkStatus
	Snapshot *stats.Snapshot
	Fallback bool
	Err      error
	At       time.Time
}

// Monitor drives the polling loops.
type Monitor struct {
	sources        []Source
	statusInterval time.Duration
	statsInterval  time.Duration

	mu      sync.Mutex
	handler func(Event)
}

func New(sources []Source, statusInterval, statsInterval time.Duration, handler func(Event)) *Monitor {
	if handler == nil {
		handler = func(Event) {}
	}
	return &Monitor{
		sources:        sources,
		statusInterval: statusInterval,
		statsInterval:  statsInterval,
		handler:        handler,
	}
}

type statusUpdate struct {
	node   model.Node
	status model.MachineStatus
	err    error
}

// Run polls until ctx is cancelled. Every node has its own status loop; the
// stats task exists only while both nodes report CONNECTED.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	updates := make(chan statusUpdate)

	for _, src := range m.sources {
		src := src
		g.Go(func() error {
			Every(ctx, m.statusInterval, func(ctx context.Context) {
				status, err := src.QueryStatus(ctx)
				select {
				case updates <- statusUpdate{node: src.Node(), status: status, err: err}:
				case <-ctx.Done():
				}
			})
			return nil
		})
	}
	g.Go(func() error {
		m.coordinate(ctx, updates)
		return nil
	})
	return g.Wait()
}

func (m *Monitor) coordinate(ctx context.Context, updates <-chan statusUpdate) {
	statuses := make(map[model.Node]model.MachineStatus, len(m.sources))
	var statsTask *Task
	defer func() {
		if statsTask != nil {
			statsTask.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if u.err != nil {
				zap.S().Debugf("status poll of node %s failed: %s", u.node, u.err)
			} else {
				statuses[u.node] = u.status
			}
			link := model.DeriveLink(statuses[model.NodeA], statuses[model.NodeB])
			m.emit(Event{Kind: KindStatus, Node: u.node, Status: statuses[u.node], Link: link, Err: u.err, At: time.Now()})

			switch {
			case link == model.LinkEstablished && statsTask == nil:
				zap.S().Infof("link established; polling stats every %s", m.statsInterval)
				statsTask = StartTask(ctx, m.statsInterval, m.statsJobs()...)
			case link != model.LinkEstablished && statsTask != nil:
				zap.S().Infof("link down; stats polling stopped")
				statsTask.Stop()
				statsTask = nil
			}
		}
	}
}

func (m *Monitor) statsJobs() []func(context.Context) {
	jobs := make([]func(context.Context), 0, len(m.sources))
	for _, src := range m.sources {
		src := src
		var last *stats.Snapshot
		jobs = append(jobs, func(ctx context.Context) {
			snap, err := src.Stats(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				m.emit(Event{Kind: KindStats, Node: src.Node(), Snapshot: last, Fallback: true, Err: err, At: time.Now()})
				return
			}
			last = &snap
			m.emit(Event{Kind: KindStats, Node: src.Node(), Snapshot: &snap, At: time.Now()})
		})
	}
	return jobs
}

func (m *Monitor) emit(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler(e)
}
