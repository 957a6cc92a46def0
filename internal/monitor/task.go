package monitor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Every calls fn immediately and then once per interval until ctx is done.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if ctx.Err() != nil {
		return
	}
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Task runs periodic jobs until Stop is called or its parent context ends.
type Task struct {
	cancel context.CancelFunc
	g      *errgroup.Group
}

// StartTask runs each job on its own ticker so a slow job does not delay
// the others.
func StartTask(parent context.Context, interval time.Duration, jobs ...func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			Every(ctx, interval, job)
			return nil
		})
	}
	return &Task{cancel: cancel, g: g}
}

// Stop cancels the task and waits until no job is running.
func (t *Task) Stop() {
	t.cancel()
	_ = t.g.Wait()
}
