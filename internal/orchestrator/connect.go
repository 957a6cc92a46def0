package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wgpair/internal/model"
)

// Step is one stage of a ConnectBoth run. Failure of a step that tolerates
// failure is logged and the run continues; any other failure ends the run.
type Step struct {
	Name             string
	ToleratesFailure bool
	Run              func(ctx context.Context, r *Run) error
}

// StepResult records how a step went.
type StepResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Tolerated bool   `json:"tolerated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Run is the state of one ConnectBoth invocation.
type Run struct {
	ID       string                             `json:"runId"`
	Steps    []StepResult                       `json:"steps"`
	Statuses map[model.Node]model.MachineStatus `json:"statuses"`
	Link     model.LinkStatus                   `json:"link"`

	configs map[model.Node]string
}

// connectSteps is the bring-up order: remote before local, each activation
// preceded by an advisory teardown.
func (o *Orchestrator) connectSteps() []Step {
	return []Step{
		{Name: "prepare-secret", Run: o.stepPrepareSecret},
		{Name: "deactivate-remote", ToleratesFailure: true, Run: func(ctx context.Context, _ *Run) error {
			_, err := o.remote.Deactivate(ctx)
			return err
		}},
		{Name: "activate-remote", Run: func(ctx context.Context, r *Run) error {
			_, err := o.remote.Activate(ctx, r.configs[o.remote.Node()])
			if err != nil {
				return fmt.Errorf("activate remote node %s: %w", o.remote.Node(), err)
			}
			return nil
		}},
		{Name: "deactivate-local", ToleratesFailure: true, Run: func(ctx context.Context, _ *Run) error {
			_, err := o.local.Deactivate(ctx)
			return err
		}},
		{Name: "activate-local", Run: func(ctx context.Context, r *Run) error {
			_, err := o.local.Activate(ctx, r.configs[o.local.Node()])
			if err != nil {
				zap.S().Warnf("run %s: node %s may still be up while node %s failed; retry or tear it down manually",
					r.ID, o.remote.Node(), o.local.Node())
				return fmt.Errorf("activate local node %s: %w", o.local.Node(), err)
			}
			return nil
		}},
		{Name: "refresh", ToleratesFailure: true, Run: o.stepRefresh},
	}
}

func (o *Orchestrator) stepPrepareSecret(ctx context.Context, r *Run) error {
	o.mu.Lock()
	havePair, haveSecret := o.pair != nil, o.secret != nil
	o.mu.Unlock()
	if !havePair {
		return &model.ValidationError{Field: "config", Message: "no configuration generated"}
	}
	if !haveSecret {
		if _, err := o.requestSecretLocked(ctx); err != nil {
			return err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.spliceLocked(); err != nil {
		return err
	}
	r.configs = map[model.Node]string{
		model.NodeA: o.configs[model.NodeA],
		model.NodeB: o.configs[model.NodeB],
	}
	return nil
}

func (o *Orchestrator) stepRefresh(ctx context.Context, r *Run) error {
	statuses, link, err := o.Refresh(ctx)
	r.Statuses = statuses
	r.Link = link
	return err
}

// ConnectBoth brings the pending pair live on both nodes. On error the
// returned Run lists every step attempted; nothing is rolled back.
func (o *Orchestrator) ConnectBoth(ctx context.Context) (Run, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.execute(ctx, o.connectSteps())
}

func (o *Orchestrator) execute(ctx context.Context, steps []Step) (Run, error) {
	r := Run{ID: o.newID(), Link: model.LinkDown}
	log := zap.S().With("run", r.ID)
	for _, step := range steps {
		err := step.Run(ctx, &r)
		res := StepResult{Name: step.Name, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
			res.Tolerated = step.ToleratesFailure
		}
		r.Steps = append(r.Steps, res)

		switch {
		case err == nil:
			log.Debugf("step %s ok", step.Name)
		case step.ToleratesFailure:
			log.Warnf("step %s failed (ignored): %s", step.Name, err)
		default:
			log.Errorf("step %s failed: %s", step.Name, err)
			return r, err
		}
	}
	log.Infof("connect-both finished: link %s", r.Link)
	return r, nil
}
