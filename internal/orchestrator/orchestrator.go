// Package orchestrator sequences bring-up and tear-down across the local
// node and its remote peer.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wgpair/internal/model"
	"wgpair/internal/peerconf"
	"wgpair/internal/psk"
)

// NodeController is implemented by lifecycle.Manager (local) and
// api.RemoteNode (remote).
type NodeController interface {
	Node() model.Node
	Activate(ctx context.Context, configText string) (model.MachineStatus, error)
	Deactivate(ctx context.Context) (model.MachineStatus, error)
	QueryStatus(ctx context.Context) (model.MachineStatus, error)
}

// SecretSource hands out pre-shared secrets.
type SecretSource interface {
	RequestSecret(ctx context.Context) (psk.Secret, error)
}

// Orchestrator holds the pending pair and drives both nodes.
type Orchestrator struct {
	local   NodeController
	remote  NodeController
	secrets SecretSource
	newID   func() string

	// runMu keeps ConnectBoth runs and single-node actions from interleaving.
	runMu sync.Mutex

	mu      sync.Mutex
	pair    *peerconf.Pair
	secret  *psk.Secret
	configs map[model.Node]string
}

func New(local, remote NodeController, secrets SecretSource) (*Orchestrator, error) {
	if local == nil || remote == nil {
		return nil, fmt.Errorf("both node controllers are required")
	}
	if local.Node() == remote.Node() {
		return nil, fmt.Errorf("local and remote controllers both manage node %s", local.Node())
	}
	return &Orchestrator{
		local:   local,
		remote:  remote,
		secrets: secrets,
		newID:   uuid.NewString,
	}, nil
}

func (o *Orchestrator) LocalNode() model.Node { return o.local.Node() }

func (o *Orchestrator) RemoteNode() model.Node { return o.remote.Node() }

func (o *Orchestrator) controller(n model.Node) (NodeController, error) {
	switch n {
	case o.local.Node():
		return o.local, nil
	case o.remote.Node():
		return o.remote, nil
	}
	return nil, &model.ValidationError{Field: "node", Message: fmt.Sprintf("unknown node %q", n)}
}

// Session is a copy of the pending state.
type Session struct {
	Pair    *peerconf.Pair
	Secret  *psk.Secret
	Configs map[model.Node]string
}

func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Session{Configs: make(map[model.Node]string, len(o.configs))}
	if o.pair != nil {
		p := *o.pair
		s.Pair = &p
	}
	if o.secret != nil {
		sec := *o.secret
		s.Secret = &sec
	}
	for n, c := range o.configs {
		s.Configs[n] = c
	}
	return s
}

// GenerateConfigs replaces the pending pair. Both nodes are brought down
// first, remote then local (best effort), and any held secret is discarded.
func (o *Orchestrator) GenerateConfigs(ctx context.Context, policy peerconf.Policy) (peerconf.Pair, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	pair, err := peerconf.Generate(policy)
	if err != nil {
		return peerconf.Pair{}, err
	}
	for _, c := range []NodeController{o.remote, o.local} {
		if _, err := c.Deactivate(ctx); err != nil {
			zap.S().Warnf("generate: best-effort deactivate of node %s failed: %s", c.Node(), err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pair = &pair
	o.secret = nil
	o.configs = map[model.Node]string{
		model.NodeA: pair.A.Render(),
		model.NodeB: pair.B.Render(),
	}
	zap.S().Infof("generated new pair (%s)", policy.Mode)
	return pair, nil
}

// RequestSecret obtains a new secret and splices it into the pending pair.
func (o *Orchestrator) RequestSecret(ctx context.Context) (psk.Secret, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.requestSecretLocked(ctx)
}

func (o *Orchestrator) requestSecretLocked(ctx context.Context) (psk.Secret, error) {
	if o.secrets == nil {
		return psk.Secret{}, &model.CryptoHelperError{Err: fmt.Errorf("no secret source configured")}
	}
	secret, err := o.secrets.RequestSecret(ctx)
	if err != nil {
		return psk.Secret{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.secret = &secret
	if o.pair != nil {
		if err := o.spliceLocked(); err != nil {
			return psk.Secret{}, err
		}
	}
	return secret, nil
}

func (o *Orchestrator) spliceLocked() error {
	a, b, err := psk.SplicePair(o.configs[model.NodeA], o.configs[model.NodeB], o.secret.Base64)
	if err != nil {
		return err
	}
	o.configs[model.NodeA], o.configs[model.NodeB] = a, b
	p := o.pair.WithPresharedKey(o.secret.Base64)
	o.pair = &p
	return nil
}

func (o *Orchestrator) configFor(n model.Node) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pair == nil {
		return "", &model.ValidationError{Field: "config", Message: "no configuration generated"}
	}
	return o.configs[n], nil
}

// Activate brings one node up with its pending config.
func (o *Orchestrator) Activate(ctx context.Context, n model.Node) (model.MachineStatus, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	c, err := o.controller(n)
	if err != nil {
		return "", err
	}
	text, err := o.configFor(n)
	if err != nil {
		return "", err
	}
	return c.Activate(ctx, text)
}

// Deactivate brings one node down.
func (o *Orchestrator) Deactivate(ctx context.Context, n model.Node) (model.MachineStatus, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	c, err := o.controller(n)
	if err != nil {
		return "", err
	}
	return c.Deactivate(ctx)
}

// Refresh polls both nodes. A node that cannot be polled is reported
// DISCONNECTED and its error is returned alongside.
func (o *Orchestrator) Refresh(ctx context.Context) (map[model.Node]model.MachineStatus, model.LinkStatus, error) {
	statuses := make(map[model.Node]model.MachineStatus, 2)
	var firstErr error
	for _, c := range []NodeController{o.remote, o.local} {
		s, err := c.QueryStatus(ctx)
		if err != nil {
			s = model.StatusDisconnected
			if firstErr == nil {
				firstErr = fmt.Errorf("query node %s: %w", c.Node(), err)
			}
		}
		statuses[c.Node()] = s
	}
	return statuses, model.DeriveLink(statuses[model.NodeA], statuses[model.NodeB]), firstErr
}
