package api

import (
	"context"

	"wgpair/internal/model"
	"wgpair/internal/stats"
)

// RemoteNode drives a node that lives behind a peer's API, with the same
// method set as a local lifecycle manager.
type RemoteNode struct {
	client *Client
	node   model.Node
}

func (c *Client) Node(n model.Node) *RemoteNode {
	return &RemoteNode{client: c, node: n}
}

func (r *RemoteNode) Node() model.Node { return r.node }

func (r *RemoteNode) Activate(ctx context.Context, configText string) (model.MachineStatus, error) {
	resp, err := r.client.Activate(ctx, r.node, configText)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (r *RemoteNode) Deactivate(ctx context.Context) (model.MachineStatus, error) {
	resp, err := r.client.Deactivate(ctx, r.node)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (r *RemoteNode) QueryStatus(ctx context.Context) (model.MachineStatus, error) {
	resp, err := r.client.Status(ctx, r.node)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (r *RemoteNode) Stats(ctx context.Context) (stats.Snapshot, error) {
	return r.client.Stats(ctx, r.node)
}
