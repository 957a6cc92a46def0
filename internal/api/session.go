package api

import (
	"context"
	"net/url"

	"wgpair/internal/model"
	"wgpair/internal/orchestrator"
)

// Generate asks the service to create a fresh pair under the given policy.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (SessionResponse, error) {
	var resp SessionResponse
	err := c.postJSON(ctx, "generate", "/generate", req, &resp)
	return resp, err
}

func (c *Client) Session(ctx context.Context) (SessionResponse, error) {
	var resp SessionResponse
	err := c.getJSON(ctx, "session", "/session", &resp)
	return resp, err
}

// RequestSecret obtains a new pre-shared secret and splices it into the
// service's pending pair.
func (c *Client) RequestSecret(ctx context.Context) (SecretResponse, error) {
	var resp SecretResponse
	err := c.postJSON(ctx, "psk", "/psk", nil, &resp)
	return resp, err
}

func (c *Client) ConnectBoth(ctx context.Context) (orchestrator.Run, error) {
	var resp orchestrator.Run
	err := c.postJSON(ctx, "connect-both", "/connect-both", nil, &resp)
	return resp, err
}

// SessionUp activates one node with the pending config held by the service.
func (c *Client) SessionUp(ctx context.Context, node model.Node) (NodeStatusResponse, error) {
	var resp NodeStatusResponse
	err := c.postJSON(ctx, "session activate", "/session/"+url.PathEscape(node.String())+"/activate", nil, &resp)
	return resp, err
}

func (c *Client) SessionDown(ctx context.Context, node model.Node) (NodeStatusResponse, error) {
	var resp NodeStatusResponse
	err := c.postJSON(ctx, "session deactivate", "/session/"+url.PathEscape(node.String())+"/deactivate", nil, &resp)
	return resp, err
}

func (c *Client) GenerateKeys(ctx context.Context) (KeyPairResponse, error) {
	var resp KeyPairResponse
	err := c.postJSON(ctx, "generate-keys", "/generate-keys", nil, &resp)
	return resp, err
}
