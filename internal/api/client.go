package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wgpair/internal/model"
	"wgpair/internal/stats"
)

// Client is a thin HTTP client for a peer node's API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:3001).
// A missing scheme defaults to http and a missing /api suffix is appended.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: NormalizeBaseURL(baseURL),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func NormalizeBaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if !strings.HasSuffix(addr, "/api") {
		addr += "/api"
	}
	return addr
}

func (c *Client) BaseURL() string { return c.baseURL }

// Activate brings the node's interface up with configText.
func (c *Client) Activate(ctx context.Context, node model.Node, configText string) (NodeStatusResponse, error) {
	var resp NodeStatusResponse
	err := c.postJSON(ctx, "activate", "/activate", ActivateRequest{Node: node.String(), Config: configText}, &resp)
	return resp, err
}

// Deactivate tears the node's interface down.
func (c *Client) Deactivate(ctx context.Context, node model.Node) (NodeStatusResponse, error) {
	var resp NodeStatusResponse
	err := c.postJSON(ctx, "deactivate", "/deactivate", DeactivateRequest{Node: node.String()}, &resp)
	return resp, err
}

// Status fetches the node's ground-truth status.
func (c *Client) Status(ctx context.Context, node model.Node) (NodeStatusResponse, error) {
	var resp NodeStatusResponse
	err := c.getJSON(ctx, "status", "/status/"+url.PathEscape(node.String()), &resp)
	return resp, err
}

// Stats fetches the node's counters and derived rate.
func (c *Client) Stats(ctx context.Context, node model.Node) (stats.Snapshot, error) {
	var resp stats.Snapshot
	err := c.getJSON(ctx, "stats", "/stats/"+url.PathEscape(node.String()), &resp)
	return resp, err
}

// NetworkIP asks the peer where it can be reached.
func (c *Client) NetworkIP(ctx context.Context) (NetworkIPResponse, error) {
	var resp NetworkIPResponse
	err := c.getJSON(ctx, "network-ip", "/network-ip", &resp)
	return resp, err
}

func (c *Client) postJSON(ctx context.Context, op, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return c.remoteError(op, path, 0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, path, out)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return c.remoteError(op, path, 0, "", err)
	}
	return c.do(req, op, path, out)
}

func (c *Client) do(req *http.Request, op, path string, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return c.remoteError(op, path, 0, "", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg, detail := decodeErrorBody(body)
		if msg != "" {
			return c.remoteError(op, path, res.StatusCode, detail, fmt.Errorf("request failed: %s: %s", res.Status, msg))
		}
		return c.remoteError(op, path, res.StatusCode, detail, fmt.Errorf("request failed: %s", res.Status))
	}

	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	if err := decoder.Decode(out); err != nil {
		return c.remoteError(op, path, res.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) remoteError(op, path string, status int, detail string, err error) error {
	return &model.RemoteCoordinationError{Op: op, URL: c.baseURL + path, StatusCode: status, Detail: detail, Err: err}
}

func decodeErrorBody(body []byte) (string, string) {
	var e ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error, e.Details
	}
	return strings.TrimSpace(string(body)), ""
}
