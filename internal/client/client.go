// Package client talks to a running courier node's HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lazypower/courier/internal/journal"
	"github.com/lazypower/courier/internal/node"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 5 * time.Second
)

// Client talks to the courier server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty URL falls back to the
// COURIER_URL env var, then to http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("COURIER_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// Post sends a POST request with JSON body. Returns response body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the node status.
func (c *Client) Status() (node.Status, error) {
	var st node.Status
	data, err := c.Get("/api/status")
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Bundles fetches the retained bundles.
func (c *Client) Bundles() ([]node.BundleInfo, error) {
	var out struct {
		Bundles []node.BundleInfo `json:"bundles"`
	}
	data, err := c.Get("/api/bundles")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode bundles: %w", err)
	}
	return out.Bundles, nil
}

// Events fetches the most recent journal events.
func (c *Client) Events(limit int) ([]journal.Event, error) {
	var out struct {
		Events []journal.Event `json:"events"`
	}
	data, err := c.Get(fmt.Sprintf("/api/events?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return out.Events, nil
}

// Send queues a bundle for origination on the node.
func (c *Client) Send(destination string, payload []byte, lifetime time.Duration) error {
	req := map[string]string{"destination": destination}
	if isText(payload) {
		req["payload"] = string(payload)
	} else {
		req["payload_base64"] = encodeBase64(payload)
	}
	if lifetime > 0 {
		req["lifetime"] = lifetime.String()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	_, err = c.Post("/api/bundles", body)
	return err
}
