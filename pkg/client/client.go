// Package client is a thin HTTP client for the node's local control API,
// used by the CLI.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"meshnode/internal/meshnode/api"
	"meshnode/internal/meshnode/core"
	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/identity"
)

// Client talks to one node's control API.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the API at addr ("host:port").
func New(addr string, timeout time.Duration) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: timeout},
	}
}

// Status fetches the node status.
func (c *Client) Status() (*core.Status, error) {
	var st core.Status
	if err := c.do(http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Networks lists all joined networks.
func (c *Client) Networks() ([]api.NetworkInfo, error) {
	var infos []api.NetworkInfo
	if err := c.do(http.MethodGet, "/networks", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Network fetches one joined network.
func (c *Client) Network(nwid domain.NetworkID) (*api.NetworkInfo, error) {
	var info api.NetworkInfo
	if err := c.do(http.MethodGet, "/networks/"+nwid.String(), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Join joins a network, optionally pinning its controller fingerprint.
func (c *Client) Join(nwid domain.NetworkID, fp *identity.Fingerprint) (*api.NetworkInfo, error) {
	var info api.NetworkInfo
	req := api.JoinRequest{ControllerFingerprint: fp}
	if err := c.do(http.MethodPost, "/networks/"+nwid.String(), req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Leave leaves a network.
func (c *Client) Leave(nwid domain.NetworkID) error {
	return c.do(http.MethodDelete, "/networks/"+nwid.String(), nil, nil)
}

// SetSettings replaces a network's local policy settings.
func (c *Client) SetSettings(nwid domain.NetworkID, ls domain.NetworkLocalSettings) (*api.NetworkInfo, error) {
	var info api.NetworkInfo
	if err := c.do(http.MethodPost, "/networks/"+nwid.String()+"/settings", ls, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Peers lists all known peers.
func (c *Client) Peers() ([]api.PeerInfo, error) {
	var infos []api.PeerInfo
	if err := c.do(http.MethodGet, "/peers", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("node API unreachable at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d from %s %s", resp.StatusCode, method, path)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
