// Package registry talks to the factory device registry API. It is the
// only source of truth for which devices should have a VPN peer.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"factory-wgserver/pkg/model"
)

// ErrUnavailable means the registry could not be reached or refused the
// request. The scheduler skips the tick and retries on the next one; the
// client never retries internally.
var ErrUnavailable = errors.New("registry unavailable")

// Fetcher is what the scheduler needs from a registry client.
type Fetcher interface {
	FetchVPNEnabled(ctx context.Context) ([]model.Device, error)
}

// Client queries the factory API over HTTPS with a bearer token.
type Client struct {
	BaseURL string // e.g. https://api.foundries.io
	Factory string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, factory, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Factory: factory,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type deviceList struct {
	Devices []struct {
		Name       string `json:"name"`
		PublicKey  string `json:"public_key"`
		VPNAddress string `json:"vpn_address"`
		VPNEnabled bool   `json:"vpn_enabled"`
		LastSeen   string `json:"last_seen,omitempty"`
	} `json:"devices"`
}

// FetchVPNEnabled returns the devices that should currently have a VPN
// peer, sorted by name. Devices with a missing key or address are skipped
// with a log-free filter; the registry occasionally reports devices whose
// wireguard config has not propagated yet.
func (c *Client) FetchVPNEnabled(ctx context.Context) ([]model.Device, error) {
	url := fmt.Sprintf("%s/ota/devices/?factory=%s", c.BaseURL, c.Factory)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: registry returned %s", ErrUnavailable, resp.Status)
	}

	var list deviceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	out := make([]model.Device, 0, len(list.Devices))
	for _, d := range list.Devices {
		if !d.VPNEnabled || d.PublicKey == "" || d.VPNAddress == "" {
			continue
		}
		dev := model.Device{
			Name:      d.Name,
			PublicKey: d.PublicKey,
			Address:   d.VPNAddress,
		}
		if d.LastSeen != "" {
			if ts, err := time.Parse(time.RFC3339, d.LastSeen); err == nil {
				dev.LastSeen = ts
			}
		}
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
