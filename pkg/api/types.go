package api

import (
	"factory-wgserver/pkg/daemon"
	"factory-wgserver/pkg/model"
)

// StatusResponse is returned by /api/v1/status.
type StatusResponse struct {
	daemon.Status
	ConnectedPeers int    `json:"connectedPeers"`
	Version        string `json:"version"`
}

// PeersResponse is returned by /api/v1/peers: the live table with
// origins resolved against the current manual store.
type PeersResponse struct {
	Interface string       `json:"interface"`
	Peers     []model.Peer `json:"peers"`
}

// ManualPeerRequest adds a manual peer.
type ManualPeerRequest struct {
	PublicKey string `json:"publicKey"`
	Address   string `json:"address"`
	Label     string `json:"label,omitempty"`
}

// PolicyRequest flips the device-to-device policy.
type PolicyRequest struct {
	Enabled bool `json:"enabled"`
}
