package model

import "time"

// PeerOrigin says who owns a peer's lifecycle.
type PeerOrigin string

const (
	// OriginRegistry peers are fully owned by the factory device registry
	// and replaced every reconciliation pass.
	OriginRegistry PeerOrigin = "registry"
	// OriginManual peers come from the manual peer file and are never
	// deleted or re-scoped by a registry-driven pass.
	OriginManual PeerOrigin = "manual"
)

// Peer describes one WireGuard peer on the server interface.
type Peer struct {
	Identity      string     `json:"identity"` // device name or label, logging only
	PublicKey     string     `json:"publicKey"`
	AllowedIPs    []string   `json:"allowedIPs"`
	Endpoint      string     `json:"endpoint,omitempty"` // runtime fact, never set by us
	LastHandshake time.Time  `json:"lastHandshake,omitempty"`
	Origin        PeerOrigin `json:"origin,omitempty"`
}

// HasEndpoint reports whether the peer currently has a live endpoint.
func (p Peer) HasEndpoint() bool {
	return p.Endpoint != ""
}
