package model

import "time"

// Device is one VPN-enabled device as reported by the factory registry.
type Device struct {
	Name      string    `json:"name"`
	PublicKey string    `json:"public_key"`
	Address   string    `json:"vpn_address"` // single assigned host address, no mask
	LastSeen  time.Time `json:"last_seen,omitempty"`
}
