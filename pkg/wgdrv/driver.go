// Package wgdrv wraps the low-level WireGuard control primitives the
// reconciler depends on. The interface peer table is externally owned
// state: it is read fresh each pass and never cached here.
package wgdrv

import (
	"context"
	"errors"

	"factory-wgserver/pkg/model"
)

// ErrInterfaceAbsent means the named interface does not exist. Distinct
// from an interface that exists with zero peers; expected on first run.
var ErrInterfaceAbsent = errors.New("wireguard interface absent")

// Driver is the set of operations the reconciler issues against the
// kernel. Implementations must make AddPeer and RemovePeer idempotent
// per public key.
type Driver interface {
	// ListPeers reads the live peer table, including endpoint presence
	// and last-handshake times. Returns ErrInterfaceAbsent if the
	// interface does not exist.
	ListPeers(ctx context.Context, iface string) ([]model.Peer, error)
	// AddPeer installs a peer with the given allowed-IPs scope and no
	// endpoint. The remote side's next handshake re-establishes the
	// endpoint, and the scope set here persists across it.
	AddPeer(ctx context.Context, iface, publicKey string, allowedIPs []string) error
	// RemovePeer deletes the peer, clearing any live endpoint with it.
	RemovePeer(ctx context.Context, iface, publicKey string) error
	// InterfaceUp brings the interface up from a config file path.
	InterfaceUp(ctx context.Context, configPath string) error
	// InterfaceDown tears the interface down.
	InterfaceDown(ctx context.Context, iface string) error
}

// PeerOpError wraps a failed per-peer primitive so the reconciler can log
// it against the peer's identity and continue with the rest of the batch.
type PeerOpError struct {
	Op        string
	PublicKey string
	Err       error
}

func (e *PeerOpError) Error() string {
	return e.Op + " peer " + e.PublicKey + ": " + e.Err.Error()
}

func (e *PeerOpError) Unwrap() error { return e.Err }
