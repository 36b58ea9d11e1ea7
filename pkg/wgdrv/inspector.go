package wgdrv

import (
	"time"

	"factory-wgserver/pkg/model"
)

// HandshakeWindow is how recent a handshake must be for a peer to count
// as connected. WireGuard rekeys at worst every ~2 minutes on an active
// session; 3 minutes gives slack for a missed rekey.
const HandshakeWindow = 3 * time.Minute

// Connected filters live peers down to those with a handshake inside the
// window. Used for status reporting only, never for reconcile decisions.
func Connected(peers []model.Peer, now time.Time) []model.Peer {
	out := make([]model.Peer, 0, len(peers))
	for _, p := range peers {
		if !p.LastHandshake.IsZero() && now.Sub(p.LastHandshake) <= HandshakeWindow {
			out = append(out, p)
		}
	}
	return out
}
