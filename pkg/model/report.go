package model

import "time"

// Peer operation kinds recorded by the reconciler.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpRescope = "rescope" // remove-then-add to change allowed IPs
	OpHeal    = "heal"    // manual peer re-added after external reset
)

// PeerOp is a single low-level operation issued (or attempted) against
// the interface during a pass.
type PeerOp struct {
	Op         string   `json:"op"`
	Identity   string   `json:"identity,omitempty"`
	PublicKey  string   `json:"publicKey"`
	AllowedIPs []string `json:"allowedIPs,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// PassRecord summarizes one reconciliation pass.
type PassRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMs    int64     `json:"durationMs"`
	ConfigChanged bool      `json:"configChanged"`
	Added         int       `json:"added"`
	Removed       int       `json:"removed"`
	Rescoped      int       `json:"rescoped"`
	Healed        int       `json:"healed"`
	Failed        int       `json:"failed"`
	Ops           []PeerOp  `gorm:"-" json:"ops,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Converged reports whether the pass completed with no failed operations.
func (p PassRecord) Converged() bool {
	return p.Failed == 0 && p.Error == ""
}
