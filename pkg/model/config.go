package model

// InterfaceConfig holds the server-side identity of the WireGuard
// interface. All fields are fixed at provisioning time; reconciliation
// never touches them.
type InterfaceConfig struct {
	Name       string `json:"name"`       // e.g. "factory"
	PrivateKey string `json:"-"`          // never serialized
	ListenPort int    `json:"listenPort"` // e.g. 5555
	Address    string `json:"address"`    // server address with mask, e.g. "10.42.42.1/24"
	Subnet     string `json:"subnet"`     // full VPN range, e.g. "10.42.42.0/24"
}

// ConfigDocument is one rendered desired-state snapshot: the wg-quick
// text plus the peer list it was rendered from. Rendering is
// deterministic, so Text equality is how the scheduler decides whether a
// reconciliation pass is needed at all.
type ConfigDocument struct {
	Text  string `json:"-"`
	Peers []Peer `json:"peers"`
}
