// Package wgconf renders the desired state of the server interface as a
// wg-quick compatible document. Rendering is deterministic: identical
// inputs produce byte-identical output, which lets the scheduler compare
// old and new config to decide whether a pass is needed at all.
package wgconf

import (
	"fmt"
	"sort"
	"strings"

	"factory-wgserver/pkg/model"
)

// ScopeFor computes the allowed-IPs scope for a device address under the
// current device-to-device policy: the whole VPN subnet when enabled,
// else an exact-match /32 for the device's own address.
func ScopeFor(address, subnet string, deviceToDevice bool) []string {
	if deviceToDevice {
		return []string{subnet}
	}
	if !strings.Contains(address, "/") {
		address += "/32"
	}
	return []string{address}
}

// Generate converts a registry snapshot into registry-origin peers with
// their policy scope applied. Pure function over its inputs.
func Generate(devices []model.Device, iface model.InterfaceConfig, deviceToDevice bool) []model.Peer {
	peers := make([]model.Peer, 0, len(devices))
	for _, d := range devices {
		peers = append(peers, model.Peer{
			Identity:   d.Name,
			PublicKey:  d.PublicKey,
			AllowedIPs: ScopeFor(d.Address, iface.Subnet, deviceToDevice),
			Origin:     model.OriginRegistry,
		})
	}
	return peers
}

// Render produces the wg-quick document for the interface and peer set.
// Peers are sorted by public key so the output is stable regardless of
// input order. Endpoints are never rendered: they are runtime facts owned
// by the driver, and writing one would pin a roaming device.
func Render(iface model.InterfaceConfig, peers []model.Peer) model.ConfigDocument {
	sorted := make([]model.Peer, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PublicKey < sorted[j].PublicKey })

	var b strings.Builder
	b.WriteString("[Interface]\n")
	if iface.Address != "" {
		fmt.Fprintf(&b, "Address = %s\n", iface.Address)
	}
	if iface.ListenPort > 0 {
		fmt.Fprintf(&b, "ListenPort = %d\n", iface.ListenPort)
	}
	if iface.PrivateKey != "" {
		fmt.Fprintf(&b, "PrivateKey = %s\n", iface.PrivateKey)
	}
	b.WriteString("\n")

	for _, p := range sorted {
		b.WriteString("[Peer]\n")
		if p.Identity != "" {
			fmt.Fprintf(&b, "# %s (%s)\n", p.Identity, p.Origin)
		}
		fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey)
		if len(p.AllowedIPs) > 0 {
			scopes := make([]string, len(p.AllowedIPs))
			copy(scopes, p.AllowedIPs)
			sort.Strings(scopes)
			fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(scopes, ", "))
		}
		b.WriteString("\n")
	}
	return model.ConfigDocument{Text: b.String(), Peers: sorted}
}
