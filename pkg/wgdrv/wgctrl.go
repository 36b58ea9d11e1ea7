package wgdrv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"factory-wgserver/pkg/model"
)

// KernelDriver drives the real interface: peer operations go through the
// wireguard control socket (wgctrl), interface up/down shells out to
// wg-quick since it owns address and route setup.
type KernelDriver struct {
	client *wgctrl.Client
}

func NewKernelDriver() (*KernelDriver, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("open wireguard control: %w", err)
	}
	return &KernelDriver{client: c}, nil
}

func (d *KernelDriver) Close() error {
	return d.client.Close()
}

func (d *KernelDriver) ListPeers(_ context.Context, iface string) ([]model.Peer, error) {
	dev, err := d.client.Device(iface)
	if err != nil {
		if deviceNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrInterfaceAbsent, iface)
		}
		return nil, fmt.Errorf("read device %s: %w", iface, err)
	}
	peers := make([]model.Peer, 0, len(dev.Peers))
	for _, p := range dev.Peers {
		mp := model.Peer{
			PublicKey:     p.PublicKey.String(),
			AllowedIPs:    formatAllowedIPs(p.AllowedIPs),
			LastHandshake: p.LastHandshakeTime,
		}
		if p.Endpoint != nil {
			mp.Endpoint = p.Endpoint.String()
		}
		peers = append(peers, mp)
	}
	return peers, nil
}

func (d *KernelDriver) AddPeer(_ context.Context, iface, publicKey string, allowedIPs []string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return &PeerOpError{Op: "add", PublicKey: publicKey, Err: err}
	}
	nets, err := parseAllowedIPs(allowedIPs)
	if err != nil {
		return &PeerOpError{Op: "add", PublicKey: publicKey, Err: err}
	}
	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:         key,
			ReplaceAllowedIPs: true,
			AllowedIPs:        nets,
		}},
	}
	if err := d.client.ConfigureDevice(iface, cfg); err != nil {
		if deviceNotExist(err) {
			return fmt.Errorf("%w: %s", ErrInterfaceAbsent, iface)
		}
		return &PeerOpError{Op: "add", PublicKey: publicKey, Err: err}
	}
	return nil
}

func (d *KernelDriver) RemovePeer(_ context.Context, iface, publicKey string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return &PeerOpError{Op: "remove", PublicKey: publicKey, Err: err}
	}
	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{PublicKey: key, Remove: true}},
	}
	if err := d.client.ConfigureDevice(iface, cfg); err != nil {
		if deviceNotExist(err) {
			return fmt.Errorf("%w: %s", ErrInterfaceAbsent, iface)
		}
		return &PeerOpError{Op: "remove", PublicKey: publicKey, Err: err}
	}
	return nil
}

func (d *KernelDriver) InterfaceUp(ctx context.Context, configPath string) error {
	return run(ctx, "wg-quick", "up", configPath)
}

func (d *KernelDriver) InterfaceDown(ctx context.Context, iface string) error {
	return run(ctx, "wg-quick", "down", iface)
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v failed: %v output=%s", name, args, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// deviceNotExist reports whether err is the control socket's
// missing-device error. wgctrl may wrap os.ErrNotExist, so the check
// must unwrap.
func deviceNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func parseAllowedIPs(scopes []string) ([]net.IPNet, error) {
	nets := make([]net.IPNet, 0, len(scopes))
	for _, s := range scopes {
		if !strings.Contains(s, "/") {
			s += "/32"
		}
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("parse allowed ip %q: %w", s, err)
		}
		nets = append(nets, *ipnet)
	}
	return nets, nil
}

func formatAllowedIPs(nets []net.IPNet) []string {
	out := make([]string, 0, len(nets))
	for _, n := range nets {
		out = append(out, n.String())
	}
	sort.Strings(out)
	return out
}
