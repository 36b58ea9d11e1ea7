// Package manualpeers reads the administratively maintained peer file:
// one peer per line, "<public_key> <address> [label]", comments with #.
// The file is re-read every tick so edits take effect within one poll
// interval without a daemon restart.
package manualpeers

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"factory-wgserver/pkg/model"
)

// Load parses the manual peer file. A missing file is an empty list, not
// an error. Malformed lines are logged and skipped so one typo cannot
// take the whole tick down.
func Load(path string) ([]model.Peer, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manual peers: %w", err)
	}

	var peers []model.Peer
	for i, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			log.Printf("manualpeers: %s:%d: want \"<public_key> <address> [label]\", got %q; skipped", path, i+1, line)
			continue
		}
		if _, err := wgtypes.ParseKey(fields[0]); err != nil {
			log.Printf("manualpeers: %s:%d: bad public key %q: %v; skipped", path, i+1, fields[0], err)
			continue
		}
		addr := fields[1]
		if !strings.Contains(addr, "/") {
			addr += "/32"
		}
		label := ""
		if len(fields) > 2 {
			label = strings.Join(fields[2:], " ")
		}
		peers = append(peers, model.Peer{
			Identity:   label,
			PublicKey:  fields[0],
			AllowedIPs: []string{addr},
			Origin:     model.OriginManual,
		})
	}
	return peers, nil
}

// Add appends a peer line. Administrative operation, invoked via the
// admin API, never by a reconciliation pass.
func Add(path, publicKey, address, label string) error {
	if _, err := wgtypes.ParseKey(publicKey); err != nil {
		return fmt.Errorf("bad public key: %w", err)
	}
	existing, err := Load(path)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p.PublicKey == publicKey {
			return fmt.Errorf("peer %s already present", publicKey)
		}
	}
	line := publicKey + " " + address
	if label != "" {
		line += " " + label
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir manual peers dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open manual peers: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append manual peer: %w", err)
	}
	return nil
}

// Remove rewrites the file without the given key, preserving comments
// and blank lines. Uses write-then-rename so a crash cannot corrupt the
// store.
func Remove(path, publicKey string) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("peer %s not found", publicKey)
	}
	if err != nil {
		return fmt.Errorf("read manual peers: %w", err)
	}
	var kept []string
	found := false
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) > 0 && fields[0] == publicKey {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return fmt.Errorf("peer %s not found", publicKey)
	}
	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename manual peers: %w", err)
	}
	return nil
}
