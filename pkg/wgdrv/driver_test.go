package wgdrv

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"factory-wgserver/pkg/model"
)

func TestDeviceNotExist(t *testing.T) {
	if !deviceNotExist(os.ErrNotExist) {
		t.Error("bare sentinel not recognized")
	}
	// The control socket wraps the sentinel; the classification must
	// unwrap rather than rely on the error's concrete type.
	if !deviceNotExist(fmt.Errorf("read device factory: %w", os.ErrNotExist)) {
		t.Error("wrapped sentinel not recognized")
	}
	if deviceNotExist(errors.New("device busy")) {
		t.Error("unrelated error classified as missing device")
	}
}

func TestParseAllowedIPs(t *testing.T) {
	nets, err := parseAllowedIPs([]string{"10.42.42.2", "10.42.42.0/24"})
	if err != nil {
		t.Fatal(err)
	}
	got := formatAllowedIPs(nets)
	want := []string{"10.42.42.0/24", "10.42.42.2/32"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := parseAllowedIPs([]string{"not-an-address"}); err == nil {
		t.Error("bad address accepted")
	}
}

func TestConnectedWindow(t *testing.T) {
	now := time.Now()
	peers := []model.Peer{
		{PublicKey: "fresh", LastHandshake: now.Add(-time.Minute)},
		{PublicKey: "stale", LastHandshake: now.Add(-10 * time.Minute)},
		{PublicKey: "never"},
	}
	got := Connected(peers, now)
	if len(got) != 1 || got[0].PublicKey != "fresh" {
		t.Fatalf("got %+v, want only the fresh peer", got)
	}
}

func TestPeerOpError(t *testing.T) {
	inner := errors.New("device busy")
	err := &PeerOpError{Op: "add", PublicKey: "K1", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("PeerOpError does not unwrap")
	}
	if err.Error() == "" {
		t.Error("empty error message")
	}
}
