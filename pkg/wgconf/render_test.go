package wgconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"factory-wgserver/pkg/model"
)

var testIface = model.InterfaceConfig{
	Name:       "factory",
	PrivateKey: "PRIVKEY",
	ListenPort: 5555,
	Address:    "10.42.42.1/24",
	Subnet:     "10.42.42.0/24",
}

func TestScopeFor(t *testing.T) {
	tests := []struct {
		address string
		d2d     bool
		want    string
	}{
		{"10.42.42.2", false, "10.42.42.2/32"},
		{"10.42.42.2/32", false, "10.42.42.2/32"},
		{"10.42.42.2", true, "10.42.42.0/24"},
		{"10.42.42.3", true, "10.42.42.0/24"},
	}
	for _, tt := range tests {
		got := ScopeFor(tt.address, "10.42.42.0/24", tt.d2d)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("ScopeFor(%s, d2d=%v) = %v, want [%s]", tt.address, tt.d2d, got, tt.want)
		}
	}
}

func TestGeneratePolicyScopes(t *testing.T) {
	devices := []model.Device{
		{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"},
		{Name: "D2", PublicKey: "K2", Address: "10.42.42.3"},
	}

	exact := Generate(devices, testIface, false)
	for i, want := range []string{"10.42.42.2/32", "10.42.42.3/32"} {
		if exact[i].AllowedIPs[0] != want {
			t.Errorf("exact scope[%d] = %v, want %s", i, exact[i].AllowedIPs, want)
		}
		if exact[i].Origin != model.OriginRegistry {
			t.Errorf("origin = %s, want registry", exact[i].Origin)
		}
	}

	open := Generate(devices, testIface, true)
	for i := range open {
		if open[i].AllowedIPs[0] != "10.42.42.0/24" {
			t.Errorf("open scope[%d] = %v, want subnet", i, open[i].AllowedIPs)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	p1 := model.Peer{Identity: "D1", PublicKey: "K1", AllowedIPs: []string{"10.42.42.2/32"}, Origin: model.OriginRegistry}
	p2 := model.Peer{Identity: "D2", PublicKey: "K2", AllowedIPs: []string{"10.42.42.3/32"}, Origin: model.OriginRegistry}

	a := Render(testIface, []model.Peer{p1, p2})
	b := Render(testIface, []model.Peer{p2, p1})
	if a.Text != b.Text {
		t.Fatalf("render not order-independent:\n%s\n---\n%s", a.Text, b.Text)
	}
	if a.Peers[0].PublicKey != "K1" || a.Peers[1].PublicKey != "K2" {
		t.Errorf("peers not sorted by key: %s, %s", a.Peers[0].PublicKey, a.Peers[1].PublicKey)
	}
}

func TestRenderOmitsEndpoints(t *testing.T) {
	doc := Render(testIface, []model.Peer{{
		Identity:   "D1",
		PublicKey:  "K1",
		AllowedIPs: []string{"10.42.42.2/32"},
		Endpoint:   "203.0.113.7:41414",
		Origin:     model.OriginRegistry,
	}})
	if strings.Contains(doc.Text, "Endpoint") || strings.Contains(doc.Text, "203.0.113.7") {
		t.Fatalf("endpoint leaked into rendered config:\n%s", doc.Text)
	}
}

func TestRenderSections(t *testing.T) {
	doc := Render(testIface, []model.Peer{
		{Identity: "gateway", PublicKey: "K9", AllowedIPs: []string{"10.42.42.9/32"}, Origin: model.OriginManual},
	})
	for _, want := range []string{
		"[Interface]",
		"Address = 10.42.42.1/24",
		"ListenPort = 5555",
		"PrivateKey = PRIVKEY",
		"[Peer]",
		"# gateway (manual)",
		"PublicKey = K9",
		"AllowedIPs = 10.42.42.9/32",
	} {
		if !strings.Contains(doc.Text, want) {
			t.Errorf("rendered config missing %q:\n%s", want, doc.Text)
		}
	}
}

func TestWriteAtomicAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wg", "factory.conf")

	if err := WriteAtomic(path, "first\n"); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(path, "second\n"); err != nil {
		t.Fatal(err)
	}

	got, err := ReadPersisted(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "second\n" {
		t.Fatalf("read %q, want %q", got, "second\n")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	// No temp leftovers after the renames.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("stray files in config dir: %v", entries)
	}
}

func TestReadPersistedMissing(t *testing.T) {
	got, err := ReadPersisted(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil || got != "" {
		t.Fatalf("got (%q, %v), want empty and nil", got, err)
	}
}
