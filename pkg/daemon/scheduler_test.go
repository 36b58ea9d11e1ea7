package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"factory-wgserver/pkg/model"
	"factory-wgserver/pkg/store"
	"factory-wgserver/pkg/wgdrv"
)

type fakeRegistry struct {
	mu      sync.Mutex
	devices []model.Device
	err     error
}

func (f *fakeRegistry) FetchVPNEnabled(context.Context) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.err
}

func (f *fakeRegistry) set(devices []model.Device, err error) {
	f.mu.Lock()
	f.devices = devices
	f.err = err
	f.mu.Unlock()
}

type fakeDriver struct {
	mu        sync.Mutex
	absent    bool
	peers     map[string]model.Peer
	ops       []string
	listCalls int
	upCalls   int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{peers: map[string]model.Peer{}}
}

func (d *fakeDriver) ListPeers(_ context.Context, _ string) ([]model.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	if d.absent {
		return nil, fmt.Errorf("%w: factory", wgdrv.ErrInterfaceAbsent)
	}
	out := make([]model.Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out, nil
}

func (d *fakeDriver) AddPeer(_ context.Context, _ string, key string, scope []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, "add "+key)
	d.peers[key] = model.Peer{PublicKey: key, AllowedIPs: scope}
	return nil
}

func (d *fakeDriver) RemovePeer(_ context.Context, _ string, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, "remove "+key)
	delete(d.peers, key)
	return nil
}

func (d *fakeDriver) InterfaceUp(_ context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upCalls++
	d.absent = false
	return nil
}

func (d *fakeDriver) InterfaceDown(_ context.Context, _ string) error { return nil }

func (d *fakeDriver) opLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.ops))
	copy(out, d.ops)
	return out
}

func (d *fakeDriver) clearOps() {
	d.mu.Lock()
	d.ops = nil
	d.mu.Unlock()
}

func (d *fakeDriver) dropPeer(key string) {
	d.mu.Lock()
	delete(d.peers, key)
	d.mu.Unlock()
}

var testIface = model.InterfaceConfig{
	Name:       "factory",
	PrivateKey: "PK",
	ListenPort: 5555,
	Address:    "10.42.42.1/24",
	Subnet:     "10.42.42.0/24",
}

func testScheduler(t *testing.T, reg *fakeRegistry, drv *fakeDriver) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	return NewScheduler(reg, drv, store.NewMemory(), testIface,
		filepath.Join(dir, "factory.conf"), filepath.Join(dir, "manual_peers"),
		time.Minute, false)
}

func TestFirstTickProvisionsAndApplies(t *testing.T) {
	reg := &fakeRegistry{devices: []model.Device{
		{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"},
		{Name: "D2", PublicKey: "K2", Address: "10.42.42.3"},
	}}
	drv := newFakeDriver()
	drv.absent = true
	s := testScheduler(t, reg, drv)

	s.tick(context.Background(), false)

	if drv.upCalls != 1 {
		t.Errorf("upCalls=%d, want 1", drv.upCalls)
	}
	for _, k := range []string{"K1", "K2"} {
		if _, ok := drv.peers[k]; !ok {
			t.Errorf("peer %s not installed", k)
		}
	}
	if _, err := os.Stat(s.ConfigPath); err != nil {
		t.Errorf("config not persisted: %v", err)
	}
	passes, err := s.Store.ListPasses(10)
	if err != nil || len(passes) != 1 {
		t.Fatalf("passes=%d err=%v, want 1 recorded", len(passes), err)
	}
	if passes[0].Added != 2 {
		t.Errorf("recorded added=%d, want 2", passes[0].Added)
	}
}

func TestUnchangedTickTouchesNothing(t *testing.T) {
	reg := &fakeRegistry{devices: []model.Device{{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"}}}
	drv := newFakeDriver()
	s := testScheduler(t, reg, drv)

	s.tick(context.Background(), false)
	drv.clearOps()
	s.tick(context.Background(), false)

	if ops := drv.opLog(); len(ops) != 0 {
		t.Fatalf("unchanged tick issued ops: %v", ops)
	}
	if passes, _ := s.Store.ListPasses(10); len(passes) != 1 {
		t.Errorf("unchanged tick recorded a pass, got %d records", len(passes))
	}
}

func TestRegistryFailureSkipsTick(t *testing.T) {
	reg := &fakeRegistry{devices: []model.Device{{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"}}}
	drv := newFakeDriver()
	s := testScheduler(t, reg, drv)

	s.tick(context.Background(), false)
	drv.clearOps()

	// Registry goes down: the peer must not be treated as removed.
	reg.set(nil, fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	s.tick(context.Background(), false)

	if ops := drv.opLog(); len(ops) != 0 {
		t.Fatalf("failed fetch still issued ops: %v", ops)
	}
	if _, ok := drv.peers["K1"]; !ok {
		t.Error("peer removed on registry outage")
	}
}

func TestManualLoadFailureSkipsTick(t *testing.T) {
	reg := &fakeRegistry{devices: []model.Device{{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"}}}
	drv := newFakeDriver()
	s := testScheduler(t, reg, drv)
	// A directory at the manual path makes the read fail without being
	// "file not found".
	if err := os.MkdirAll(s.ManualPath, 0o755); err != nil {
		t.Fatal(err)
	}

	s.tick(context.Background(), false)

	if ops := drv.opLog(); len(ops) != 0 {
		t.Fatalf("unreadable manual store still issued ops: %v", ops)
	}
}

func TestManualPeerHealedOnUnchangedTick(t *testing.T) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	key := priv.PublicKey().String()
	reg := &fakeRegistry{}
	drv := newFakeDriver()
	s := testScheduler(t, reg, drv)
	if err := os.WriteFile(s.ManualPath, []byte(key+" 10.42.42.9 gateway\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s.tick(context.Background(), false)
	if _, ok := drv.peers[key]; !ok {
		t.Fatal("manual peer not installed on first tick")
	}

	// Someone resets the interface config out of band.
	drv.dropPeer(key)
	drv.clearOps()
	s.tick(context.Background(), false)

	if _, ok := drv.peers[key]; !ok {
		t.Fatal("manual peer not healed on unchanged tick")
	}
	ops := drv.opLog()
	if len(ops) != 1 || ops[0] != "add "+key {
		t.Errorf("ops=%v, want a single heal add", ops)
	}
}

func TestPolicyFlipRescopes(t *testing.T) {
	reg := &fakeRegistry{devices: []model.Device{{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"}}}
	drv := newFakeDriver()
	s := testScheduler(t, reg, drv)

	s.tick(context.Background(), false)
	if got := drv.peers["K1"].AllowedIPs[0]; got != "10.42.42.2/32" {
		t.Fatalf("initial scope=%s", got)
	}

	drv.clearOps()
	s.SetDeviceToDevice(true)
	if !s.DeviceToDevice() {
		t.Fatal("policy not recorded")
	}
	select {
	case <-s.force:
	default:
		t.Fatal("policy change did not request a forced sync")
	}
	s.tick(context.Background(), true)

	ops := drv.opLog()
	if len(ops) != 2 || ops[0] != "remove K1" || ops[1] != "add K1" {
		t.Fatalf("ops=%v, want remove-then-add", ops)
	}
	if got := drv.peers["K1"].AllowedIPs[0]; got != "10.42.42.0/24" {
		t.Fatalf("scope=%s, want subnet", got)
	}
}

func TestForceSyncCoalesces(t *testing.T) {
	s := testScheduler(t, &fakeRegistry{}, newFakeDriver())
	s.ForceSync()
	s.ForceSync()
	s.ForceSync()
	<-s.force
	select {
	case <-s.force:
		t.Fatal("force requests did not coalesce")
	default:
	}
}

func TestPersistFailureRetriesNextTick(t *testing.T) {
	reg := &fakeRegistry{devices: []model.Device{{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"}}}
	drv := newFakeDriver()
	s := testScheduler(t, reg, drv)
	// A directory at the config path makes the rename fail after a
	// successful apply.
	if err := os.MkdirAll(s.ConfigPath, 0o755); err != nil {
		t.Fatal(err)
	}

	s.tick(context.Background(), false)

	passes, _ := s.Store.ListPasses(1)
	if len(passes) != 1 || passes[0].Error == "" {
		t.Fatalf("persist failure not recorded: %+v", passes)
	}

	// lastApplied must stay stale so the next tick re-runs the full pass
	// instead of short-circuiting on byte equality.
	lists := drv.listCalls
	s.tick(context.Background(), false)
	if drv.listCalls <= lists {
		t.Error("next tick short-circuited despite unpersisted config")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := testScheduler(t, &fakeRegistry{}, newFakeDriver())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestStatusSnapshot(t *testing.T) {
	reg := &fakeRegistry{devices: []model.Device{
		{Name: "D1", PublicKey: "K1", Address: "10.42.42.2"},
		{Name: "D2", PublicKey: "K2", Address: "10.42.42.3"},
	}}
	s := testScheduler(t, reg, newFakeDriver())

	s.tick(context.Background(), false)

	st := s.Status()
	if st.Interface != "factory" || st.RegistryPeers != 2 || st.ManualPeers != 0 {
		t.Fatalf("status = %+v", st)
	}
	if st.LastPass.Added != 2 {
		t.Errorf("lastPass.Added=%d, want 2", st.LastPass.Added)
	}
}
