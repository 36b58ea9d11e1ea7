// Package daemon runs the poll loop: every tick it fetches the registry,
// renders desired state, and, when the rendered document differs from
// the last applied one, hands the target peer set to the reconciler.
// Passes are strictly serialized; the next tick's work starts only after
// the previous pass returned.
package daemon

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"factory-wgserver/pkg/manualpeers"
	"factory-wgserver/pkg/model"
	"factory-wgserver/pkg/reconcile"
	"factory-wgserver/pkg/registry"
	"factory-wgserver/pkg/store"
	"factory-wgserver/pkg/wgconf"
	"factory-wgserver/pkg/wgdrv"
)

// DefaultInterval between reconciliation passes.
const DefaultInterval = 300 * time.Second

// registryTimeout bounds the registry fetch; peerOpTimeout bounds one
// whole apply batch. A hung external call must cost at most one tick.
const (
	registryTimeout = 30 * time.Second
	applyTimeout    = 2 * time.Minute
)

// Scheduler owns the loop state. All mutable fields are guarded by mu;
// the loop itself is single-threaded.
type Scheduler struct {
	Registry   registry.Fetcher
	Driver     wgdrv.Driver
	Store      store.Store
	Iface      model.InterfaceConfig
	ConfigPath string
	ManualPath string
	Interval   time.Duration

	// OnPass, when set, receives every pass record (ws fan-out).
	OnPass func(model.PassRecord)

	recon *reconcile.Reconciler

	mu             sync.Mutex
	deviceToDevice bool
	lastApplied    string
	lastPass       model.PassRecord
	registryCount  int
	manualCount    int
	force          chan struct{}
}

func NewScheduler(reg registry.Fetcher, drv wgdrv.Driver, st store.Store, iface model.InterfaceConfig, configPath, manualPath string, interval time.Duration, deviceToDevice bool) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		Registry:       reg,
		Driver:         drv,
		Store:          st,
		Iface:          iface,
		ConfigPath:     configPath,
		ManualPath:     manualPath,
		Interval:       interval,
		recon:          reconcile.New(drv, iface.Name),
		deviceToDevice: deviceToDevice,
		force:          make(chan struct{}, 1),
	}
}

// Run loops until ctx is cancelled. The first pass runs immediately. A
// restart needs no recovered in-memory state: live state is re-read from
// the interface and the last applied document from the persisted config.
func (s *Scheduler) Run(ctx context.Context) {
	if persisted, err := wgconf.ReadPersisted(s.ConfigPath); err != nil {
		log.Printf("daemon: read persisted config failed: %v", err)
	} else if persisted != "" {
		s.mu.Lock()
		s.lastApplied = persisted
		s.mu.Unlock()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	s.tick(ctx, false)
	for {
		select {
		case <-ctx.Done():
			log.Printf("daemon: stopping")
			return
		case <-ticker.C:
			s.tick(ctx, false)
		case <-s.force:
			log.Printf("daemon: forced sync")
			s.tick(ctx, true)
		}
	}
}

// ForceSync requests an out-of-band pass that skips the byte-equality
// short circuit. Non-blocking; coalesces with a pending request.
func (s *Scheduler) ForceSync() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

// SetDeviceToDevice flips the device-to-device policy. The next pass
// re-scopes every registry peer.
func (s *Scheduler) SetDeviceToDevice(enabled bool) {
	s.mu.Lock()
	changed := s.deviceToDevice != enabled
	s.deviceToDevice = enabled
	s.mu.Unlock()
	if changed {
		log.Printf("daemon: device-to-device policy set to %v", enabled)
		s.ForceSync()
	}
}

func (s *Scheduler) DeviceToDevice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceToDevice
}

// Status is a point-in-time snapshot for the admin API.
type Status struct {
	Interface      string           `json:"interface"`
	DeviceToDevice bool             `json:"deviceToDevice"`
	IntervalSec    int              `json:"intervalSec"`
	RegistryPeers  int              `json:"registryPeers"`
	ManualPeers    int              `json:"manualPeers"`
	LastPass       model.PassRecord `json:"lastPass"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Interface:      s.Iface.Name,
		DeviceToDevice: s.deviceToDevice,
		IntervalSec:    int(s.Interval / time.Second),
		RegistryPeers:  s.registryCount,
		ManualPeers:    s.manualCount,
		LastPass:       s.lastPass,
	}
}

func (s *Scheduler) tick(ctx context.Context, forced bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, registryTimeout)
	devices, err := s.Registry.FetchVPNEnabled(fetchCtx)
	cancel()
	if err != nil {
		// Skip the tick; existing state is never cleared on a fetch
		// failure.
		log.Printf("daemon: registry fetch failed, skipping tick: %v", err)
		return
	}

	manual, err := manualpeers.Load(s.ManualPath)
	if err != nil {
		// Treating a read failure as an empty manual list would make
		// every manual peer look like an orphan and delete it. Skip.
		log.Printf("daemon: manual peer load failed, skipping tick: %v", err)
		return
	}

	s.mu.Lock()
	d2d := s.deviceToDevice
	lastApplied := s.lastApplied
	s.registryCount = len(devices)
	s.manualCount = len(manual)
	s.mu.Unlock()

	target := wgconf.Generate(devices, s.Iface, d2d)
	target = append(target, manual...)
	doc := wgconf.Render(s.Iface, target)

	applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	if doc.Text == lastApplied && !forced {
		// Nothing changed: do not disturb live handshakes with a full
		// pass, but still heal manual peers that an external reset may
		// have dropped.
		s.verifyManual(applyCtx, manual)
		return
	}

	if err := s.ensureInterface(applyCtx, doc.Text); err != nil {
		log.Printf("daemon: interface provisioning failed: %v", err)
		return
	}

	rec := s.recon.Reconcile(applyCtx, target)
	rec.ConfigChanged = doc.Text != lastApplied

	if rec.Converged() {
		if err := wgconf.WriteAtomic(s.ConfigPath, doc.Text); err != nil {
			// Persist failure fails the tick: lastApplied stays stale so
			// the next tick retries the full apply.
			log.Printf("daemon: config persist failed: %v", err)
			rec.Error = err.Error()
		} else {
			s.mu.Lock()
			s.lastApplied = doc.Text
			s.mu.Unlock()
		}
	}

	s.finishPass(rec)
	log.Printf("daemon: pass done changed=%v added=%d removed=%d rescoped=%d healed=%d failed=%d in %dms",
		rec.ConfigChanged, rec.Added, rec.Removed, rec.Rescoped, rec.Healed, rec.Failed, rec.DurationMs)
}

// verifyManual re-adds manual peers missing from the live table. Runs on
// every unchanged tick.
func (s *Scheduler) verifyManual(ctx context.Context, manual []model.Peer) {
	if len(manual) == 0 {
		return
	}
	live, err := s.Driver.ListPeers(ctx, s.Iface.Name)
	if err != nil {
		if errors.Is(err, wgdrv.ErrInterfaceAbsent) {
			// Interface vanished under us; the next changed tick or a
			// forced sync re-provisions it.
			log.Printf("daemon: interface absent during manual verify")
			s.ForceSync()
			return
		}
		log.Printf("daemon: manual verify list failed: %v", err)
		return
	}
	liveKeys := make(map[string]bool, len(live))
	for _, p := range live {
		liveKeys[p.PublicKey] = true
	}
	rec := model.PassRecord{StartedAt: time.Now()}
	for _, p := range manual {
		if liveKeys[p.PublicKey] {
			continue
		}
		if err := s.Driver.AddPeer(ctx, s.Iface.Name, p.PublicKey, p.AllowedIPs); err != nil {
			log.Printf("daemon: manual heal failed identity=%s key=%s err=%v", p.Identity, p.PublicKey, err)
			rec.Failed++
			rec.Ops = append(rec.Ops, model.PeerOp{Op: model.OpHeal, Identity: p.Identity, PublicKey: p.PublicKey, Error: err.Error()})
			continue
		}
		log.Printf("daemon: manual peer healed identity=%s key=%s", p.Identity, p.PublicKey)
		rec.Healed++
		rec.Ops = append(rec.Ops, model.PeerOp{Op: model.OpHeal, Identity: p.Identity, PublicKey: p.PublicKey, AllowedIPs: p.AllowedIPs})
	}
	if len(rec.Ops) == 0 {
		return
	}
	rec.DurationMs = time.Since(rec.StartedAt).Milliseconds()
	s.finishPass(rec)
}

// ensureInterface brings the interface up from a freshly persisted config
// when it does not exist yet. The pass that follows converges any
// difference between that config and the target.
func (s *Scheduler) ensureInterface(ctx context.Context, text string) error {
	_, err := s.Driver.ListPeers(ctx, s.Iface.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, wgdrv.ErrInterfaceAbsent) {
		return err
	}
	log.Printf("daemon: interface %s absent, provisioning", s.Iface.Name)
	if err := wgconf.WriteAtomic(s.ConfigPath, text); err != nil {
		return err
	}
	return s.Driver.InterfaceUp(ctx, s.ConfigPath)
}

func (s *Scheduler) finishPass(rec model.PassRecord) {
	s.mu.Lock()
	s.lastPass = rec
	s.mu.Unlock()
	if s.Store != nil {
		if err := s.Store.SavePass(rec); err != nil {
			log.Printf("daemon: save pass record failed: %v", err)
		}
	}
	if s.OnPass != nil {
		s.OnPass(rec)
	}
}
