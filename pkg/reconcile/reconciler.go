// Package reconcile diffs desired peer state against the live interface
// and drives the interface toward it with idempotent add/remove
// primitives.
//
// The one non-obvious rule here: changing a peer's allowed IPs while the
// peer has a live endpoint is unreliable; the kernel has been observed
// to silently clear the scope after the next config refresh. A scope
// change is therefore always remove-then-add-without-endpoint; the
// remote's next handshake re-establishes the endpoint and the scope set
// while the endpoint was absent persists across it.
package reconcile

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"factory-wgserver/pkg/model"
	"factory-wgserver/pkg/wgdrv"
)

// Reconciler applies one desired peer set to one interface per call. The
// scheduler serializes calls; there is never more than one pass in
// flight.
type Reconciler struct {
	Driver wgdrv.Driver
	Iface  string
}

func New(driver wgdrv.Driver, iface string) *Reconciler {
	return &Reconciler{Driver: driver, Iface: iface}
}

// Reconcile brings the live interface to the target peer set. Target
// holds registry-origin peers with their policy scope plus manual-origin
// peers; each peer's Origin must be set.
//
// Per-peer primitive failures are logged and recorded but do not abort
// the pass: one bad peer must not block convergence of the rest. The
// next tick retries whatever failed.
func (r *Reconciler) Reconcile(ctx context.Context, target []model.Peer) model.PassRecord {
	rec := model.PassRecord{StartedAt: time.Now()}
	defer func() { rec.DurationMs = time.Since(rec.StartedAt).Milliseconds() }()

	live, err := r.Driver.ListPeers(ctx, r.Iface)
	if err != nil {
		if errors.Is(err, wgdrv.ErrInterfaceAbsent) {
			// Expected on first run: proceed with a full-add pass.
			live = nil
		} else {
			rec.Error = err.Error()
			return rec
		}
	}

	targetByKey, manualKeys := indexTarget(target)
	liveByKey := make(map[string]model.Peer, len(live))
	for _, p := range live {
		liveByKey[p.PublicKey] = p
	}

	// Removals first so a rescoped key is never transiently duplicated.
	for _, p := range live {
		if _, wanted := targetByKey[p.PublicKey]; wanted {
			continue
		}
		if manualKeys[p.PublicKey] {
			continue
		}
		r.remove(ctx, &rec, p)
	}

	// Stable order keeps logs and pass records comparable across ticks.
	keys := make([]string, 0, len(targetByKey))
	for k := range targetByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want := targetByKey[k]
		got, present := liveByKey[k]

		if want.Origin == model.OriginManual {
			// Manual peers are presence-verified only: re-add after an
			// external reset, never re-scope on a routine pass.
			if !present {
				r.heal(ctx, &rec, want)
			}
			continue
		}

		switch {
		case !present:
			r.add(ctx, &rec, want, model.OpAdd)
		case !scopesEqual(got.AllowedIPs, want.AllowedIPs):
			// Remove-then-add, not an in-place update: see package doc.
			if r.remove(ctx, &rec, got) {
				r.add(ctx, &rec, want, model.OpRescope)
			}
		}
	}
	return rec
}

func (r *Reconciler) add(ctx context.Context, rec *model.PassRecord, p model.Peer, op string) bool {
	peerOp := model.PeerOp{Op: op, Identity: p.Identity, PublicKey: p.PublicKey, AllowedIPs: p.AllowedIPs}
	if err := r.Driver.AddPeer(ctx, r.Iface, p.PublicKey, p.AllowedIPs); err != nil {
		log.Printf("reconcile: add peer failed identity=%s key=%s err=%v", p.Identity, p.PublicKey, err)
		peerOp.Error = err.Error()
		rec.Failed++
		rec.Ops = append(rec.Ops, peerOp)
		return false
	}
	if op == model.OpRescope {
		rec.Rescoped++
	} else {
		rec.Added++
	}
	rec.Ops = append(rec.Ops, peerOp)
	return true
}

func (r *Reconciler) remove(ctx context.Context, rec *model.PassRecord, p model.Peer) bool {
	peerOp := model.PeerOp{Op: model.OpRemove, Identity: p.Identity, PublicKey: p.PublicKey}
	if err := r.Driver.RemovePeer(ctx, r.Iface, p.PublicKey); err != nil {
		log.Printf("reconcile: remove peer failed identity=%s key=%s err=%v", p.Identity, p.PublicKey, err)
		peerOp.Error = err.Error()
		rec.Failed++
		rec.Ops = append(rec.Ops, peerOp)
		return false
	}
	rec.Removed++
	rec.Ops = append(rec.Ops, peerOp)
	return true
}

func (r *Reconciler) heal(ctx context.Context, rec *model.PassRecord, p model.Peer) {
	peerOp := model.PeerOp{Op: model.OpHeal, Identity: p.Identity, PublicKey: p.PublicKey, AllowedIPs: p.AllowedIPs}
	if err := r.Driver.AddPeer(ctx, r.Iface, p.PublicKey, p.AllowedIPs); err != nil {
		log.Printf("reconcile: heal manual peer failed identity=%s key=%s err=%v", p.Identity, p.PublicKey, err)
		peerOp.Error = err.Error()
		rec.Failed++
		rec.Ops = append(rec.Ops, peerOp)
		return
	}
	log.Printf("reconcile: manual peer re-added identity=%s key=%s", p.Identity, p.PublicKey)
	rec.Healed++
	rec.Ops = append(rec.Ops, peerOp)
}

// indexTarget dedupes the target by public key. A manual entry that
// collides with a registry peer loses: the registry owns the key.
func indexTarget(target []model.Peer) (map[string]model.Peer, map[string]bool) {
	byKey := make(map[string]model.Peer, len(target))
	manual := make(map[string]bool)
	for _, p := range target {
		if existing, ok := byKey[p.PublicKey]; ok {
			if existing.Origin == model.OriginRegistry && p.Origin == model.OriginManual {
				log.Printf("reconcile: manual peer %s shares key %s with registry device %s; registry wins",
					p.Identity, p.PublicKey, existing.Identity)
				continue
			}
			if existing.Origin == model.OriginManual && p.Origin == model.OriginRegistry {
				log.Printf("reconcile: manual peer %s shares key %s with registry device %s; registry wins",
					existing.Identity, p.PublicKey, p.Identity)
				delete(manual, p.PublicKey)
			}
		}
		byKey[p.PublicKey] = p
		if p.Origin == model.OriginManual {
			manual[p.PublicKey] = true
		}
	}
	return byKey, manual
}

// scopesEqual compares allowed-IP sets ignoring order and the implied
// /32 on bare host addresses.
func scopesEqual(a, b []string) bool {
	na := normalizeScopes(a)
	nb := normalizeScopes(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			s += "/32"
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
