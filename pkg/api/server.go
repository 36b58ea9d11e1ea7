// Package api is the admin surface of the daemon: status, live peers,
// pass history, force-sync, the device-to-device toggle, and manual peer
// management. Everything here is read-mostly glue around the scheduler;
// no reconciliation logic lives in this package.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"factory-wgserver/pkg/auth"
	"factory-wgserver/pkg/daemon"
	"factory-wgserver/pkg/manualpeers"
	"factory-wgserver/pkg/model"
	"factory-wgserver/pkg/store"
	"factory-wgserver/pkg/version"
	"factory-wgserver/pkg/wgdrv"
)

// Deps carries everything the handlers need.
type Deps struct {
	Scheduler      *daemon.Scheduler
	Store          store.Store
	Driver         wgdrv.Driver
	Iface          string
	ManualPath     string
	Hub            *EventHub
	BootstrapToken string
}

// RegisterRoutes attaches all admin endpoints to mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	authOK := authFunc(d.BootstrapToken)

	guard := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !authOK(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version.Build})
	})
	mux.HandleFunc("/api/v1/status", guard(d.handleStatus))
	mux.HandleFunc("/api/v1/peers", guard(d.handlePeers))
	mux.HandleFunc("/api/v1/passes", guard(d.handlePasses))
	mux.HandleFunc("/api/v1/audit", guard(d.handleAudit))
	mux.HandleFunc("/api/v1/sync", guard(d.handleSync))
	mux.HandleFunc("/api/v1/policy/device-to-device", guard(d.handlePolicy))
	mux.HandleFunc("/api/v1/manual-peers", guard(d.handleManualPeers))
	if d.Hub != nil {
		mux.HandleFunc("/ws/events", guard(d.Hub.HandleEvents))
	}
}

func (d Deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		Status:  d.Scheduler.Status(),
		Version: version.Build,
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if live, err := d.Driver.ListPeers(ctx, d.Iface); err == nil {
		resp.ConnectedPeers = len(wgdrv.Connected(live, time.Now()))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d Deps) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	live, err := d.Driver.ListPeers(ctx, d.Iface)
	if err != nil {
		http.Error(w, "failed to read live peers: "+err.Error(), http.StatusBadGateway)
		return
	}
	// Resolve origins so operators can tell registry peers from manual
	// ones at a glance.
	manualKeys := map[string]string{}
	if manual, err := manualpeers.Load(d.ManualPath); err == nil {
		for _, p := range manual {
			manualKeys[p.PublicKey] = p.Identity
		}
	}
	for i := range live {
		if label, ok := manualKeys[live[i].PublicKey]; ok {
			live[i].Origin = model.OriginManual
			live[i].Identity = label
		} else {
			live[i].Origin = model.OriginRegistry
		}
	}
	writeJSON(w, http.StatusOK, PeersResponse{Interface: d.Iface, Peers: live})
}

func (d Deps) handlePasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	passes, err := d.Store.ListPasses(limitParam(r))
	if err != nil {
		http.Error(w, "failed to list passes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, passes)
}

func (d Deps) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := d.Store.ListAudit(limitParam(r))
	if err != nil {
		http.Error(w, "failed to list audit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (d Deps) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d.Scheduler.ForceSync()
	d.audit(r, "force-sync", "", "")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync scheduled"})
}

func (d Deps) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, PolicyRequest{Enabled: d.Scheduler.DeviceToDevice()})
	case http.MethodPost:
		var req PolicyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		d.Scheduler.SetDeviceToDevice(req.Enabled)
		action := "d2d-disable"
		if req.Enabled {
			action = "d2d-enable"
		}
		d.audit(r, action, "", "")
		writeJSON(w, http.StatusOK, PolicyRequest{Enabled: d.Scheduler.DeviceToDevice()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d Deps) handleManualPeers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		peers, err := manualpeers.Load(d.ManualPath)
		if err != nil {
			http.Error(w, "failed to load manual peers", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, peers)
	case http.MethodPost:
		var req ManualPeerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicKey == "" || req.Address == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := manualpeers.Add(d.ManualPath, req.PublicKey, req.Address, req.Label); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.audit(r, "manual-add", req.PublicKey, req.Address)
		d.Scheduler.ForceSync()
		writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
	case http.MethodDelete:
		key := r.URL.Query().Get("publicKey")
		if key == "" {
			http.Error(w, "publicKey required", http.StatusBadRequest)
			return
		}
		if err := manualpeers.Remove(d.ManualPath, key); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		d.audit(r, "manual-remove", key, "")
		d.Scheduler.ForceSync()
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d Deps) audit(r *http.Request, action, target, detail string) {
	if d.Store == nil {
		return
	}
	entry := model.AuditEntry{
		Actor:     actorFrom(r),
		Action:    action,
		Target:    target,
		Detail:    detail,
		Timestamp: time.Now(),
	}
	if err := d.Store.AppendAudit(entry); err != nil {
		log.Printf("api: append audit failed: %v", err)
	}
}

func actorFrom(r *http.Request) string {
	if claims, err := auth.ParseBearer(r.Header.Get("Authorization")); err == nil {
		return claims.Username
	}
	return "token"
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
