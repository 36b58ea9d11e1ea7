package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleBody = `{
  "devices": [
    {"name": "gamma", "public_key": "K3", "vpn_address": "10.42.42.4", "vpn_enabled": true},
    {"name": "alpha", "public_key": "K1", "vpn_address": "10.42.42.2", "vpn_enabled": true, "last_seen": "2026-08-29T10:00:00Z"},
    {"name": "beta", "public_key": "K2", "vpn_address": "10.42.42.3", "vpn_enabled": false},
    {"name": "nokey", "public_key": "", "vpn_address": "10.42.42.5", "vpn_enabled": true},
    {"name": "noaddr", "public_key": "K5", "vpn_address": "", "vpn_enabled": true}
  ]
}`

func TestFetchVPNEnabled(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "myfactory", "tok123")
	devices, err := c.FetchVPNEnabled(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer tok123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/ota/devices/?factory=myfactory" {
		t.Errorf("request path = %q", gotPath)
	}

	// Disabled, keyless and addressless devices filtered; rest sorted by name.
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2: %+v", len(devices), devices)
	}
	if devices[0].Name != "alpha" || devices[1].Name != "gamma" {
		t.Errorf("order = %s, %s", devices[0].Name, devices[1].Name)
	}
	if devices[0].LastSeen.IsZero() {
		t.Error("last_seen not parsed")
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "f", "t").FetchVPNEnabled(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL, "f", "t").FetchVPNEnabled(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestFetchBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "f", "t").FetchVPNEnabled(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}
