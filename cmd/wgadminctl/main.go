// wgadminctl is a thin CLI over the daemon's admin API.
//
// Usage:
//
//	wgadminctl [flags] status|peers|passes|audit|sync|d2d|manual-add|manual-remove
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", envOr("WGADMIN_SERVER", "http://127.0.0.1:8090"), "daemon admin API base URL (env WGADMIN_SERVER)")
	token := flag.String("token", os.Getenv("WGADMIN_TOKEN"), "bearer token (env WGADMIN_TOKEN)")
	enabled := flag.Bool("enabled", false, "for d2d: desired policy state")
	pubKey := flag.String("key", "", "for manual-add/manual-remove: peer public key")
	address := flag.String("address", "", "for manual-add: peer VPN address")
	label := flag.String("label", "", "for manual-add: optional label")
	limit := flag.Int("limit", 20, "for passes/audit: max entries")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		log.Fatal("command required: status|peers|passes|audit|sync|d2d|manual-add|manual-remove")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	var err error
	switch cmd {
	case "status":
		err = get(client, *server, *token, "/api/v1/status")
	case "peers":
		err = get(client, *server, *token, "/api/v1/peers")
	case "passes":
		err = get(client, *server, *token, fmt.Sprintf("/api/v1/passes?limit=%d", *limit))
	case "audit":
		err = get(client, *server, *token, fmt.Sprintf("/api/v1/audit?limit=%d", *limit))
	case "sync":
		err = send(client, *server, *token, http.MethodPost, "/api/v1/sync", nil)
	case "d2d":
		err = send(client, *server, *token, http.MethodPost, "/api/v1/policy/device-to-device",
			map[string]bool{"enabled": *enabled})
	case "manual-add":
		if *pubKey == "" || *address == "" {
			log.Fatal("manual-add requires --key and --address")
		}
		err = send(client, *server, *token, http.MethodPost, "/api/v1/manual-peers",
			map[string]string{"publicKey": *pubKey, "address": *address, "label": *label})
	case "manual-remove":
		if *pubKey == "" {
			log.Fatal("manual-remove requires --key")
		}
		err = send(client, *server, *token, http.MethodDelete, "/api/v1/manual-peers?publicKey="+url.QueryEscape(*pubKey), nil)
	default:
		log.Fatalf("unknown command: %s", cmd)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func get(client *http.Client, server, token, path string) error {
	return send(client, server, token, http.MethodGet, path, nil)
}

func send(client *http.Client, server, token, method, path string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, server+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s body=%s", resp.Status, strings.TrimSpace(string(b)))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, b, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(strings.TrimSpace(string(b)))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
