package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"factory-wgserver/pkg/api"
	"factory-wgserver/pkg/daemon"
	"factory-wgserver/pkg/model"
	"factory-wgserver/pkg/registry"
	"factory-wgserver/pkg/store"
	"factory-wgserver/pkg/version"
	"factory-wgserver/pkg/wgdrv"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	defaultRegistry := envOr("REGISTRY_URL", "https://api.foundries.io")
	defaultFactory := os.Getenv("FACTORY")
	defaultToken := os.Getenv("FACTORY_API_TOKEN")
	defaultAPIToken := os.Getenv("API_TOKEN")

	iface := flag.String("iface", "factory", "wireguard interface name")
	address := flag.String("address", "10.42.42.1/24", "server interface address with VPN subnet mask")
	listenPort := flag.Int("listen-port", 5555, "wireguard listen port")
	keyFile := flag.String("private-key-file", "/etc/factory-wgserver/privatekey", "server private key path (generated if absent)")
	configPath := flag.String("config", "/etc/wireguard/factory.conf", "persisted interface config path")
	manualPath := flag.String("manual-peers", "/etc/factory-wgserver/manual-peers", "manual peer file path")
	interval := flag.Duration("interval", daemon.DefaultInterval, "reconciliation poll interval")
	d2d := flag.Bool("device-to-device", false, "scope every registry peer to the whole VPN subnet")

	registryURL := flag.String("registry-url", defaultRegistry, "device registry base URL (env REGISTRY_URL)")
	factory := flag.String("factory", defaultFactory, "factory name (env FACTORY)")
	registryToken := flag.String("registry-token", defaultToken, "registry API token (env FACTORY_API_TOKEN)")

	addr := flag.String("addr", ":8090", "admin API listen address")
	apiToken := flag.String("api-token", defaultAPIToken, "bootstrap admin API token (env API_TOKEN)")
	storeType := flag.String("store", "sqlite", "history backend: memory|sqlite|mysql|consul (consul requires build tag)")
	sqlitePath := flag.String("sqlite-path", "/var/lib/factory-wgserver/history.db", "sqlite path when --store=sqlite")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address when --store=consul")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Printf("factory-wgserver version=%s", version.Build)
		return
	}
	if *factory == "" {
		log.Fatal("factory name is required (flag --factory or env FACTORY)")
	}
	if *registryToken == "" {
		log.Fatal("registry token is required (flag --registry-token or env FACTORY_API_TOKEN)")
	}

	subnet, err := subnetOf(*address)
	if err != nil {
		log.Fatalf("bad --address: %v", err)
	}
	privateKey, publicKey, err := loadOrCreateKey(*keyFile)
	if err != nil {
		log.Fatalf("server key: %v", err)
	}
	log.Printf("server public key: %s", publicKey)

	ifaceCfg := model.InterfaceConfig{
		Name:       *iface,
		PrivateKey: privateKey,
		ListenPort: *listenPort,
		Address:    *address,
		Subnet:     subnet,
	}

	driver, err := wgdrv.NewKernelDriver()
	if err != nil {
		log.Fatalf("wireguard control: %v", err)
	}
	defer driver.Close()

	var hist store.Store
	var authHandler *api.AuthHandler
	switch *storeType {
	case "memory":
		hist = store.NewMemoryStore()
	case "sqlite":
		hist, err = store.NewSQLiteStore(*sqlitePath)
		if err != nil {
			log.Fatalf("sqlite store: %v", err)
		}
	case "mysql":
		gdb, err := store.OpenMySQL()
		if err != nil {
			log.Fatalf("mysql open: %v", err)
		}
		hist, err = store.NewGormStore(gdb)
		if err != nil {
			log.Fatalf("mysql store: %v", err)
		}
		authHandler, err = api.NewAuthHandler(gdb)
		if err != nil {
			log.Fatalf("mysql auth tables: %v", err)
		}
	case "consul":
		hist = store.NewConsulStore(*consulAddr)
	default:
		log.Fatalf("unsupported store type: %s", *storeType)
	}

	reg := registry.NewClient(*registryURL, *factory, *registryToken)
	sched := daemon.NewScheduler(reg, driver, hist, ifaceCfg, *configPath, *manualPath, *interval, *d2d)

	hub := api.NewEventHub()
	sched.OnPass = hub.Broadcast

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sched.Run(ctx)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Deps{
		Scheduler:      sched,
		Store:          hist,
		Driver:         driver,
		Iface:          *iface,
		ManualPath:     *manualPath,
		Hub:            hub,
		BootstrapToken: *apiToken,
	})
	if authHandler != nil {
		authHandler.RegisterRoutes(mux)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("factory-wgserver version=%s iface=%s factory=%s interval=%s admin=%s",
		version.Build, *iface, *factory, *interval, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("admin server error: %v", err)
	}
}

// subnetOf derives the full VPN range from the server address CIDR, e.g.
// 10.42.42.1/24 -> 10.42.42.0/24.
func subnetOf(cidr string) (string, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", cidr, err)
	}
	return ipnet.String(), nil
}

// loadOrCreateKey reads the server private key, generating and writing a
// fresh one on first run. Returns (private, public).
func loadOrCreateKey(path string) (string, string, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		key, err := wgtypes.ParseKey(strings.TrimSpace(string(b)))
		if err != nil {
			return "", "", fmt.Errorf("parse key file %s: %w", path, err)
		}
		return key.String(), key.PublicKey().String(), nil
	}
	if !os.IsNotExist(err) {
		return "", "", fmt.Errorf("read key file: %w", err)
	}
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", "", fmt.Errorf("mkdir key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(key.String()+"\n"), 0o600); err != nil {
		return "", "", fmt.Errorf("write key file: %w", err)
	}
	log.Printf("generated new server key at %s", path)
	return key.String(), key.PublicKey().String(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
