//go:build consul

// Package consul keeps pass and audit history in Consul KV for
// deployments that already run a Consul cluster next to the lab.
package consul

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"factory-wgserver/pkg/model"
)

// Store is a Consul-backed history store.
type Store struct {
	cli *consulapi.Client
}

const (
	passPrefix  = "factory-wgserver/passes/"
	auditPrefix = "factory-wgserver/audit/"
)

func NewStore(addr string) *Store {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, _ := consulapi.NewClient(cfg) // runtime calls report the error
	return &Store{cli: cli}
}

func (s *Store) SavePass(rec model.PassRecord) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := passPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) ListPasses(limit int) ([]model.PassRecord, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(passPrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.PassRecord
	for _, p := range pairs {
		var rec model.PassRecord
		if err := json.Unmarshal(p.Value, &rec); err == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendAudit(e model.AuditEntry) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := auditPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(auditPrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.AuditEntry
	for _, p := range pairs {
		var e model.AuditEntry
		if err := json.Unmarshal(p.Value, &e); err == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping() error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	_, err := s.cli.Status().Leader()
	return err
}
