package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"factory-wgserver/pkg/model"
)

// SQLiteStore keeps history in a local sqlite file so it survives daemon
// restarts without any external database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS passes(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	config_changed INTEGER NOT NULL,
	added INTEGER NOT NULL,
	removed INTEGER NOT NULL,
	rescoped INTEGER NOT NULL,
	healed INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	ops_json TEXT,
	error TEXT
);
CREATE TABLE IF NOT EXISTS audit(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor TEXT,
	action TEXT NOT NULL,
	target TEXT,
	detail TEXT,
	ts INTEGER NOT NULL
);`

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SavePass(rec model.PassRecord) error {
	ops, _ := json.Marshal(rec.Ops)
	_, err := s.db.Exec(
		`INSERT INTO passes(started_at, duration_ms, config_changed, added, removed, rescoped, healed, failed, ops_json, error)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.StartedAt.Unix(), rec.DurationMs, boolInt(rec.ConfigChanged),
		rec.Added, rec.Removed, rec.Rescoped, rec.Healed, rec.Failed,
		string(ops), rec.Error)
	if err != nil {
		return fmt.Errorf("save pass: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPasses(limit int) ([]model.PassRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, duration_ms, config_changed, added, removed, rescoped, healed, failed, ops_json, error
		 FROM passes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()
	var out []model.PassRecord
	for rows.Next() {
		var rec model.PassRecord
		var started int64
		var changed int
		var opsJSON string
		if err := rows.Scan(&rec.ID, &started, &rec.DurationMs, &changed,
			&rec.Added, &rec.Removed, &rec.Rescoped, &rec.Healed, &rec.Failed,
			&opsJSON, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.ConfigChanged = changed != 0
		if opsJSON != "" {
			_ = json.Unmarshal([]byte(opsJSON), &rec.Ops)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAudit(e model.AuditEntry) error {
	_, err := s.db.Exec(`INSERT INTO audit(actor, action, target, detail, ts) VALUES(?,?,?,?,?)`,
		e.Actor, e.Action, e.Target, e.Detail, e.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, actor, action, target, detail, ts FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping() error { return s.db.Ping() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
