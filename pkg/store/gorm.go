package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"factory-wgserver/pkg/model"
)

// GormStore backs the Store interface with a relational database (MySQL
// in practice, via OpenMySQL).
type GormStore struct {
	db *gorm.DB
}

type passRow struct {
	ID            uint `gorm:"primaryKey"`
	StartedAt     time.Time
	DurationMs    int64
	ConfigChanged bool
	Added         int
	Removed       int
	Rescoped      int
	Healed        int
	Failed        int
	OpsJSON       string `gorm:"type:text"`
	Error         string
}

func (passRow) TableName() string { return "passes" }

type auditRow struct {
	ID        uint `gorm:"primaryKey"`
	Actor     string
	Action    string
	Target    string
	Detail    string
	Timestamp time.Time
}

func (auditRow) TableName() string { return "audit" }

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&passRow{}, &auditRow{}); err != nil {
		return nil, fmt.Errorf("migrate store tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) SavePass(rec model.PassRecord) error {
	ops, _ := json.Marshal(rec.Ops)
	row := passRow{
		StartedAt:     rec.StartedAt,
		DurationMs:    rec.DurationMs,
		ConfigChanged: rec.ConfigChanged,
		Added:         rec.Added,
		Removed:       rec.Removed,
		Rescoped:      rec.Rescoped,
		Healed:        rec.Healed,
		Failed:        rec.Failed,
		OpsJSON:       string(ops),
		Error:         rec.Error,
	}
	if err := g.db.Create(&row).Error; err != nil {
		return fmt.Errorf("save pass: %w", err)
	}
	return nil
}

func (g *GormStore) ListPasses(limit int) ([]model.PassRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []passRow
	if err := g.db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	out := make([]model.PassRecord, 0, len(rows))
	for _, r := range rows {
		rec := model.PassRecord{
			ID:            r.ID,
			StartedAt:     r.StartedAt,
			DurationMs:    r.DurationMs,
			ConfigChanged: r.ConfigChanged,
			Added:         r.Added,
			Removed:       r.Removed,
			Rescoped:      r.Rescoped,
			Healed:        r.Healed,
			Failed:        r.Failed,
			Error:         r.Error,
		}
		if r.OpsJSON != "" {
			_ = json.Unmarshal([]byte(r.OpsJSON), &rec.Ops)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *GormStore) AppendAudit(e model.AuditEntry) error {
	row := auditRow{Actor: e.Actor, Action: e.Action, Target: e.Target, Detail: e.Detail, Timestamp: e.Timestamp}
	if err := g.db.Create(&row).Error; err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (g *GormStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	if err := g.db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuditEntry{ID: r.ID, Actor: r.Actor, Action: r.Action, Target: r.Target, Detail: r.Detail, Timestamp: r.Timestamp})
	}
	return out, nil
}

func (g *GormStore) Ping() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
