package db

import (
	"database/sql"
	"time"

	"github.com/ktmr/autotrack/pkg/models"
)

// GORM models. Conversions to pkg/models live next to each type so the
// rest of the codebase never sees sql.Null* values.

// Project represents a billable project row.
type Project struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"uniqueIndex;not null"`
	ClientName sql.NullString
	Color      sql.NullString
	HourlyRate float64   `gorm:"default:0"`
	Archived   bool      `gorm:"default:false;index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) toModel() models.Project {
	return models.Project{
		ID:         p.ID,
		Name:       p.Name,
		ClientName: p.ClientName.String,
		Color:      p.Color.String,
		HourlyRate: p.HourlyRate,
		Archived:   p.Archived,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// Entry represents a tracked time span row. EndTime NULL means ongoing.
type Entry struct {
	ID         int64         `gorm:"primaryKey;autoIncrement"`
	ProjectID  sql.NullInt64 `gorm:"index"`
	StartTime  time.Time     `gorm:"index:idx_entries_start,sort:desc;not null"`
	EndTime    sql.NullTime  `gorm:"index"`
	Confidence int           `gorm:"default:0"`
	Reasoning  sql.NullString
	Subtask    sql.NullString
	IsManual   bool `gorm:"default:false"`
	// No column default: gorm omits zero-valued fields that carry one,
	// which would silently turn IsWork=false into true on insert.
	IsWork    bool      `gorm:"index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Entry) TableName() string { return "entries" }

func (e *Entry) toModel() models.Entry {
	m := models.Entry{
		ID:         e.ID,
		StartTime:  e.StartTime,
		Confidence: e.Confidence,
		Reasoning:  e.Reasoning.String,
		Subtask:    e.Subtask.String,
		IsManual:   e.IsManual,
		IsWork:     e.IsWork,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	if e.ProjectID.Valid {
		id := e.ProjectID.Int64
		m.ProjectID = &id
	}
	if e.EndTime.Valid {
		t := e.EndTime.Time
		m.EndTime = &t
	}
	return m
}

// Rule represents a deterministic classification rule row.
type Rule struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	ProjectID int64           `gorm:"index;not null"`
	Type      models.RuleType `gorm:"type:text;check:type IN ('app_name', 'window_title', 'url', 'keyword');not null"`
	Pattern   string          `gorm:"not null"`
	Priority  int             `gorm:"default:0;index:idx_rules_priority,sort:desc"`
	IsActive  bool            `gorm:"default:true;index"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (Rule) TableName() string { return "rules" }

func (r *Rule) toModel() models.Rule {
	return models.Rule{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Type:      r.Type,
		Pattern:   r.Pattern,
		Priority:  r.Priority,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// AIUsageLog records one reasoning-service call for the budget ledger.
type AIUsageLog struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Model       string `gorm:"index;not null"`
	TokensIn    int    `gorm:"default:0"`
	TokensOut   int    `gorm:"default:0"`
	Cost        float64
	RequestType sql.NullString
	CreatedAt   time.Time `gorm:"index:idx_usage_created,sort:desc;not null"`
}

func (AIUsageLog) TableName() string { return "ai_usage_logs" }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
