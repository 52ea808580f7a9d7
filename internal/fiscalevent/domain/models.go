// Package domain contains the append-only fiscal event audit trail.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventKind classifies one emission attempt outcome.
type EventKind string

const (
	KindEmission EventKind = "emission"
	KindError    EventKind = "error"
)

// FiscalEvent is one immutable audit row per emission attempt. Rows are
// never updated or deleted.
type FiscalEvent struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	OrgID      snowflake.ID   `gorm:"column:org_id;not null;index"`
	DocumentID snowflake.ID   `gorm:"column:document_id;not null;index"`
	Kind       EventKind      `gorm:"type:text;not null"`
	Status     string         `gorm:"type:text"`
	Message    string         `gorm:"type:text"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FiscalEvent) TableName() string { return "fiscal_events" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *FiscalEvent) error
	ListByDocument(ctx context.Context, db *gorm.DB, orgID, documentID snowflake.ID) ([]FiscalEvent, error)
}

// Recorder appends audit events. Record is best-effort: a failed write is
// logged and must never unwind the document status change it describes.
type Recorder interface {
	Record(ctx context.Context, orgID, documentID snowflake.ID, kind EventKind, status, message string, payload []byte)
	ListByDocument(ctx context.Context, orgID, documentID snowflake.ID) ([]FiscalEvent, error)
}
