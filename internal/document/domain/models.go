// Package domain contains persistence models for fiscal documents.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DocumentKind distinguishes goods invoices (NF-e) from service invoices (NFS-e).
type DocumentKind string

const (
	KindGoods   DocumentKind = "goods"
	KindService DocumentKind = "service"
)

// DocumentStatus represents the emission lifecycle states. Transitions happen
// only through the emission service: draft -> processing -> authorized,
// rejected or error.
type DocumentStatus string

const (
	StatusDraft      DocumentStatus = "draft"
	StatusProcessing DocumentStatus = "processing"
	StatusAuthorized DocumentStatus = "authorized"
	StatusRejected   DocumentStatus = "rejected"
	StatusError      DocumentStatus = "error"
)

// FiscalDocument represents one goods or service invoice owned by a tenant org.
type FiscalDocument struct {
	ID     snowflake.ID   `gorm:"primaryKey"`
	OrgID  snowflake.ID   `gorm:"column:org_id;not null;index"`
	Kind   DocumentKind   `gorm:"type:text;not null"`
	Status DocumentStatus `gorm:"type:text;not null;default:'draft'"`

	RecipientName  string `gorm:"type:text;not null"`
	RecipientTaxID string `gorm:"column:recipient_tax_id;type:text;not null"`
	RecipientEmail string `gorm:"type:text"`

	Street        string `gorm:"type:text"`
	AddressNumber string `gorm:"column:address_number;type:text"`
	District      string `gorm:"type:text"`
	Municipality  string `gorm:"type:text"`
	State         string `gorm:"type:text"`
	PostalCode    string `gorm:"column:postal_code;type:text"`

	// TotalAmount is in centavos.
	TotalAmount int64 `gorm:"not null;default:0"`

	// Reference is the idempotency token presented to the gateway, persisted
	// before the network call of each attempt.
	Reference string `gorm:"type:text"`

	AccessKey      string `gorm:"column:access_key;type:text"`
	Protocol       string `gorm:"type:text"`
	Number         string `gorm:"type:text"`
	Series         string `gorm:"type:text"`
	DocumentURL    string `gorm:"column:document_url;type:text"`
	GatewayStatus  string `gorm:"column:gateway_status;type:text"`
	GatewayMessage string `gorm:"column:gateway_message;type:text"`
	XMLPath        string `gorm:"column:xml_path;type:text"`
	DanfePath      string `gorm:"column:danfe_path;type:text"`

	IssuedAt  *time.Time `gorm:""`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FiscalDocument) TableName() string { return "fiscal_documents" }

// DocumentItem represents a line on a fiscal document. Sequence is 1-based
// and contiguous within the document.
type DocumentItem struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"column:org_id;not null;index"`
	DocumentID snowflake.ID `gorm:"column:document_id;not null;index"`
	Sequence   int          `gorm:"not null"`

	Description string `gorm:"type:text;not null"`
	Quantity    int64  `gorm:"not null"`
	// UnitAmount and Amount are in centavos.
	UnitAmount int64 `gorm:"not null"`
	Amount     int64 `gorm:"not null"`

	Unit string `gorm:"type:text"`
	NCM  string `gorm:"column:ncm;type:text"`
	CFOP string `gorm:"column:cfop;type:text"`

	Origin    string `gorm:"type:text"`
	ICMSCst   string `gorm:"column:icms_cst;type:text"`
	PISCst    string `gorm:"column:pis_cst;type:text"`
	COFINSCst string `gorm:"column:cofins_cst;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DocumentItem) TableName() string { return "fiscal_document_items" }
