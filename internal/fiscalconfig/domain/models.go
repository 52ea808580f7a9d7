// Package domain contains the per-tenant fiscal configuration model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Environment selects the gateway environment and the authoritative
// credential slot.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// FiscalConfig holds one tenant's fiscal identity, gateway credentials and
// emission defaults. Created and maintained outside the emission workflow;
// the workflow only reads it and advances the last-used numbers.
type FiscalConfig struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"column:org_id;not null;uniqueIndex"`

	TaxID                 string `gorm:"column:tax_id;type:text;not null"`
	MunicipalRegistration string `gorm:"type:text"`
	// State is the tenant's UF, used for the jurisdiction match that selects
	// line item CFOPs.
	State string `gorm:"type:text"`

	GoodsEnabled    bool `gorm:"not null;default:false"`
	ServicesEnabled bool `gorm:"not null;default:false"`

	Environment Environment `gorm:"type:text;not null;default:'sandbox'"`

	ProductionToken string `gorm:"type:text"`
	SandboxToken    string `gorm:"type:text"`
	// LegacyToken predates the per-environment slots and is kept as a
	// fallback for tenants configured before the split.
	LegacyToken string `gorm:"column:token;type:text"`

	CertificateExpiresAt *time.Time `gorm:""`

	LastGoodsNumber   int64 `gorm:"not null;default:0"`
	LastServiceNumber int64 `gorm:"not null;default:0"`

	// Service invoice defaults.
	ServiceISSRate   float64 `gorm:"column:service_iss_rate;not null;default:0"`
	ServiceListItem  string  `gorm:"type:text"`
	MunicipalTaxCode string  `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FiscalConfig) TableName() string { return "fiscal_configs" }
