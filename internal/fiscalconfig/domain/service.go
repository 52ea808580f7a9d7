package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	"gorm.io/gorm"
)

// Repository reads and advances tenant fiscal configuration.
type Repository interface {
	// FindByOrg returns nil when the tenant has no fiscal configuration.
	FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*FiscalConfig, error)
	// AdvanceLastNumber raises the tenant's last-used document number for the
	// kind to at least number. The counter is a monotonic high-water mark:
	// the update is conditional on the stored value being lower, so
	// concurrent emissions can never move it backwards.
	AdvanceLastNumber(ctx context.Context, db *gorm.DB, orgID snowflake.ID, kind documentdomain.DocumentKind, number int64) error
}

// Resolver produces the gateway credential and base endpoint for a tenant
// configuration.
type Resolver interface {
	// Credential selects the credential slot for the configured environment,
	// falling back to the legacy token and then to the process-wide master
	// token. It returns a ConfigurationError when nothing resolves.
	Credential(cfg *FiscalConfig) (string, error)
	// Endpoint returns the gateway base URL for the configured environment.
	Endpoint(cfg *FiscalConfig) string
}
