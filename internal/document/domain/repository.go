package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows a tenant's document listing.
type ListFilter struct {
	OrgID  snowflake.ID
	Kind   DocumentKind
	Status DocumentStatus
	Cursor *ListCursor
	Limit  int
}

type ListCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// Repository is the narrow store adapter used by the emission workflow.
// Every operation is scoped by org for tenant isolation.
type Repository interface {
	// FindByOrgAndID returns nil when no row matches.
	FindByOrgAndID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*FiscalDocument, error)
	// ListItems returns the document's line items ordered by sequence.
	ListItems(ctx context.Context, db *gorm.DB, orgID, documentID snowflake.ID) ([]DocumentItem, error)
	// MarkProcessing performs the conditional draft -> processing transition,
	// persisting the attempt reference. It reports false when the document
	// was no longer in draft, which loses the emission race.
	MarkProcessing(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, reference string, now time.Time) (bool, error)
	// UpdateFields applies a partial update to one document.
	UpdateFields(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, fields map[string]any) error
	// List returns documents for a tenant, newest first.
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*FiscalDocument, error)
}
