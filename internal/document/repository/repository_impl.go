package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/internal/document/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrgAndID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.FiscalDocument, error) {
	var doc domain.FiscalDocument
	err := db.WithContext(ctx).
		Where("id = ? AND org_id = ?", id, orgID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orgID, documentID snowflake.ID) ([]domain.DocumentItem, error) {
	var items []domain.DocumentItem
	err := db.WithContext(ctx).
		Where("org_id = ? AND document_id = ?", orgID, documentID).
		Order("sequence asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, reference string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE fiscal_documents
		 SET status = ?, reference = ?, updated_at = ?
		 WHERE id = ? AND org_id = ? AND status = ?`,
		domain.StatusProcessing,
		reference,
		now,
		id,
		orgID,
		domain.StatusDraft,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.FiscalDocument{}).
		Where("id = ? AND org_id = ?", id, orgID).
		Updates(fields).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.FiscalDocument, error) {
	var docs []*domain.FiscalDocument
	stmt := db.WithContext(ctx).Model(&domain.FiscalDocument{}).
		Where("org_id = ?", filter.OrgID)

	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}
