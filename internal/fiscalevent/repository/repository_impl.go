package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/internal/fiscalevent/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.FiscalEvent) error {
	if event == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO fiscal_events (
			id, org_id, document_id, kind, status, message, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.OrgID,
		event.DocumentID,
		event.Kind,
		event.Status,
		event.Message,
		event.Payload,
		event.CreatedAt,
	).Error
}

func (r *repo) ListByDocument(ctx context.Context, db *gorm.DB, orgID, documentID snowflake.ID) ([]domain.FiscalEvent, error) {
	var events []domain.FiscalEvent
	err := db.WithContext(ctx).
		Where("org_id = ? AND document_id = ?", orgID, documentID).
		Order("created_at desc, id desc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
