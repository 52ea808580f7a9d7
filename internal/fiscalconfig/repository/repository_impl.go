package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	"github.com/smallbiznis/emissor/internal/fiscalconfig/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.FiscalConfig, error) {
	var cfg domain.FiscalConfig
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *repo) AdvanceLastNumber(ctx context.Context, db *gorm.DB, orgID snowflake.ID, kind documentdomain.DocumentKind, number int64) error {
	column := "last_goods_number"
	if kind == documentdomain.KindService {
		column = "last_service_number"
	}
	return db.WithContext(ctx).Exec(
		`UPDATE fiscal_configs
		 SET `+column+` = ?
		 WHERE org_id = ? AND `+column+` < ?`,
		number,
		orgID,
		number,
	).Error
}
