package repository

import (
	"context"

	"github.com/nimasrn/credits-gateway/pkg/pg"
)

type AuditLogRepository struct {
	*pg.DB
}

func NewAuditLogRepository(db *pg.DB) *AuditLogRepository {
	return &AuditLogRepository{
		db,
	}
}

func (r *AuditLogRepository) Create(ctx context.Context, entry *AuditLogEntity) error {
	return r.Write(ctx).WithContext(ctx).Create(entry).Error
}
