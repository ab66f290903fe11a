package repository

import (
	"context"

	"github.com/nimasrn/credits-gateway/pkg/pg"
	"gorm.io/gorm/clause"
)

type UnlockRepository struct {
	*pg.DB
}

func NewUnlockRepository(db *pg.DB) *UnlockRepository {
	return &UnlockRepository{
		db,
	}
}

// TryInsert claims a (user, rule) unlock. Returns true when this call
// created the record, false when the rule had already fired for the user.
func (r *UnlockRepository) TryInsert(ctx context.Context, userID int64, ruleID string) (bool, error) {
	entity := &UnlockEntity{
		UserID: userID,
		RuleID: ruleID,
	}

	result := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *UnlockRepository) IsUnlocked(ctx context.Context, userID int64, ruleID string) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&UnlockEntity{}).
		Where("user_id = ? AND rule_id = ?", userID, ruleID).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *UnlockRepository) ListRuleIDs(ctx context.Context, userID int64) ([]string, error) {
	var ids []string
	err := r.Read(ctx).WithContext(ctx).
		Model(&UnlockEntity{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Pluck("rule_id", &ids).
		Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
