package repository

import "time"

// UnlockEntity records that a bonus rule has fired for a user. The unique
// pair is the atomic "already unlocked" check: the first insert wins, every
// later attempt is a conflict no-op.
type UnlockEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	UserID    int64     `db:"user_id"    gorm:"column:user_id;not null;uniqueIndex:ux_unlock_user_rule"`
	RuleID    string    `db:"rule_id"    gorm:"column:rule_id;not null;uniqueIndex:ux_unlock_user_rule"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (UnlockEntity) TableName() string {
	return "achievement_unlocks"
}
