package repository

import "time"

type AuditLogEntity struct {
	ID         int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	Action     string    `db:"action"      gorm:"column:action;not null;index"`
	EntityType string    `db:"entity_type" gorm:"column:entity_type;not null"`
	EntityID   int64     `db:"entity_id"   gorm:"column:entity_id;index"`
	Details    string    `db:"details"     gorm:"column:details"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (AuditLogEntity) TableName() string {
	return "audit_log"
}
