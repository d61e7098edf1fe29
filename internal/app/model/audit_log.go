package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AuditAction string

const (
	AuditActionCreate     AuditAction = "create"
	AuditActionUpdate     AuditAction = "update"
	AuditActionActivate   AuditAction = "activate"
	AuditActionDeactivate AuditAction = "deactivate"
	AuditActionSuspend    AuditAction = "suspend"
	AuditActionReapply    AuditAction = "reapply"
	AuditActionCancel     AuditAction = "cancel"
	AuditActionReprice    AuditAction = "reprice"
	AuditActionExpire     AuditAction = "expire"
	AuditActionRenew      AuditAction = "renew"
)

type AuditEntityType string

const (
	AuditEntityStore  AuditEntityType = "store"
	AuditEntityPolicy AuditEntityType = "policy"
)

// AuditLog is append-only: rows are inserted and never updated.
type AuditLog struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Sequence      int64           `gorm:"not null;index" json:"sequence"`
	Action        AuditAction     `gorm:"type:varchar(30);not null;index" json:"action"`
	EntityType    AuditEntityType `gorm:"type:varchar(20);not null;index:idx_audit_entity" json:"entity_type"`
	EntityID      string          `gorm:"type:varchar(120);not null;index:idx_audit_entity" json:"entity_id"`
	PreviousState datatypes.JSON  `json:"previous_state,omitempty"`
	NewState      datatypes.JSON  `json:"new_state,omitempty"`
	PerformedBy   string          `gorm:"type:varchar(120)" json:"performed_by"`
	Metadata      datatypes.JSON  `json:"metadata,omitempty"`
	Timestamp     time.Time       `gorm:"not null;index" json:"timestamp"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// ToJSON marshals v for an audit column. The result is never empty, so the
// column is never NULL: a nil v is stored as the JSON literal null.
func ToJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}
