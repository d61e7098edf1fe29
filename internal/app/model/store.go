package model

import (
	"time"
)

type StoreStatus string

const (
	StoreStatusPending   StoreStatus = "pending"
	StoreStatusActive    StoreStatus = "active"
	StoreStatusSuspended StoreStatus = "suspended"
	StoreStatusInactive  StoreStatus = "inactive"
)

// Store is a retail location covered by the programme. StoreCode is the
// business key and never changes once assigned.
type Store struct {
	StoreCode      string      `gorm:"primaryKey;type:varchar(64)" json:"store_code"`
	BusinessName   string      `gorm:"type:varchar(255)" json:"business_name"`
	Address        string      `gorm:"type:text" json:"address"`
	FloorArea      float64     `gorm:"not null" json:"floor_area"` // square metres, basis for pricing
	Status         StoreStatus `gorm:"type:varchar(20);not null;index;default:'pending'" json:"status"`
	ActivationDate *time.Time  `json:"activation_date"` // set once, never cleared
	ClosureDate    *time.Time  `json:"closure_date"`    // set on deactivation, cleared on reactivation

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Store) TableName() string {
	return "stores"
}

// Snapshot returns a detached copy, used for audit entries.
func (s Store) Snapshot() Store {
	cp := s
	if s.ActivationDate != nil {
		t := *s.ActivationDate
		cp.ActivationDate = &t
	}
	if s.ClosureDate != nil {
		t := *s.ClosureDate
		cp.ClosureDate = &t
	}
	return cp
}
