package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type CoverageType string

const (
	CoverageNaturalCatastrophe CoverageType = "natural_catastrophe"
	CoverageProperty           CoverageType = "property"
	CoverageCombined           CoverageType = "combined"
)

func (c CoverageType) Valid() bool {
	switch c {
	case CoverageNaturalCatastrophe, CoverageProperty, CoverageCombined:
		return true
	}
	return false
}

type PolicyStatus string

const (
	PolicyStatusPending   PolicyStatus = "pending"
	PolicyStatusActive    PolicyStatus = "active"
	PolicyStatusExpired   PolicyStatus = "expired"
	PolicyStatusCancelled PolicyStatus = "cancelled"
)

// Policy is one coverage period for a store. At most one policy per store is
// active at any time; PolicyService enforces this.
type Policy struct {
	PolicyID      string          `gorm:"primaryKey;type:varchar(120)" json:"policy_id"`
	StoreCode     string          `gorm:"type:varchar(64);not null;index" json:"store_code"`
	CoverageType  CoverageType    `gorm:"type:varchar(30);not null" json:"coverage_type"`
	InsuredSum    decimal.Decimal `gorm:"type:decimal(16,2);not null" json:"insured_sum"`
	Premium       decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"premium"`
	EffectiveFrom time.Time       `gorm:"not null" json:"effective_from"`
	EffectiveTo   time.Time       `gorm:"not null;index" json:"effective_to"`
	Status        PolicyStatus    `gorm:"type:varchar(20);not null;index" json:"status"`

	PreviousPolicyID   string `gorm:"type:varchar(120)" json:"previous_policy_id,omitempty"`
	CancellationReason string `gorm:"type:text" json:"cancellation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Policy) TableName() string {
	return "policies"
}

// Certificate is issued on demand and never modified afterwards.
type Certificate struct {
	CertID          string    `gorm:"primaryKey;type:varchar(64)" json:"cert_id"`
	PolicyID        string    `gorm:"type:varchar(120);not null;index" json:"policy_id"`
	StoreCode       string    `gorm:"type:varchar(64);not null;index" json:"store_code"`
	IssueDate       time.Time `gorm:"not null" json:"issue_date"`
	DocumentLocator string    `gorm:"type:text" json:"document_locator"`
	ValidFrom       time.Time `gorm:"not null" json:"valid_from"`
	ValidTo         time.Time `gorm:"not null" json:"valid_to"`
}

func (Certificate) TableName() string {
	return "certificates"
}
