package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/storage"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPolicyNotFound         = errors.New("policy not found")
	ErrPolicyAlreadyCancelled = errors.New("policy already cancelled")
	ErrPolicyNotActive        = errors.New("policy is not active")
	ErrActivePolicyExists     = errors.New("store already has an active policy")
	ErrCertificateNotFound    = errors.New("certificate not found")
	ErrInvalidCoverageType    = errors.New("invalid coverage type")
)

const DefaultPolicyDurationMonths = 12

type CreatePolicyInput struct {
	Store          *model.Store
	CoverageType   model.CoverageType
	EffectiveFrom  *time.Time // defaults to now
	DurationMonths int        // defaults to 12
	Actor          string
}

type CoverageSummary struct {
	Policies        int             `json:"policies"`
	TotalPremium    decimal.Decimal `json:"total_premium"`
	TotalInsuredSum decimal.Decimal `json:"total_insured_sum"`
}

type PortfolioSummary struct {
	ActivePolicies  int                                    `json:"active_policies"`
	TotalPremium    decimal.Decimal                        `json:"total_premium"`
	TotalInsuredSum decimal.Decimal                        `json:"total_insured_sum"`
	ByCoverage      map[model.CoverageType]CoverageSummary `json:"by_coverage"`
}

type PolicyService interface {
	CreatePolicy(input CreatePolicyInput) (*model.Policy, error)
	GetPolicy(policyID string) (*model.Policy, error)
	GetActivePolicy(storeCode string) (*model.Policy, bool)
	ListPolicies(filter repository.PolicyFilter) ([]model.Policy, error)
	PoliciesForStore(storeCode string) ([]model.Policy, error)
	CancelPolicy(policyID, reason, actor string) (*model.Policy, error)
	UpdatePolicyPricing(policyID string, store *model.Store, actor string) (*model.Policy, error)
	CanPrice(coverageType model.CoverageType) error
	RenewPolicy(policyID string, durationMonths int, actor string) (*model.Policy, error)
	RenewDuePolicies(asOf time.Time) (int, error)
	GenerateCertificate(policy *model.Policy) (*model.Certificate, error)
	GetCertificate(certID string) (*model.Certificate, error)
	CertificatesForPolicy(policyID string) ([]model.Certificate, error)
	GetPortfolioSummary() (*PortfolioSummary, error)
	InitSession(sessionID string) error
	ClearSessionData() error
}

type policyService struct {
	mu         sync.Mutex
	policyRepo repository.PolicyRepository
	pricing    PricingService
	audit      AuditService
	session    string
	now        func() time.Time
}

func NewPolicyService(policyRepo repository.PolicyRepository, pricing PricingService, audit AuditService) PolicyService {
	return &policyService{
		policyRepo: policyRepo,
		pricing:    pricing,
		audit:      audit,
		now:        time.Now,
	}
}

func newPolicyID(storeCode string, now time.Time) string {
	return fmt.Sprintf("POL-%s-%d-%s", storeCode, now.UnixMilli(), uuid.New().String()[:8])
}

func (s *policyService) CreatePolicy(input CreatePolicyInput) (*model.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.Store == nil {
		return nil, ErrStoreNotFound
	}
	if !input.CoverageType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCoverageType, input.CoverageType)
	}
	if existing, ok := s.activePolicy(input.Store.StoreCode); ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrActivePolicyExists, input.Store.StoreCode, existing.PolicyID)
	}

	now := s.now()
	from := now
	if input.EffectiveFrom != nil {
		from = *input.EffectiveFrom
	}
	months := input.DurationMonths
	if months <= 0 {
		months = DefaultPolicyDurationMonths
	}

	priced, err := s.pricing.Calculate(input.Store, input.CoverageType, from)
	if err != nil {
		logger.Warn("Policy pricing failed", map[string]interface{}{
			"store_code":    input.Store.StoreCode,
			"coverage_type": input.CoverageType,
			"error":         err.Error(),
		})
		return nil, err
	}

	policy := &model.Policy{
		PolicyID:      newPolicyID(input.Store.StoreCode, now),
		StoreCode:     input.Store.StoreCode,
		CoverageType:  input.CoverageType,
		InsuredSum:    priced.InsuredSum,
		Premium:       priced.Premium,
		EffectiveFrom: from,
		EffectiveTo:   from.AddDate(0, months, 0),
		Status:        model.PolicyStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.policyRepo.Create(policy); err != nil {
		return nil, err
	}

	s.record(model.AuditActionCreate, policy.PolicyID, nil, *policy, input.Actor, map[string]interface{}{
		"config_id": priced.Breakdown.ConfigID,
	})

	logger.Info("Policy created", map[string]interface{}{
		"policy_id":     policy.PolicyID,
		"store_code":    policy.StoreCode,
		"coverage_type": policy.CoverageType,
		"premium":       policy.Premium.String(),
	})
	return policy, nil
}

func (s *policyService) GetPolicy(policyID string) (*model.Policy, error) {
	policy, err := s.policyRepo.FindByID(policyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return policy, nil
}

func (s *policyService) GetActivePolicy(storeCode string) (*model.Policy, bool) {
	return s.activePolicy(storeCode)
}

func (s *policyService) activePolicy(storeCode string) (*model.Policy, bool) {
	policy, err := s.policyRepo.FindActiveByStore(storeCode)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("Failed to look up active policy", err, map[string]interface{}{
				"store_code": storeCode,
			})
		}
		return nil, false
	}
	return policy, true
}

func (s *policyService) ListPolicies(filter repository.PolicyFilter) ([]model.Policy, error) {
	logger.Debug("Listing policies", map[string]interface{}{
		"store_code":    filter.StoreCode,
		"status":        filter.Status,
		"coverage_type": filter.CoverageType,
	})
	return s.policyRepo.FindAll(filter)
}

func (s *policyService) PoliciesForStore(storeCode string) ([]model.Policy, error) {
	return s.policyRepo.FindAll(repository.PolicyFilter{StoreCode: storeCode})
}

func (s *policyService) CancelPolicy(policyID, reason, actor string) (*model.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel(policyID, reason, actor)
}

func (s *policyService) cancel(policyID, reason, actor string) (*model.Policy, error) {
	policy, err := s.GetPolicy(policyID)
	if err != nil {
		return nil, err
	}
	if policy.Status == model.PolicyStatusCancelled {
		return nil, fmt.Errorf("%w: %s", ErrPolicyAlreadyCancelled, policyID)
	}

	previous := *policy
	policy.Status = model.PolicyStatusCancelled
	policy.CancellationReason = reason
	policy.UpdatedAt = s.now()
	if err := s.policyRepo.Update(policy); err != nil {
		return nil, err
	}

	s.record(model.AuditActionCancel, policy.PolicyID, previous, *policy, actor, map[string]interface{}{
		"reason": reason,
	})

	logger.Info("Policy cancelled", map[string]interface{}{
		"policy_id":  policy.PolicyID,
		"store_code": policy.StoreCode,
		"reason":     reason,
	})
	return policy, nil
}

// UpdatePolicyPricing reprices the policy for the store's current floor area.
// Coverage type, dates and status stay as they are.
// CanPrice reports ErrNoActiveConfig when policies of coverageType could not
// be priced right now.
func (s *policyService) CanPrice(coverageType model.CoverageType) error {
	asOf := s.now()
	if _, ok := s.pricing.GetActiveConfig(coverageType, asOf); !ok {
		return fmt.Errorf("%w for %s on %s", ErrNoActiveConfig, coverageType, asOf.Format("2006-01-02"))
	}
	return nil
}

func (s *policyService) UpdatePolicyPricing(policyID string, store *model.Store, actor string) (*model.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store == nil {
		return nil, ErrStoreNotFound
	}
	policy, err := s.GetPolicy(policyID)
	if err != nil {
		return nil, err
	}

	priced, err := s.pricing.Calculate(store, policy.CoverageType, s.now())
	if err != nil {
		return nil, err
	}

	previous := *policy
	policy.Premium = priced.Premium
	policy.InsuredSum = priced.InsuredSum
	policy.UpdatedAt = s.now()
	if err := s.policyRepo.Update(policy); err != nil {
		return nil, err
	}

	s.record(model.AuditActionReprice, policy.PolicyID, previous, *policy, actor, map[string]interface{}{
		"floor_area": store.FloorArea,
		"config_id":  priced.Breakdown.ConfigID,
	})

	logger.Info("Policy repriced", map[string]interface{}{
		"policy_id": policy.PolicyID,
		"premium":   policy.Premium.String(),
	})
	return policy, nil
}

// RenewPolicy expires the policy and opens a successor starting exactly where
// it ended, carrying the same premium and insured sum.
func (s *policyService) RenewPolicy(policyID string, durationMonths int, actor string) (*model.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renew(policyID, durationMonths, actor)
}

func (s *policyService) renew(policyID string, durationMonths int, actor string) (*model.Policy, error) {
	if durationMonths <= 0 {
		durationMonths = DefaultPolicyDurationMonths
	}

	current, err := s.GetPolicy(policyID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.PolicyStatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrPolicyNotActive, policyID, current.Status)
	}

	now := s.now()
	previous := *current
	current.Status = model.PolicyStatusExpired
	current.UpdatedAt = now
	if err := s.policyRepo.Update(current); err != nil {
		return nil, err
	}

	successor := &model.Policy{
		PolicyID:         newPolicyID(current.StoreCode, now),
		StoreCode:        current.StoreCode,
		CoverageType:     current.CoverageType,
		InsuredSum:       current.InsuredSum,
		Premium:          current.Premium,
		EffectiveFrom:    current.EffectiveTo,
		EffectiveTo:      current.EffectiveTo.AddDate(0, durationMonths, 0),
		Status:           model.PolicyStatusActive,
		PreviousPolicyID: current.PolicyID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.policyRepo.Create(successor); err != nil {
		return nil, err
	}

	s.record(model.AuditActionRenew, current.PolicyID, previous, *successor, actor, map[string]interface{}{
		"successor_policy_id": successor.PolicyID,
		"duration_months":     durationMonths,
	})

	logger.Info("Policy renewed", map[string]interface{}{
		"policy_id":           current.PolicyID,
		"successor_policy_id": successor.PolicyID,
		"effective_to":        successor.EffectiveTo,
	})
	return successor, nil
}

// RenewDuePolicies renews every active policy whose window ended on or before asOf.
func (s *policyService) RenewDuePolicies(asOf time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.policyRepo.FindActiveEndingBy(asOf)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, policy := range due {
		if _, err := s.renew(policy.PolicyID, DefaultPolicyDurationMonths, SystemActor); err != nil {
			logger.Error("Failed to renew due policy", err, map[string]interface{}{
				"policy_id": policy.PolicyID,
			})
			continue
		}
		renewed++
	}

	if len(due) > 0 {
		logger.Info("Due policies renewed", map[string]interface{}{
			"as_of":   asOf,
			"due":     len(due),
			"renewed": renewed,
		})
	}
	return renewed, nil
}

// GenerateCertificate issues a certificate for the policy's current window.
// The policy status is deliberately not checked.
func (s *policyService) GenerateCertificate(policy *model.Policy) (*model.Certificate, error) {
	if policy == nil {
		return nil, ErrPolicyNotFound
	}

	certID := "CERT-" + uuid.New().String()
	cert := &model.Certificate{
		CertID:          certID,
		PolicyID:        policy.PolicyID,
		StoreCode:       policy.StoreCode,
		IssueDate:       s.now(),
		DocumentLocator: storage.CertificateKey(policy.StoreCode, certID),
		ValidFrom:       policy.EffectiveFrom,
		ValidTo:         policy.EffectiveTo,
	}
	if err := s.policyRepo.CreateCertificate(cert); err != nil {
		return nil, err
	}

	logger.Info("Certificate issued", map[string]interface{}{
		"cert_id":   cert.CertID,
		"policy_id": cert.PolicyID,
	})
	return cert, nil
}

func (s *policyService) GetCertificate(certID string) (*model.Certificate, error) {
	cert, err := s.policyRepo.FindCertificateByID(certID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, err
	}
	return cert, nil
}

func (s *policyService) CertificatesForPolicy(policyID string) ([]model.Certificate, error) {
	return s.policyRepo.FindCertificatesByPolicy(policyID)
}

// GetPortfolioSummary totals active policies only.
func (s *policyService) GetPortfolioSummary() (*PortfolioSummary, error) {
	active, err := s.policyRepo.FindAll(repository.PolicyFilter{Status: model.PolicyStatusActive})
	if err != nil {
		return nil, err
	}

	summary := &PortfolioSummary{
		TotalPremium:    decimal.Zero,
		TotalInsuredSum: decimal.Zero,
		ByCoverage:      make(map[model.CoverageType]CoverageSummary),
	}
	for _, p := range active {
		summary.ActivePolicies++
		summary.TotalPremium = summary.TotalPremium.Add(p.Premium)
		summary.TotalInsuredSum = summary.TotalInsuredSum.Add(p.InsuredSum)

		cs := summary.ByCoverage[p.CoverageType]
		cs.Policies++
		cs.TotalPremium = cs.TotalPremium.Add(p.Premium)
		cs.TotalInsuredSum = cs.TotalInsuredSum.Add(p.InsuredSum)
		summary.ByCoverage[p.CoverageType] = cs
	}
	return summary, nil
}

// InitSession adopts sessionID, wiping policies and certificates when it
// differs from the current one.
func (s *policyService) InitSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == sessionID {
		return nil
	}
	if err := s.clear(); err != nil {
		return err
	}
	s.session = sessionID
	return nil
}

func (s *policyService) ClearSessionData() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear()
}

func (s *policyService) clear() error {
	if err := s.policyRepo.DeleteAll(); err != nil {
		logger.Error("Failed to clear policies", err)
		return err
	}
	logger.Info("Policy session data cleared", map[string]interface{}{
		"session_id": s.session,
	})
	return nil
}

func (s *policyService) record(action model.AuditAction, policyID string, previous, next interface{}, actor string, metadata map[string]interface{}) {
	err := s.audit.Record(AuditRecord{
		Action:      action,
		EntityType:  model.AuditEntityPolicy,
		EntityID:    policyID,
		Previous:    previous,
		Next:        next,
		PerformedBy: actor,
		Metadata:    metadata,
	})
	if err != nil {
		logger.Error("Failed to record policy audit entry", err, map[string]interface{}{
			"policy_id": policyID,
			"action":    action,
		})
	}
}
