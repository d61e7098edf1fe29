package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrStoreNotFound     = errors.New("store not found")
	ErrStoreExists       = errors.New("store already exists")
	ErrInvalidStoreInput = errors.New("store code and a positive floor area are required")
)

// Reasons recorded by the import reconciliation.
const (
	ReasonInitialImport     = "initial import"
	ReasonReactivatedImport = "reactivated by import"
	ReasonAbsentFromImport  = "absent from latest import"
)

// storeTransitions lists the allowed targets per source status.
var storeTransitions = map[model.StoreStatus][]model.StoreStatus{
	model.StoreStatusPending:   {model.StoreStatusActive, model.StoreStatusInactive},
	model.StoreStatusActive:    {model.StoreStatusSuspended, model.StoreStatusInactive},
	model.StoreStatusSuspended: {model.StoreStatusActive, model.StoreStatusInactive},
	model.StoreStatusInactive:  {model.StoreStatusPending},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to model.StoreStatus) bool {
	for _, allowed := range storeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type LifecycleEvent struct {
	StoreCode      string            `json:"store_code"`
	PreviousStatus model.StoreStatus `json:"previous_status"`
	NewStatus      model.StoreStatus `json:"new_status"`
	Reason         string            `json:"reason,omitempty"`
	EffectiveDate  time.Time         `json:"effective_date"`
}

// TransitionResult reports a state change attempt. A rejected transition is
// not an error: Success is false and the store is left untouched.
type TransitionResult struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Store   *model.Store    `json:"store,omitempty"`
	Event   *LifecycleEvent `json:"event,omitempty"`
}

type StoreInput struct {
	StoreCode    string  `json:"store_code"`
	BusinessName string  `json:"business_name"`
	Address      string  `json:"address"`
	FloorArea    float64 `json:"floor_area"`
}

// StoreChanges carries the attributes to update; nil fields are left alone.
type StoreChanges struct {
	BusinessName *string  `json:"business_name"`
	Address      *string  `json:"address"`
	FloorArea    *float64 `json:"floor_area"`
}

type BulkUpdateResult struct {
	Created     []model.Store    `json:"created"`
	Updated     []model.Store    `json:"updated"`
	Deactivated []model.Store    `json:"deactivated"`
	Events      []LifecycleEvent `json:"events"`
}

func storeCodes(stores []model.Store) []string {
	codes := make([]string, len(stores))
	for i := range stores {
		codes[i] = stores[i].StoreCode
	}
	return codes
}

func (r *BulkUpdateResult) CreatedCodes() []string     { return storeCodes(r.Created) }
func (r *BulkUpdateResult) UpdatedCodes() []string     { return storeCodes(r.Updated) }
func (r *BulkUpdateResult) DeactivatedCodes() []string { return storeCodes(r.Deactivated) }

type LifecycleService interface {
	Activate(store *model.Store, reason, actor string) TransitionResult
	Deactivate(store *model.Store, reason, actor string) TransitionResult
	Suspend(store *model.Store, reason, actor string) TransitionResult
	Reapply(store *model.Store, reason, actor string) TransitionResult
	CreateStore(input StoreInput, actor string) (*model.Store, error)
	UpdateStore(store *model.Store, changes StoreChanges, actor string) (*model.Store, error)
	ProcessBulkUpdate(existing map[string]*model.Store, rows []ImportedRow, actor string) (*BulkUpdateResult, error)
	GetStore(code string) (*model.Store, error)
	ListStores(filter repository.StoreFilter) ([]model.Store, error)
	StoreMap() (map[string]*model.Store, error)
	GetAuditLog(entityType model.AuditEntityType, entityID string) ([]model.AuditLog, error)
	InitSession(sessionID string) error
	ClearSessionData() error
}

type lifecycleService struct {
	mu        sync.Mutex
	storeRepo repository.StoreRepository
	audit     AuditService
	session   string
	now       func() time.Time
}

func NewLifecycleService(storeRepo repository.StoreRepository, audit AuditService) LifecycleService {
	return &lifecycleService{
		storeRepo: storeRepo,
		audit:     audit,
		now:       time.Now,
	}
}

func (s *lifecycleService) Activate(store *model.Store, reason, actor string) TransitionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activate(store, reason, actor)
}

func (s *lifecycleService) Deactivate(store *model.Store, reason, actor string) TransitionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivate(store, reason, actor)
}

func (s *lifecycleService) Suspend(store *model.Store, reason, actor string) TransitionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(store, model.StoreStatusSuspended, model.AuditActionSuspend, reason, actor, nil)
}

// Reapply moves an inactive store back to pending; it is the only way out of inactive.
func (s *lifecycleService) Reapply(store *model.Store, reason, actor string) TransitionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reapply(store, reason, actor)
}

func (s *lifecycleService) activate(store *model.Store, reason, actor string) TransitionResult {
	return s.transition(store, model.StoreStatusActive, model.AuditActionActivate, reason, actor,
		func(next *model.Store, now time.Time) {
			if next.ActivationDate == nil {
				t := now
				next.ActivationDate = &t
			}
			next.ClosureDate = nil
		})
}

func (s *lifecycleService) deactivate(store *model.Store, reason, actor string) TransitionResult {
	return s.transition(store, model.StoreStatusInactive, model.AuditActionDeactivate, reason, actor,
		func(next *model.Store, now time.Time) {
			t := now
			next.ClosureDate = &t
		})
}

func (s *lifecycleService) reapply(store *model.Store, reason, actor string) TransitionResult {
	return s.transition(store, model.StoreStatusPending, model.AuditActionReapply, reason, actor, nil)
}

// transition validates and applies a status change. The caller's store is
// only overwritten after the new state has been persisted.
func (s *lifecycleService) transition(
	store *model.Store,
	target model.StoreStatus,
	action model.AuditAction,
	reason, actor string,
	apply func(next *model.Store, now time.Time),
) TransitionResult {
	if store == nil {
		return TransitionResult{Error: "store is required"}
	}
	if store.Status == target {
		return TransitionResult{
			Store: store,
			Error: fmt.Sprintf("store %s is already %s", store.StoreCode, target),
		}
	}
	if !CanTransition(store.Status, target) {
		logger.Warn("Rejected store transition", map[string]interface{}{
			"store_code": store.StoreCode,
			"from":       store.Status,
			"to":         target,
		})
		return TransitionResult{
			Store: store,
			Error: fmt.Sprintf("cannot transition store %s from %s to %s", store.StoreCode, store.Status, target),
		}
	}

	now := s.now()
	previous := store.Snapshot()
	next := store.Snapshot()
	next.Status = target
	next.UpdatedAt = now
	if apply != nil {
		apply(&next, now)
	}

	if err := s.storeRepo.Update(&next); err != nil {
		return TransitionResult{Store: store, Error: fmt.Sprintf("failed to save store %s: %v", store.StoreCode, err)}
	}

	metadata := map[string]interface{}{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.record(action, previous, next, actor, metadata)

	*store = next
	event := &LifecycleEvent{
		StoreCode:      store.StoreCode,
		PreviousStatus: previous.Status,
		NewStatus:      target,
		Reason:         reason,
		EffectiveDate:  now,
	}

	logger.Info("Store transitioned", map[string]interface{}{
		"store_code": store.StoreCode,
		"from":       previous.Status,
		"to":         target,
		"reason":     reason,
	})

	return TransitionResult{Success: true, Store: store, Event: event}
}

func (s *lifecycleService) CreateStore(input StoreInput, actor string) (*model.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createStore(input, actor)
}

func (s *lifecycleService) createStore(input StoreInput, actor string) (*model.Store, error) {
	code := strings.TrimSpace(input.StoreCode)
	if code == "" || input.FloorArea <= 0 {
		return nil, ErrInvalidStoreInput
	}

	if _, err := s.storeRepo.FindByCode(code); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, code)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.now()
	store := &model.Store{
		StoreCode:    code,
		BusinessName: strings.TrimSpace(input.BusinessName),
		Address:      strings.TrimSpace(input.Address),
		FloorArea:    input.FloorArea,
		Status:       model.StoreStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storeRepo.Create(store); err != nil {
		return nil, err
	}

	s.record(model.AuditActionCreate, nil, store.Snapshot(), actor, nil)

	logger.Info("Store created", map[string]interface{}{
		"store_code": store.StoreCode,
		"floor_area": store.FloorArea,
	})
	return store, nil
}

func (s *lifecycleService) UpdateStore(store *model.Store, changes StoreChanges, actor string) (*model.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStore(store, changes, actor)
}

// updateStore applies attribute changes. Status is never touched here.
func (s *lifecycleService) updateStore(store *model.Store, changes StoreChanges, actor string) (*model.Store, error) {
	if store == nil {
		return nil, ErrStoreNotFound
	}
	if changes.FloorArea != nil && *changes.FloorArea <= 0 {
		return nil, ErrInvalidFloorArea
	}

	previous := store.Snapshot()
	next := store.Snapshot()
	changed := false
	if changes.BusinessName != nil && *changes.BusinessName != next.BusinessName {
		next.BusinessName = *changes.BusinessName
		changed = true
	}
	if changes.Address != nil && *changes.Address != next.Address {
		next.Address = *changes.Address
		changed = true
	}
	if changes.FloorArea != nil && *changes.FloorArea != next.FloorArea {
		next.FloorArea = *changes.FloorArea
		changed = true
	}
	if !changed {
		return store, nil
	}

	next.UpdatedAt = s.now()
	if err := s.storeRepo.Update(&next); err != nil {
		return nil, err
	}

	s.record(model.AuditActionUpdate, previous, next, actor, nil)
	*store = next

	logger.Info("Store updated", map[string]interface{}{
		"store_code": store.StoreCode,
	})
	return store, nil
}

// ProcessBulkUpdate reconciles the roster in rows against existing. The import
// is the complete roster: unknown codes are created and activated, changed
// stores are updated (and reactivated when inactive), and active stores missing
// from the import are deactivated. Created stores are added to existing so a
// repeated call with the same rows is a no-op.
func (s *lifecycleService) ProcessBulkUpdate(existing map[string]*model.Store, rows []ImportedRow, actor string) (*BulkUpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing == nil {
		existing = make(map[string]*model.Store)
	}

	result := &BulkUpdateResult{
		Created:     make([]model.Store, 0),
		Updated:     make([]model.Store, 0),
		Deactivated: make([]model.Store, 0),
		Events:      make([]LifecycleEvent, 0),
	}

	imported := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		imported[row.StoreCode] = struct{}{}
	}

	for _, row := range rows {
		store, ok := existing[row.StoreCode]
		if !ok {
			created, err := s.createStore(StoreInput{
				StoreCode:    row.StoreCode,
				BusinessName: row.BusinessName,
				Address:      row.Address,
				FloorArea:    row.FloorArea,
			}, actor)
			if err != nil {
				return result, fmt.Errorf("create store %s: %w", row.StoreCode, err)
			}
			res := s.activate(created, ReasonInitialImport, actor)
			if !res.Success {
				return result, fmt.Errorf("activate store %s: %s", row.StoreCode, res.Error)
			}
			existing[created.StoreCode] = created
			result.Created = append(result.Created, *created)
			result.Events = append(result.Events, *res.Event)
			continue
		}

		if !rowDiffers(store, row) {
			continue
		}

		name, address, area := row.BusinessName, row.Address, row.FloorArea
		if _, err := s.updateStore(store, StoreChanges{BusinessName: &name, Address: &address, FloorArea: &area}, actor); err != nil {
			return result, fmt.Errorf("update store %s: %w", row.StoreCode, err)
		}

		if store.Status == model.StoreStatusInactive {
			for _, step := range []func(*model.Store, string, string) TransitionResult{s.reapply, s.activate} {
				res := step(store, ReasonReactivatedImport, actor)
				if !res.Success {
					return result, fmt.Errorf("reactivate store %s: %s", row.StoreCode, res.Error)
				}
				result.Events = append(result.Events, *res.Event)
			}
		}
		result.Updated = append(result.Updated, *store)
	}

	codes := make([]string, 0, len(existing))
	for code := range existing {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		store := existing[code]
		if _, present := imported[code]; present || store.Status != model.StoreStatusActive {
			continue
		}
		res := s.deactivate(store, ReasonAbsentFromImport, actor)
		if !res.Success {
			return result, fmt.Errorf("deactivate store %s: %s", code, res.Error)
		}
		result.Deactivated = append(result.Deactivated, *store)
		result.Events = append(result.Events, *res.Event)
	}

	logger.Info("Bulk store reconciliation finished", map[string]interface{}{
		"imported":    len(rows),
		"created":     len(result.Created),
		"updated":     len(result.Updated),
		"deactivated": len(result.Deactivated),
	})
	return result, nil
}

func rowDiffers(store *model.Store, row ImportedRow) bool {
	return store.BusinessName != row.BusinessName ||
		store.Address != row.Address ||
		store.FloorArea != row.FloorArea
}

func (s *lifecycleService) GetStore(code string) (*model.Store, error) {
	store, err := s.storeRepo.FindByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}
	return store, nil
}

func (s *lifecycleService) ListStores(filter repository.StoreFilter) ([]model.Store, error) {
	logger.Debug("Listing stores", map[string]interface{}{
		"status": filter.Status,
		"search": filter.Search,
	})
	return s.storeRepo.FindAll(filter)
}

// StoreMap loads every store keyed by code, the shape ProcessBulkUpdate expects.
func (s *lifecycleService) StoreMap() (map[string]*model.Store, error) {
	stores, err := s.storeRepo.FindAll(repository.StoreFilter{})
	if err != nil {
		return nil, err
	}
	m := make(map[string]*model.Store, len(stores))
	for i := range stores {
		m[stores[i].StoreCode] = &stores[i]
	}
	return m, nil
}

func (s *lifecycleService) GetAuditLog(entityType model.AuditEntityType, entityID string) ([]model.AuditLog, error) {
	return s.audit.History(entityType, entityID)
}

// InitSession adopts sessionID, wiping stores and audit history when it
// differs from the current one.
func (s *lifecycleService) InitSession(sessionID string) error {
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

func (s *lifecycleService) ClearSessionData() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear()
}

func (s *lifecycleService) clear() error {
	if err := s.storeRepo.DeleteAll(); err != nil {
		logger.Error("Failed to clear stores", err)
		return err
	}
	if err := s.audit.Clear(); err != nil {
		logger.Error("Failed to clear audit log", err)
		return err
	}
	logger.Info("Lifecycle session data cleared", map[string]interface{}{
		"session_id": s.session,
	})
	return nil
}

// record appends the audit entry for a store mutation. Failures are logged:
// the store change itself has already been persisted.
func (s *lifecycleService) record(action model.AuditAction, previous interface{}, next model.Store, actor string, metadata map[string]interface{}) {
	err := s.audit.Record(AuditRecord{
		Action:      action,
		EntityType:  model.AuditEntityStore,
		EntityID:    next.StoreCode,
		Previous:    previous,
		Next:        next,
		PerformedBy: actor,
		Metadata:    metadata,
	})
	if err != nil {
		logger.Error("Failed to record store audit entry", err, map[string]interface{}{
			"store_code": next.StoreCode,
			"action":     action,
		})
	}
}
