package reconcile

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

// OrderStore is the orchestrator's persistence boundary. The gorm
// implementation backs production; tests substitute an in-memory fake.
type OrderStore interface {
	ActiveScopes(ctx context.Context) ([]models.ScopeConfig, error)
	ScopeConfig(ctx context.Context, scopeId string) (*models.ScopeConfig, error)

	ActiveOrders(ctx context.Context, scopeId string) ([]models.ExchangeOrder, error)

	ContractsForScope(ctx context.Context, scopeId string) ([]models.CachedContract, error)
	ReplaceScopeContracts(ctx context.Context, scopeId string, contracts []models.CachedContract, cacheToken string, syncedAt time.Time) error

	// ApplyDecision persists a pass result for one order under the optimistic
	// version guard. A version mismatch returns ErrConcurrentModification and
	// the caller discards its result.
	ApplyDecision(ctx context.Context, order *models.ExchangeOrder, decision Decision, now time.Time) error

	CreateRun(ctx context.Context, run *models.ReconcileRun) error
	FinishRun(ctx context.Context, run *models.ReconcileRun) error
	RecordError(ctx context.Context, recErr *models.ReconcileError) error
}

type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) OrderStore {
	return &gormStore{db: db}
}

func (s *gormStore) ActiveScopes(ctx context.Context) ([]models.ScopeConfig, error) {
	var scopes []models.ScopeConfig
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("scope_id").
		Find(&scopes).Error
	return scopes, err
}

func (s *gormStore) ScopeConfig(ctx context.Context, scopeId string) (*models.ScopeConfig, error) {
	var cfg models.ScopeConfig
	err := s.db.WithContext(ctx).Where("scope_id = ?", scopeId).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *gormStore) ActiveOrders(ctx context.Context, scopeId string) ([]models.ExchangeOrder, error) {
	var orders []models.ExchangeOrder
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("scope_id = ? AND status NOT IN ?", scopeId, []models.OrderStatus{
			models.OrderStatusCompleted, models.OrderStatusRejected, models.OrderStatusCancelled,
		}).
		Order("id").
		Find(&orders).Error
	return orders, err
}

func (s *gormStore) ContractsForScope(ctx context.Context, scopeId string) ([]models.CachedContract, error) {
	var contracts []models.CachedContract
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("scope_id = ?", scopeId).
		Find(&contracts).Error
	return contracts, err
}

// ReplaceScopeContracts swaps the scope's contract cache for a fresh registry
// snapshot in one transaction, and stamps the scope's sync time and cache
// token.
func (s *gormStore) ReplaceScopeContracts(ctx context.Context, scopeId string, contracts []models.CachedContract, cacheToken string, syncedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var staleIds []uint
		if err := tx.Model(&models.CachedContract{}).
			Where("scope_id = ?", scopeId).
			Pluck("id", &staleIds).Error; err != nil {
			return err
		}
		if len(staleIds) > 0 {
			if err := tx.Where("contract_ref IN ?", staleIds).
				Delete(&models.CachedContractItem{}).Error; err != nil {
				return err
			}
			if err := tx.Where("scope_id = ?", scopeId).
				Delete(&models.CachedContract{}).Error; err != nil {
				return err
			}
		}
		for i := range contracts {
			contracts[i].ID = 0
			contracts[i].ScopeId = scopeId
			contracts[i].LastSynced = syncedAt
			for j := range contracts[i].Items {
				contracts[i].Items[j].ID = 0
			}
			if err := tx.Create(&contracts[i]).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.ScopeConfig{}).
			Where("scope_id = ?", scopeId).
			Updates(map[string]interface{}{
				"last_contract_sync": syncedAt,
				"contract_cache_tok": cacheToken,
			}).Error
	})
}

func (s *gormStore) ApplyDecision(ctx context.Context, order *models.ExchangeOrder, decision Decision, now time.Time) error {
	if decision.Changed {
		if err := order.Status.CanTransition(decision.NextStatus); err != nil {
			return err
		}
	}

	updates := map[string]interface{}{
		"diagnostics_json": order.DiagnosticsJSON,
		"attempt_count":    order.AttemptCount + 1,
		"last_checked_at":  now,
		"version":          order.Version + 1,
	}
	if decision.Changed {
		updates["status"] = decision.NextStatus
		updates["status_changed_at"] = now
	}
	if decision.MatchedContractId != nil {
		updates["matched_contract_id"] = *decision.MatchedContractId
	}

	result := s.db.WithContext(ctx).
		Model(&models.ExchangeOrder{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}

	order.Version++
	order.AttemptCount++
	order.LastCheckedAt = &now
	if decision.Changed {
		order.Status = decision.NextStatus
		order.StatusChangedAt = now
	}
	if decision.MatchedContractId != nil {
		order.MatchedContractId = decision.MatchedContractId
	}
	return nil
}

func (s *gormStore) CreateRun(ctx context.Context, run *models.ReconcileRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *gormStore) FinishRun(ctx context.Context, run *models.ReconcileRun) error {
	return s.db.WithContext(ctx).Save(run).Error
}

func (s *gormStore) RecordError(ctx context.Context, recErr *models.ReconcileError) error {
	return s.db.WithContext(ctx).Create(recErr).Error
}
