package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/notify"
	"bitbucket.org/mmdatafocus/exchange_backend/reconcile"
)

var (
	ErrScopeNotConfigured  = errors.New("scope is not configured for exchange")
	ErrScopeDisabled       = errors.New("exchange is disabled for this scope")
	ErrInsufficientStock   = errors.New("insufficient stock for requested quantity")
	ErrUnknownItem         = errors.New("item is not traded in this scope")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotCancellable = errors.New("order is in a terminal state")
)

type CreateOrderItem struct {
	ItemType int64 `json:"item_type" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderInput struct {
	Direction string            `json:"direction" validate:"required,oneof=sell buy"`
	Items     []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
}

// Service handles user-facing order actions: create, cancel, force-refresh.
// Reconciliation itself never goes through here; it only shares the version
// guard so user actions and passes serialize per order.
type Service struct {
	db       *gorm.DB
	validate *validator.Validate
	emitter  notify.Emitter
	logger   *logrus.Logger
}

func NewService(db *gorm.DB, emitter notify.Emitter, logger *logrus.Logger) *Service {
	return &Service{
		db:       db,
		validate: validator.New(),
		emitter:  emitter,
		logger:   logger,
	}
}

// CreateOrder prices and persists a new order in pending state. Unit prices
// come from the scope's stock snapshot, never from the request; the total is
// fixed at creation and re-pricing requires a new order.
func (s *Service) CreateOrder(ctx context.Context, scopeId string, ownerId int64, input CreateOrderInput) (*models.ExchangeOrder, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}

	cfg, err := s.scopeConfig(ctx, scopeId)
	if err != nil {
		return nil, err
	}

	var order *models.ExchangeOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := make([]models.OrderItem, 0, len(input.Items))
		for _, in := range input.Items {
			var stock models.StockSnapshot
			if err := tx.Where("scope_id = ? AND item_type = ?", scopeId, in.ItemType).
				Take(&stock).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: type %d", ErrUnknownItem, in.ItemType)
				}
				return err
			}

			if input.Direction == models.OrderDirectionBuy {
				// Reserve counterparty stock up front; released on cancel.
				res := tx.Model(&models.StockSnapshot{}).
					Where("id = ? AND quantity >= ?", stock.ID, in.Quantity).
					Update("quantity", gorm.Expr("quantity - ?", in.Quantity))
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return fmt.Errorf("%w: type %d", ErrInsufficientStock, in.ItemType)
				}
			}

			items = append(items, models.OrderItem{
				ItemType:  in.ItemType,
				Quantity:  in.Quantity,
				UnitPrice: UnitPriceFor(cfg, &stock, input.Direction),
			})
		}

		order = &models.ExchangeOrder{
			ScopeId:         scopeId,
			OwnerId:         ownerId,
			Direction:       input.Direction,
			Status:          models.OrderStatusPending,
			StatusChangedAt: time.Now(),
			Total:           models.CeilTotal(items),
			Items:           items,
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		// The reference token needs the assigned id.
		reference := fmt.Sprintf("%s-%d", models.OrderReferencePrefix, order.ID)
		if err := tx.Model(&models.ExchangeOrder{}).
			Where("id = ?", order.ID).
			Update("order_reference", reference).Error; err != nil {
			return err
		}
		order.OrderReference = reference
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder is a first-class user transition: accepted from any non-terminal
// state and applied under the same version guard the reconciliation passes
// use, so an in-flight pass result for the order is discarded, not merged.
func (s *Service) CancelOrder(ctx context.Context, scopeId string, orderId uint, actorId int64, isOperator bool) (*models.ExchangeOrder, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var order models.ExchangeOrder
		err := s.db.WithContext(ctx).
			Preload("Items").
			Where("id = ? AND scope_id = ?", orderId, scopeId).
			Take(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrOrderNotFound
			}
			return nil, err
		}
		if !isOperator && order.OwnerId != actorId {
			return nil, ErrOrderNotFound
		}
		if order.Status.Terminal() {
			return nil, ErrOrderNotCancellable
		}
		if err := order.Status.CanTransition(models.OrderStatusCancelled); err != nil {
			return nil, ErrOrderNotCancellable
		}

		previous := order.Status
		res := s.db.WithContext(ctx).
			Model(&models.ExchangeOrder{}).
			Where("id = ? AND version = ?", order.ID, order.Version).
			Updates(map[string]interface{}{
				"status":            models.OrderStatusCancelled,
				"status_changed_at": time.Now(),
				"version":           order.Version + 1,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// A pass got there first; re-read and retry against the new state.
			continue
		}

		order.Status = models.OrderStatusCancelled
		order.Version++
		s.releaseReservedStock(ctx, &order)

		cfg, _ := s.scopeConfig(ctx, scopeId)
		_ = s.emitter.EmitTransition(ctx, cfg, notify.TransitionEvent{
			ScopeId:        order.ScopeId,
			OrderId:        order.ID,
			OrderReference: order.Reference(),
			RecipientId:    order.OwnerId,
			PreviousStatus: previous,
			NewStatus:      models.OrderStatusCancelled,
			Reason:         "cancelled by user",
			OccurredAt:     time.Now(),
		})
		return &order, nil
	}
	return nil, reconcile.ErrConcurrentModification
}

// ForceRefresh bumps the order's version so any in-flight pass result is
// discarded, then queues a forced-refresh fast pass for its scope.
func (s *Service) ForceRefresh(ctx context.Context, scopeId string, orderId uint, actorId int64, isOperator bool) error {
	var order models.ExchangeOrder
	err := s.db.WithContext(ctx).
		Where("id = ? AND scope_id = ?", orderId, scopeId).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return err
	}
	if !isOperator && order.OwnerId != actorId {
		return ErrOrderNotFound
	}
	if order.Status.Terminal() {
		return ErrOrderNotCancellable
	}

	res := s.db.WithContext(ctx).
		Model(&models.ExchangeOrder{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Update("version", order.Version+1)
	if res.Error != nil {
		return res.Error
	}

	if err := reconcile.PublishRunTrigger(ctx, reconcile.RunTriggerPayload{
		Pass:         models.ReconcilePassFast,
		TriggeredBy:  models.ReconcileTriggeredManual,
		ForceRefresh: true,
	}); err != nil {
		s.logger.WithField("orderId", order.ID).WithError(err).Warn("force refresh trigger not published")
	}
	return nil
}

// releaseReservedStock returns a cancelled buy order's reserved quantities.
func (s *Service) releaseReservedStock(ctx context.Context, order *models.ExchangeOrder) {
	if order.Direction != models.OrderDirectionBuy {
		return
	}
	for _, item := range order.Items {
		if err := s.db.WithContext(ctx).
			Model(&models.StockSnapshot{}).
			Where("scope_id = ? AND item_type = ?", order.ScopeId, item.ItemType).
			Update("quantity", gorm.Expr("quantity + ?", item.Quantity)).Error; err != nil {
			s.logger.WithFields(logrus.Fields{
				"orderId":  order.ID,
				"itemType": item.ItemType,
			}).WithError(err).Error("failed to release reserved stock")
		}
	}
}

func (s *Service) scopeConfig(ctx context.Context, scopeId string) (*models.ScopeConfig, error) {
	var cfg models.ScopeConfig
	err := s.db.WithContext(ctx).Where("scope_id = ?", scopeId).Take(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScopeNotConfigured
		}
		return nil, err
	}
	if !cfg.IsActive {
		return nil, ErrScopeDisabled
	}
	return &cfg, nil
}
