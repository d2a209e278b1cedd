package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

// TransitionEvent is emitted at most once per meaningful order transition per
// reconciliation pass. Delivery fan-out beyond the configured backends is the
// consumer's job.
type TransitionEvent struct {
	EventId        string             `json:"event_id"`
	ScopeId        string             `json:"scope_id"`
	OrderId        uint               `json:"order_id"`
	OrderReference string             `json:"order_reference"`
	RecipientId    int64              `json:"recipient_id"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
	Reason         string             `json:"reason"`
	Diagnostics    json.RawMessage    `json:"diagnostics,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// Emitter is the engine's notification boundary. The engine handles
// deduplication (suppressed anomalies, reminder cadence) before calling it.
type Emitter interface {
	EmitTransition(ctx context.Context, cfg *models.ScopeConfig, event TransitionEvent) error
	EmitReminder(ctx context.Context, cfg *models.ScopeConfig, order *models.ExchangeOrder) error
	EmitOperatorAlert(ctx context.Context, scopeId, code, message string) error
}

// backend delivers one event over one channel.
type backend interface {
	Name() string
	Deliver(ctx context.Context, cfg *models.ScopeConfig, notification *models.Notification, event *TransitionEvent) error
}

// MultiEmitter dispatches to the backends named in the scope's NotifyBackends
// csv. A backend failure is logged and does not block the others; the engine
// never retries deliveries.
type MultiEmitter struct {
	logger   *logrus.Logger
	backends map[string]backend
}

func NewMultiEmitter(logger *logrus.Logger, backends ...backend) *MultiEmitter {
	byName := make(map[string]backend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &MultiEmitter{logger: logger, backends: byName}
}

func (m *MultiEmitter) EmitTransition(ctx context.Context, cfg *models.ScopeConfig, event TransitionEvent) error {
	if event.EventId == "" {
		event.EventId = uuid.NewString()
	}
	notification := &models.Notification{
		ScopeId:        event.ScopeId,
		RecipientId:    event.RecipientId,
		OrderId:        event.OrderId,
		Level:          levelFor(event.NewStatus),
		Title:          titleFor(event),
		Body:           event.Reason,
		EventId:        event.EventId,
		PreviousStatus: event.PreviousStatus,
		NewStatus:      event.NewStatus,
		PayloadJSON:    mustJSON(event),
	}
	m.deliver(ctx, cfg, notification, &event)
	return nil
}

func (m *MultiEmitter) EmitReminder(ctx context.Context, cfg *models.ScopeConfig, order *models.ExchangeOrder) error {
	notification := &models.Notification{
		ScopeId:     order.ScopeId,
		RecipientId: order.OwnerId,
		OrderId:     order.ID,
		Level:       models.NotificationLevelWarning,
		Title:       "Order " + order.Reference() + " still awaiting a contract",
		Body:        "No matching contract has been found yet. Check the contract's reference, items and price.",
		EventId:     uuid.NewString(),
	}
	m.deliver(ctx, cfg, notification, nil)
	return nil
}

func (m *MultiEmitter) EmitOperatorAlert(ctx context.Context, scopeId, code, message string) error {
	notification := &models.Notification{
		ScopeId: scopeId,
		Level:   models.NotificationLevelDanger,
		Title:   code,
		Body:    message,
		EventId: uuid.NewString(),
	}
	// Operator alerts always land in-app regardless of scope preferences.
	if inapp, ok := m.backends[models.NotifyBackendInApp]; ok {
		if err := inapp.Deliver(ctx, nil, notification, nil); err != nil {
			m.logDeliveryError(inapp.Name(), scopeId, err)
		}
	}
	m.logger.WithFields(logrus.Fields{
		"scopeId": scopeId,
		"code":    code,
	}).Warn(message)
	return nil
}

func (m *MultiEmitter) deliver(ctx context.Context, cfg *models.ScopeConfig, notification *models.Notification, event *TransitionEvent) {
	for _, name := range backendNames(cfg) {
		b, ok := m.backends[name]
		if !ok {
			continue
		}
		if err := b.Deliver(ctx, cfg, notification, event); err != nil {
			m.logDeliveryError(name, notification.ScopeId, err)
		}
	}
}

func (m *MultiEmitter) logDeliveryError(backendName, scopeId string, err error) {
	m.logger.WithFields(logrus.Fields{
		"backend": backendName,
		"scopeId": scopeId,
		"error":   err.Error(),
	}).Error("notification delivery failed")
}

func backendNames(cfg *models.ScopeConfig) []string {
	if cfg == nil || cfg.NotifyBackends == "" {
		return []string{models.NotifyBackendInApp}
	}
	var names []string
	for _, name := range strings.Split(cfg.NotifyBackends, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func levelFor(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusCompleted, models.OrderStatusValidated:
		return models.NotificationLevelSuccess
	case models.OrderStatusAnomaly:
		return models.NotificationLevelWarning
	case models.OrderStatusAnomalyRejected, models.OrderStatusRejected, models.OrderStatusCancelled:
		return models.NotificationLevelDanger
	}
	return models.NotificationLevelInfo
}

func titleFor(event TransitionEvent) string {
	switch event.NewStatus {
	case models.OrderStatusAwaitingValidation:
		return "Order " + event.OrderReference + " matched a contract"
	case models.OrderStatusCompleted:
		return "Order " + event.OrderReference + " completed"
	case models.OrderStatusValidated:
		return "Order " + event.OrderReference + " validated"
	case models.OrderStatusAnomaly:
		return "Order " + event.OrderReference + " needs attention"
	case models.OrderStatusAnomalyRejected:
		return "Contract for order " + event.OrderReference + " was withdrawn"
	case models.OrderStatusRejected:
		return "Order " + event.OrderReference + " rejected"
	case models.OrderStatusCancelled:
		return "Order " + event.OrderReference + " cancelled"
	}
	return "Order " + event.OrderReference + " updated"
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
