package notify

import (
	"context"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

// inAppBackend persists the notification row; the UI reads it directly.
type inAppBackend struct {
	db *gorm.DB
}

func NewInAppBackend(db *gorm.DB) backend {
	return &inAppBackend{db: db}
}

func (b *inAppBackend) Name() string {
	return models.NotifyBackendInApp
}

func (b *inAppBackend) Deliver(ctx context.Context, _ *models.ScopeConfig, notification *models.Notification, _ *TransitionEvent) error {
	return b.db.WithContext(ctx).Create(notification).Error
}
