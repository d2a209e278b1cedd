package models

import "time"

const (
	NotificationLevelInfo    = "info"
	NotificationLevelSuccess = "success"
	NotificationLevelWarning = "warning"
	NotificationLevelDanger  = "danger"
)

// Notification is the in-app delivery row for a transition event. Fan-out to
// other channels is the delivery collaborator's job; the engine only writes
// one row per meaningful transition.
type Notification struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	ScopeId     string `gorm:"index;size:64;not null" json:"scope_id"`
	RecipientId int64  `gorm:"index;not null" json:"recipient_id"`
	OrderId     uint   `gorm:"index" json:"order_id"`

	Level   string `gorm:"size:16;not null" json:"level"`
	Title   string `gorm:"size:255;not null" json:"title"`
	Body    string `gorm:"type:text" json:"body"`
	EventId string `gorm:"size:64;index" json:"event_id"`

	PreviousStatus OrderStatus `gorm:"size:32" json:"previous_status"`
	NewStatus      OrderStatus `gorm:"size:32" json:"new_status"`
	PayloadJSON    []byte      `gorm:"type:json" json:"payload"`

	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
