package model

import "time"

// NotificationKind loosely categorizes notifications for client styling.
type NotificationKind string

const (
	NotificationKindInfo    NotificationKind = "info"
	NotificationKindSuccess NotificationKind = "success"
	NotificationKindWarning NotificationKind = "warning"
)

// Notification is a delivered message for one user (grade posted, resubmission
// approved). Dispatch is fire-and-forget through a redis queue.
type Notification struct {
	ID        int              `json:"id"`
	UserID    int              `json:"user_id"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
