package store

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord maps a caller-supplied idempotency key to the order it
// originally admitted, so a resubmission after a transient network error does
// not start a second pipeline for the same intent.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
