package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	PendingPhotoStatusPending = "pending"
	PendingPhotoStatusSyncing = "syncing"
	PendingPhotoStatusSynced  = "synced"
	PendingPhotoStatusFailed  = "failed"
)

// PendingPhoto is a photo captured while offline, held locally until the sync
// orchestrator drains it to the backend.
type PendingPhoto struct {
	bun.BaseModel `bun:"table:pending_photos,alias:pp"`

	ID          string    `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HotspotID   int       `bun:",nullzero" json:"hotspot_id"`
	TourID      int       `bun:",nullzero" json:"tour_id"`
	TenantID    string    `bun:",nullzero" json:"tenant_id"`
	Payload     []byte    `bun:",nullzero" json:"-"`
	CapturedAt  time.Time `json:"captured_at"`
	Filename    string    `bun:",nullzero" json:"filename"`
	ContentType string    `bun:",nullzero" json:"content_type"`
	SyncStatus  string    `bun:",nullzero" json:"sync_status"`
	SyncError   *string   `json:"sync_error,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}
