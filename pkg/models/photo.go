package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Photo is an uploaded panorama image attached to a hotspot.
type Photo struct {
	bun.BaseModel `bun:"table:photos,alias:p"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HotspotID   int       `bun:",nullzero" json:"hotspot_id"`
	TourID      int       `bun:",nullzero" json:"tour_id"`
	Filename    string    `bun:",nullzero" json:"filename"`
	ContentType string    `bun:",nullzero" json:"content_type"`
	StoragePath string    `bun:",nullzero" json:"storage_path"`
	FileSize    int64     `json:"file_size"`
}
