package models

import (
	"time"

	"github.com/uptrace/bun"
)

type FloorPlan struct {
	bun.BaseModel `bun:"table:floor_plans,alias:fp"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TourID    int       `bun:",nullzero" json:"tour_id"`
	Name      string    `bun:",nullzero" json:"name"`
	Position  int       `json:"position"`
	ImagePath *string   `json:"image_path,omitempty"`

	Hotspots []*Hotspot `bun:"rel:has-many,join:id=floor_plan_id" json:"hotspots,omitempty"`
}
