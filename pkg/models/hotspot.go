package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Hotspot struct {
	bun.BaseModel `bun:"table:hotspots,alias:h"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FloorPlanID int       `bun:",nullzero" json:"floor_plan_id"`
	Name        string    `bun:",nullzero" json:"name"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`

	Photos []*Photo `bun:"rel:has-many,join:id=hotspot_id" json:"photos,omitempty"`
}
