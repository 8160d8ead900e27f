package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Tour struct {
	bun.BaseModel `bun:"table:tours,alias:t"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UserID      string    `bun:",nullzero" json:"user_id"`
	Name        string    `bun:",nullzero" json:"name"`
	Description *string   `json:"description,omitempty"`
	Published   bool      `json:"published"`

	FloorPlans []*FloorPlan `bun:"rel:has-many,join:id=tour_id" json:"floor_plans,omitempty"`
}
