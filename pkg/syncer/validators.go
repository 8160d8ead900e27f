package syncer

type StartSyncJobBody struct {
	TourID     int    `json:"tour_id" validate:"required,min=1"`
	TenantID   string `json:"tenant_id" validate:"required"`
	TotalItems int    `json:"total_items" validate:"min=0"`
}
