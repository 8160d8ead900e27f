package models

import (
	"time"

	"github.com/uptrace/bun"
)

const BackupPartStatusCompleted = "completed"

type BackupPart struct {
	bun.BaseModel `bun:"table:backup_parts,alias:bp"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	BackupJobID int       `bun:",nullzero" json:"backup_job_id"`
	PartNumber  int       `json:"part_number"`
	StoragePath string    `bun:",nullzero" json:"storage_path"`
	FileHash    string    `bun:",nullzero" json:"file_hash"`
	FileSize    int64     `json:"file_size"`
	ItemsCount  int       `json:"items_count"`
	Status      string    `bun:",nullzero" json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}
