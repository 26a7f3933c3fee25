package models

import (
	"time"

	"github.com/google/uuid"
)

// MergeOperation records a confirmed primary/duplicate resolution. The
// operation is irreversible: duplicates are archived, not restored
// automatically.
type MergeOperation struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	TenantID     string      `json:"tenant_id" db:"tenant_id"`
	PrimaryID    uuid.UUID   `json:"primary_id" db:"primary_id"`
	DuplicateIDs []uuid.UUID `json:"duplicate_ids" db:"-"`
	PerformedBy  string      `json:"performed_by" db:"performed_by"`
	PerformedAt  time.Time   `json:"performed_at" db:"performed_at"`
}
