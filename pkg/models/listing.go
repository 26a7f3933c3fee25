package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing is the canonical stored record for a business listing. Duplicates
// are archived by flipping Active to false; rows are never deleted so the
// audit history survives merges.
type Listing struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	SourceID       string     `json:"source_id" db:"source_id"`
	Name           string     `json:"name" db:"name"`
	NormalizedName string     `json:"normalized_name" db:"normalized_name"`
	Description    string     `json:"description" db:"description"`
	AskingPrice    *float64   `json:"asking_price,omitempty" db:"asking_price"`
	AnnualRevenue  *float64   `json:"annual_revenue,omitempty" db:"annual_revenue"`
	Industry       string     `json:"industry" db:"industry"`
	Location       string     `json:"location" db:"location"`
	OriginalURL    string     `json:"original_url" db:"original_url"`
	ScrapedAt      time.Time  `json:"scraped_at" db:"scraped_at"`
	Active         bool       `json:"active" db:"active"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty" db:"archived_at"`
}

// CandidateListing is a raw record produced by a source connector. It is
// immutable once yielded; the duplicate detector and the persistence stage
// consume it.
type CandidateListing struct {
	SourceID      string    `json:"source_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	AskingPrice   *float64  `json:"asking_price,omitempty"`
	AnnualRevenue *float64  `json:"annual_revenue,omitempty"`
	Industry      string    `json:"industry"`
	Location      string    `json:"location"`
	OriginalURL   string    `json:"original_url"`
	ScrapedAt     time.Time `json:"scraped_at"`
}
