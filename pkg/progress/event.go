package progress

import (
	"time"

	"github.com/google/uuid"
)

// Level is the event discriminator carried on the wire.
type Level string

const (
	LevelInfo          Level = "INFO"
	LevelSuccess       Level = "SUCCESS"
	LevelWarning       Level = "WARNING"
	LevelError         Level = "ERROR"
	LevelListingFound  Level = "LISTING_FOUND"
	LevelSiteCompleted Level = "SITE_COMPLETED"
	LevelScrapingError Level = "SCRAPING_ERROR"
	LevelComplete      Level = "COMPLETE"
)

// Terminal reports whether the level closes the run's stream. COMPLETE is the
// only terminal level; per-source failures are reported in-band as
// SCRAPING_ERROR and the run continues.
func (l Level) Terminal() bool {
	return l == LevelComplete
}

// Event is one entry in a run's ordered progress log. SequenceNumber is
// assigned by the bus and is strictly increasing per run.
type Event struct {
	RunID          uuid.UUID      `json:"run_id"`
	SequenceNumber uint64         `json:"sequence_number"`
	Level          Level          `json:"level"`
	SourceID       string         `json:"source_id,omitempty"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
