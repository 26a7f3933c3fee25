// Package connectors defines the source connector contract and the reference
// connectors that speak to external listing marketplaces.
package connectors

import (
	"context"
	"time"

	"github.com/Ramsey-B/bramble/pkg/models"
)

// YieldFunc receives each candidate as the connector finds it. Connectors
// must yield incrementally, not in one final batch, so the live stream
// reflects activity within seconds.
type YieldFunc func(candidate models.CandidateListing)

// Result is the terminal outcome of a successful connector run. A run that
// reached the source but matched nothing is a success with ItemsFound zero,
// not an error.
type Result struct {
	ItemsFound int     `json:"items_found"`
	Cost       float64 `json:"cost"`
	Message    string  `json:"message,omitempty"`
}

// Connector is one external listing source. Implementations must honor ctx
// cancellation if they can; those that cannot are allowed to run to
// completion in the background with their yields discarded.
type Connector interface {
	// ID is the stable source identifier ("bizbuysell")
	ID() string
	// Name is the human-readable source name
	Name() string
	// Synchronous reports whether the connector is fast enough to serve
	// inline from the crawl endpoint instead of a streamed run
	Synchronous() bool
	// Timeout is the per-run time bound; zero means the orchestrator default
	Timeout() time.Duration
	// Run executes a scrape, yielding candidates as they are found
	Run(ctx context.Context, params map[string]any, yield YieldFunc) (*Result, error)
}
