package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/pkg/httpclient"
	"github.com/Ramsey-B/bramble/pkg/models"
)

// QuietLightConfig holds connector configuration.
type QuietLightConfig struct {
	BaseURL string
	Timeout time.Duration
}

// QuietLight pulls the brokerage's current listing feed in one request. The
// feed is small and fast, so the connector is synchronous: the crawl endpoint
// serves its result inline instead of opening a streamed run.
type QuietLight struct {
	client *httpclient.Client
	cfg    QuietLightConfig
	logger ectologger.Logger
}

// NewQuietLight creates the QuietLight connector.
func NewQuietLight(cfg QuietLightConfig, client *httpclient.Client, logger ectologger.Logger) *QuietLight {
	return &QuietLight{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

func (q *QuietLight) ID() string {
	return "quietlight"
}

func (q *QuietLight) Name() string {
	return "QuietLight"
}

func (q *QuietLight) Synchronous() bool {
	return true
}

func (q *QuietLight) Timeout() time.Duration {
	return q.cfg.Timeout
}

type feedListing struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	AskingPrice   *float64 `json:"asking_price"`
	AnnualRevenue *float64 `json:"revenue"`
	Niche         string   `json:"niche"`
	URL           string   `json:"url"`
}

// Run fetches the listing feed and yields every entry.
func (q *QuietLight) Run(ctx context.Context, params map[string]any, yield YieldFunc) (*Result, error) {
	endpoint := q.cfg.BaseURL + "/feed/listings.json"

	resp, err := q.client.Get(ctx, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("listing feed returned status %d", resp.StatusCode)
	}

	var feed []feedListing
	if err := resp.DecodeJSON(&feed); err != nil {
		return nil, err
	}

	for _, item := range feed {
		yield(models.CandidateListing{
			SourceID:      q.ID(),
			Name:          item.Title,
			Description:   item.Summary,
			AskingPrice:   item.AskingPrice,
			AnnualRevenue: item.AnnualRevenue,
			Industry:      item.Niche,
			OriginalURL:   item.URL,
			ScrapedAt:     time.Now().UTC(),
		})
	}

	q.logger.WithContext(ctx).WithFields(map[string]any{
		"source": q.ID(),
		"items":  len(feed),
	}).Debug("Fetched listing feed")

	return &Result{
		ItemsFound: len(feed),
		Message:    fmt.Sprintf("found %d listings", len(feed)),
	}, nil
}
