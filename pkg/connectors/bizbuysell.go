package connectors

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/bramble/pkg/httpclient"
	"github.com/Ramsey-B/bramble/pkg/models"
)

const (
	// BizBuySellDefaultPageSize is the search API page size
	BizBuySellDefaultPageSize = 25
	// BizBuySellDefaultMaxPages bounds a single run
	BizBuySellDefaultMaxPages = 10
	// bizBuySellCostPerRequest is the metered API cost per search request
	bizBuySellCostPerRequest = 0.01
)

// BizBuySellConfig holds connector configuration.
type BizBuySellConfig struct {
	BaseURL        string
	APIKey         string
	PageSize       int
	MaxPages       int
	Timeout        time.Duration
	RequestsPerMin int
	RequestBurst   int
}

// BizBuySell queries the BizBuySell search API page by page, yielding each
// listing as it is decoded. The per-request rate limiter keeps the connector
// inside the marketplace's published limits.
type BizBuySell struct {
	client  *httpclient.Client
	limiter *rate.Limiter
	cfg     BizBuySellConfig
	logger  ectologger.Logger
}

// NewBizBuySell creates the BizBuySell connector.
func NewBizBuySell(cfg BizBuySellConfig, client *httpclient.Client, logger ectologger.Logger) *BizBuySell {
	if cfg.PageSize <= 0 {
		cfg.PageSize = BizBuySellDefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = BizBuySellDefaultMaxPages
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 30
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 5
	}

	return &BizBuySell{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), cfg.RequestBurst),
		cfg:     cfg,
		logger:  logger,
	}
}

func (b *BizBuySell) ID() string {
	return "bizbuysell"
}

func (b *BizBuySell) Name() string {
	return "BizBuySell"
}

func (b *BizBuySell) Synchronous() bool {
	return false
}

func (b *BizBuySell) Timeout() time.Duration {
	return b.cfg.Timeout
}

// searchPage is the search API response shape.
type searchPage struct {
	Results []searchResult `json:"results"`
	Page    int            `json:"page"`
	HasMore bool           `json:"has_more"`
}

type searchResult struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	AskingPrice   *float64 `json:"asking_price"`
	AnnualRevenue *float64 `json:"annual_revenue"`
	Industry      string   `json:"industry"`
	Location      string   `json:"location"`
	URL           string   `json:"url"`
}

// Run pages through search results until the API reports no more pages, the
// page cap is reached, or ctx is cancelled.
func (b *BizBuySell) Run(ctx context.Context, params map[string]any, yield YieldFunc) (*Result, error) {
	log := b.logger.WithContext(ctx).WithField("source", b.ID())

	result := &Result{}
	for page := 1; page <= b.cfg.MaxPages; page++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := b.fetchPage(ctx, params, page)
		if err != nil {
			// Partial progress is already yielded; the failure is still
			// connector-level because the source stopped answering
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		result.Cost += bizBuySellCostPerRequest

		for _, item := range resp.Results {
			yield(models.CandidateListing{
				SourceID:      b.ID(),
				Name:          item.Title,
				Description:   item.Description,
				AskingPrice:   item.AskingPrice,
				AnnualRevenue: item.AnnualRevenue,
				Industry:      item.Industry,
				Location:      item.Location,
				OriginalURL:   item.URL,
				ScrapedAt:     time.Now().UTC(),
			})
			result.ItemsFound++
		}

		log.WithFields(map[string]any{
			"page":  page,
			"items": len(resp.Results),
			"total": result.ItemsFound,
		}).Debug("Fetched search page")

		if !resp.HasMore {
			break
		}
	}

	result.Message = fmt.Sprintf("found %d listings", result.ItemsFound)
	return result, nil
}

func (b *BizBuySell) fetchPage(ctx context.Context, params map[string]any, page int) (*searchPage, error) {
	query := url.Values{}
	query.Set("page", fmt.Sprintf("%d", page))
	query.Set("page_size", fmt.Sprintf("%d", b.cfg.PageSize))
	if keywords, ok := params["keywords"].(string); ok && keywords != "" {
		query.Set("q", keywords)
	}
	if industry, ok := params["industry"].(string); ok && industry != "" {
		query.Set("industry", industry)
	}

	endpoint := fmt.Sprintf("%s/v1/listings/search?%s", b.cfg.BaseURL, query.Encode())

	headers := map[string]string{"Accept": "application/json"}
	if b.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + b.cfg.APIKey
	}

	resp, err := b.client.Get(ctx, endpoint, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var pageResp searchPage
	if err := resp.DecodeJSON(&pageResp); err != nil {
		return nil, err
	}

	return &pageResp, nil
}
