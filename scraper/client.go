package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"domain_ingest/config"
	"domain_ingest/httputil"
	"domain_ingest/metrics"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const searchEndpoint = "/listings/residential/_search"

// AllPropertyTypes is what an unfiltered suburb search asks for
var AllPropertyTypes = []string{
	"House", "NewApartments", "ApartmentUnitFlat", "Villa", "Land",
	"Acreage", "NewLand", "NewHouseLand", "Duplex", "SemiDetached",
	"Townhouse", "NewTownhouse", "NewDuplex", "Terrace", "ServicedApartment",
	"Studio", "BlockOfUnits", "RetirementLiving",
}

type SearchLocation struct {
	State                     string `json:"state"`
	Region                    string `json:"region"`
	Area                      string `json:"area"`
	Suburb                    string `json:"suburb"`
	PostCode                  string `json:"postCode"`
	IncludeSurroundingSuburbs bool   `json:"includeSurroundingSuburbs"`
}

// SearchRequest is the body of a residential listings search
type SearchRequest struct {
	ListingType   string           `json:"listingType"`
	PropertyTypes []string         `json:"propertyTypes,omitempty"`
	MinBedrooms   int              `json:"minBedrooms,omitempty"`
	MaxPrice      int              `json:"maxPrice,omitempty"`
	Locations     []SearchLocation `json:"locations"`
	Page          int              `json:"page"`
	PageSize      int              `json:"pageSize"`
}

// SuburbSearch is a first-page search over every property type for sale in suburb
func SuburbSearch(suburb string, pageSize int) SearchRequest {
	if pageSize <= 0 {
		pageSize = 100
	}
	return SearchRequest{
		ListingType:   "Sale",
		PropertyTypes: AllPropertyTypes,
		Locations:     []SearchLocation{{Suburb: suburb}},
		Page:          1,
		PageSize:      pageSize,
	}
}

// ProfileSearch builds the first-page request for a saved search profile
func ProfileSearch(p *config.SearchProfile) SearchRequest {
	types := p.PropertyTypes
	if len(types) == 0 {
		types = AllPropertyTypes
	}
	return SearchRequest{
		ListingType:   p.ListingType,
		PropertyTypes: types,
		MinBedrooms:   p.MinBedrooms,
		MaxPrice:      p.MaxPrice,
		Locations: []SearchLocation{{
			State:    p.State,
			Suburb:   p.Suburb,
			PostCode: p.Postcode,
		}},
		Page:     1,
		PageSize: p.PageSize,
	}
}

// PageFunc receives each fetched page; returning an error stops the search
type PageFunc func(page int, results []json.RawMessage) error

// DomainClient calls the Domain listings API with a client-credentials token.
// Requests are spaced by DOMAIN_RATE_LIMIT_MS.
type DomainClient struct {
	http    *resty.Client
	tokens  *TokenSource
	apiKey  string
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	metrics *metrics.Registry
}

func NewDomainClient(clients *httputil.Clients, cfg config.DomainConfig, log *zap.SugaredLogger, m *metrics.Registry) *DomainClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	client := resty.NewWithClient(clients.API).
		SetBaseURL(cfg.APIURL).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		}).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	limit := rate.Inf
	if cfg.RateLimitMS > 0 {
		limit = rate.Every(time.Duration(cfg.RateLimitMS) * time.Millisecond)
	}

	return &DomainClient{
		http:    client,
		tokens:  NewTokenSource(clients.Auth, cfg, m),
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		metrics: m,
	}
}

// SearchPage fetches one page of results as raw JSON objects
func (c *DomainClient) SearchPage(ctx context.Context, req SearchRequest) ([]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("domain auth: %w", err)
	}

	apiKey := c.apiKey
	if apiKey == "" {
		apiKey = token
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Api-Key", apiKey).
		SetBody(req).
		Post(searchEndpoint)
	if err != nil {
		c.metrics.ObserveUpstream("search", 0)
		return nil, fmt.Errorf("domain search: %w", err)
	}
	c.metrics.ObserveUpstream("search", resp.StatusCode())

	if resp.StatusCode() == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.IsError() {
		return nil, fmt.Errorf("domain search: status %d: %s", resp.StatusCode(), truncate(resp.String(), 300))
	}

	results, err := decodeResults(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("domain search: %w", err)
	}

	c.log.Debugw("search page fetched",
		"suburbs", suburbsOf(req.Locations),
		"page", req.Page,
		"results", len(results),
	)
	return results, nil
}

// Search walks pages from req.Page until a short page, an empty page or
// maxPages pages (maxPages <= 0 means no cap). It returns the pages fetched.
func (c *DomainClient) Search(ctx context.Context, req SearchRequest, maxPages int, fn PageFunc) (int, error) {
	if req.Page <= 0 {
		req.Page = 1
	}

	fetched := 0
	for maxPages <= 0 || fetched < maxPages {
		results, err := c.SearchPage(ctx, req)
		if err != nil {
			return fetched, fmt.Errorf("page %d: %w", req.Page, err)
		}
		fetched++

		if len(results) > 0 {
			if err := fn(req.Page, results); err != nil {
				return fetched, err
			}
		}

		if len(results) == 0 || len(results) < req.PageSize {
			break
		}
		req.Page++
	}
	return fetched, nil
}

// decodeResults accepts a bare array or an object carrying it under "data"
func decodeResults(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []json.RawMessage{}, nil
	}

	var results []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &results); err != nil {
			return nil, err
		}
		return results, nil
	}

	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Data == nil {
		return []json.RawMessage{}, nil
	}
	return wrapped.Data, nil
}

func suburbsOf(locs []SearchLocation) []string {
	out := make([]string, 0, len(locs))
	for _, l := range locs {
		out = append(out, l.Suburb)
	}
	return out
}
