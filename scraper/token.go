package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"domain_ingest/config"
	"domain_ingest/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
)

const (
	tokenCacheKey = "domain_access_token"

	// tokens are dropped this long before the server would expire them
	tokenExpiryMargin = 60 * time.Second
)

var ErrMissingCredentials = errors.New("domain client id and secret are required")

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenSource fetches client-credentials tokens from the Domain auth server
// and caches them until shortly before they expire.
type TokenSource struct {
	http    *resty.Client
	cfg     config.DomainConfig
	cache   *cache.Cache
	metrics *metrics.Registry
	mu      sync.Mutex
}

func NewTokenSource(httpClient *http.Client, cfg config.DomainConfig, m *metrics.Registry) *TokenSource {
	return &TokenSource{
		http:    resty.NewWithClient(httpClient).SetHeader("Accept", "application/json"),
		cfg:     cfg,
		cache:   cache.New(cache.NoExpiration, 10*time.Minute),
		metrics: m,
	}
}

// Token returns a cached token or fetches a new one
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cache.Get(tokenCacheKey); ok {
		s.metrics.ObserveToken(true)
		return tok.(string), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have refreshed while we waited
	if tok, ok := s.cache.Get(tokenCacheKey); ok {
		s.metrics.ObserveToken(true)
		return tok.(string), nil
	}

	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		return "", ErrMissingCredentials
	}

	var body tokenResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret).
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
			"scope":      s.cfg.Scopes,
		}).
		SetResult(&body).
		Post(s.cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token request: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if body.AccessToken == "" {
		return "", errors.New("token response has no access_token")
	}
	s.metrics.ObserveToken(false)

	if ttl := time.Duration(body.ExpiresIn)*time.Second - tokenExpiryMargin; ttl > 0 {
		s.cache.Set(tokenCacheKey, body.AccessToken, ttl)
	}
	return body.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after the API answers 401
func (s *TokenSource) Invalidate() {
	s.cache.Delete(tokenCacheKey)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
