package services

import (
	"context"
	"fmt"
	"strings"

	"domain_ingest/models"
	"domain_ingest/storage"
)

// ListingReader is the read side of storage.ListingStore
type ListingReader interface {
	ListingsBySuburb(ctx context.Context, suburb string, limit int) ([]models.SuburbListing, error)
	RecentListings(ctx context.Context, limit int) ([]models.SuburbListing, error)
	Stats(ctx context.Context) (*models.ListingStats, error)
}

var _ ListingReader = (storage.ListingStore)(nil)

// QueryService is the read façade over stored listings
type QueryService struct {
	store ListingReader
}

func NewQueryService(store ListingReader) *QueryService {
	return &QueryService{store: store}
}

// ListingsBySuburb returns the joined view for one suburb, newest first.
// The suburb must match exactly; limit <= 0 returns every row.
func (s *QueryService) ListingsBySuburb(ctx context.Context, suburb string, limit int) ([]models.SuburbListing, error) {
	suburb = strings.TrimSpace(suburb)
	if suburb == "" {
		return nil, &ValidationError{Reason: "suburb is required"}
	}
	rows, err := s.store.ListingsBySuburb(ctx, suburb, limit)
	if err != nil {
		return nil, fmt.Errorf("listings by suburb %s: %w", suburb, err)
	}
	return rows, nil
}

func (s *QueryService) RecentListings(ctx context.Context, limit int) ([]models.SuburbListing, error) {
	rows, err := s.store.RecentListings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent listings: %w", err)
	}
	return rows, nil
}

func (s *QueryService) Stats(ctx context.Context) (*models.ListingStats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stats: %w", err)
	}
	return st, nil
}
