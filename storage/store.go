package storage

import (
	"context"
	"fmt"

	"domain_ingest/models"
)

// ListingStore is implemented by PostgresStore and SQLiteStore
type ListingStore interface {
	// ListingIDByDomainID returns nil when no listing has the external id
	ListingIDByDomainID(ctx context.Context, domainListingID string) (*int64, error)
	GetListingByDomainID(ctx context.Context, domainListingID string) (*models.Listing, error)

	// WithTx runs fn in one transaction. fn's error rolls everything back;
	// the connection is released on every path.
	WithTx(ctx context.Context, fn func(tx ListingTx) error) error

	ListingsBySuburb(ctx context.Context, suburb string, limit int) ([]models.SuburbListing, error)
	RecentListings(ctx context.Context, limit int) ([]models.SuburbListing, error)
	Stats(ctx context.Context) (*models.ListingStats, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
}

// ListingTx holds the per-table upserts. Each upsert writes the surrogate id
// it resolved back into its argument.
type ListingTx interface {
	UpsertListing(ctx context.Context, l *models.Listing) error
	UpsertPropertyDetails(ctx context.Context, pd *models.PropertyDetails) error
	UpsertAddress(ctx context.Context, a *models.Address) error
	UpsertAgency(ctx context.Context, a *models.Agency) error
	SetListingAgency(ctx context.Context, listingID, agencyID int64) error
	UpsertAgent(ctx context.Context, a *models.Agent) error
	UpsertAgentLink(ctx context.Context, link *models.AgentLink) error
}

// SaveBundle writes a normalized listing through tx in dependency order:
// listing, details, address, agency (+ link), then each agent and its link.
// It returns the listing's surrogate id.
func SaveBundle(ctx context.Context, tx ListingTx, b *models.Bundle) (int64, error) {
	if err := tx.UpsertListing(ctx, &b.Listing); err != nil {
		return 0, fmt.Errorf("upsert listing: %w", err)
	}
	listingID := b.Listing.ID

	b.PropertyDetails.ListingID = listingID
	if err := tx.UpsertPropertyDetails(ctx, &b.PropertyDetails); err != nil {
		return 0, fmt.Errorf("upsert property details: %w", err)
	}

	b.Address.ListingID = listingID
	if err := tx.UpsertAddress(ctx, &b.Address); err != nil {
		return 0, fmt.Errorf("upsert address: %w", err)
	}

	if b.Agency != nil {
		if err := tx.UpsertAgency(ctx, b.Agency); err != nil {
			return 0, fmt.Errorf("upsert agency %s: %w", b.Agency.DomainAgencyID, err)
		}
		if err := tx.SetListingAgency(ctx, listingID, b.Agency.ID); err != nil {
			return 0, fmt.Errorf("link agency: %w", err)
		}
		agencyID := b.Agency.ID
		b.Listing.AgencyID = &agencyID
	}

	for i := range b.Agents {
		agent := &b.Agents[i]
		if err := tx.UpsertAgent(ctx, &agent.Agent); err != nil {
			return 0, fmt.Errorf("upsert agent %s: %w", agent.Agent.DomainAgentID, err)
		}
		link := &models.AgentLink{
			ListingID:      listingID,
			AgentID:        agent.Agent.ID,
			IsPrimaryAgent: agent.IsPrimary,
		}
		if err := tx.UpsertAgentLink(ctx, link); err != nil {
			return 0, fmt.Errorf("link agent %s: %w", agent.Agent.DomainAgentID, err)
		}
	}

	return listingID, nil
}
