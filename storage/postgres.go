package storage

import (
	"context"
	"fmt"
	"time"

	"domain_ingest/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the listing tables and indexes if they are missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agencies (
		id BIGSERIAL PRIMARY KEY,
		domain_agency_id TEXT NOT NULL UNIQUE,
		name TEXT,
		logo_url TEXT,
		website TEXT,
		phone TEXT,
		email TEXT,
		address TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		domain_listing_id TEXT NOT NULL UNIQUE,
		listing_type TEXT,
		status TEXT,
		date_listed TIMESTAMPTZ,
		date_updated TIMESTAMPTZ,
		price DOUBLE PRECISION,
		price_display TEXT,
		headline TEXT,
		description TEXT,
		url_slug TEXT,
		inspection_times JSONB NOT NULL DEFAULT '[]',
		auction_date TIMESTAMPTZ,
		property_type TEXT,
		agency_id BIGINT REFERENCES agencies(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS property_details (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL UNIQUE REFERENCES listings(id) ON DELETE CASCADE,
		bedrooms INTEGER,
		bathrooms INTEGER,
		parking_spaces INTEGER,
		land_area DOUBLE PRECISION,
		area_unit TEXT,
		year_built INTEGER,
		energy_rating DOUBLE PRECISION,
		property_features JSONB NOT NULL DEFAULT '[]',
		floor_plans JSONB NOT NULL DEFAULT '[]',
		images JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS addresses (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL UNIQUE REFERENCES listings(id) ON DELETE CASCADE,
		street TEXT,
		street_number TEXT,
		suburb TEXT,
		state TEXT,
		postcode TEXT,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS agents (
		id BIGSERIAL PRIMARY KEY,
		domain_agent_id TEXT NOT NULL UNIQUE,
		first_name TEXT,
		last_name TEXT,
		email TEXT,
		mobile TEXT,
		position TEXT,
		profile_url TEXT,
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS listing_agents (
		listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		agent_id BIGINT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		is_primary_agent BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (listing_id, agent_id)
	);

	CREATE INDEX IF NOT EXISTS idx_addresses_suburb ON addresses(suburb);
	CREATE INDEX IF NOT EXISTS idx_listings_date_updated ON listings(date_updated DESC NULLS LAST);
	CREATE INDEX IF NOT EXISTS idx_listings_agency ON listings(agency_id);
	CREATE INDEX IF NOT EXISTS idx_listing_agents_agent ON listing_agents(agent_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Lookups
// =============================================================================

func (s *PostgresStore) ListingIDByDomainID(ctx context.Context, domainListingID string) (*int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM listings WHERE domain_listing_id = $1`, domainListingID).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *PostgresStore) GetListingByDomainID(ctx context.Context, domainListingID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings l WHERE l.domain_listing_id = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, domainListingID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// =============================================================================
// Transactions
// =============================================================================

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx ListingTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// no-op once committed
	defer tx.Rollback(ctx)

	if err := fn(&pgListingTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgListingTx struct {
	tx pgx.Tx
}

func (t *pgListingTx) UpsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (
			domain_listing_id, listing_type, status, date_listed, date_updated, price,
			price_display, headline, description, url_slug, inspection_times, auction_date,
			property_type, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, NOW(), NOW()
		)
		ON CONFLICT (domain_listing_id) DO UPDATE SET
			listing_type = EXCLUDED.listing_type,
			status = EXCLUDED.status,
			date_listed = EXCLUDED.date_listed,
			date_updated = EXCLUDED.date_updated,
			price = EXCLUDED.price,
			price_display = EXCLUDED.price_display,
			headline = EXCLUDED.headline,
			description = EXCLUDED.description,
			url_slug = EXCLUDED.url_slug,
			inspection_times = EXCLUDED.inspection_times,
			auction_date = EXCLUDED.auction_date,
			property_type = EXCLUDED.property_type,
			updated_at = NOW()
		RETURNING id, agency_id, created_at, updated_at`

	return t.tx.QueryRow(ctx, query,
		l.DomainListingID, l.ListingType, l.Status, l.DateListed, l.DateUpdated, l.Price,
		l.PriceDisplay, l.Headline, l.Description, l.URLSlug, jsonParam(l.InspectionTimes), l.AuctionDate,
		l.PropertyType,
	).Scan(&l.ID, &l.AgencyID, &l.CreatedAt, &l.UpdatedAt)
}

func (t *pgListingTx) UpsertPropertyDetails(ctx context.Context, pd *models.PropertyDetails) error {
	query := `
		INSERT INTO property_details (
			listing_id, bedrooms, bathrooms, parking_spaces, land_area, area_unit, year_built,
			energy_rating, property_features, floor_plans, images, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb, NOW(), NOW()
		)
		ON CONFLICT (listing_id) DO UPDATE SET
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			parking_spaces = EXCLUDED.parking_spaces,
			land_area = EXCLUDED.land_area,
			area_unit = EXCLUDED.area_unit,
			year_built = EXCLUDED.year_built,
			energy_rating = EXCLUDED.energy_rating,
			property_features = EXCLUDED.property_features,
			floor_plans = EXCLUDED.floor_plans,
			images = EXCLUDED.images,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRow(ctx, query,
		pd.ListingID, pd.Bedrooms, pd.Bathrooms, pd.ParkingSpaces, pd.LandArea, pd.AreaUnit, pd.YearBuilt,
		pd.EnergyRating, jsonParam(pd.PropertyFeatures), jsonParam(pd.FloorPlans), jsonParam(pd.Images),
	).Scan(&pd.ID, &pd.CreatedAt, &pd.UpdatedAt)
}

func (t *pgListingTx) UpsertAddress(ctx context.Context, a *models.Address) error {
	query := `
		INSERT INTO addresses (
			listing_id, street, street_number, suburb, state, postcode, latitude, longitude,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (listing_id) DO UPDATE SET
			street = EXCLUDED.street,
			street_number = EXCLUDED.street_number,
			suburb = EXCLUDED.suburb,
			state = EXCLUDED.state,
			postcode = EXCLUDED.postcode,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRow(ctx, query,
		a.ListingID, a.Street, a.StreetNumber, a.Suburb, a.State, a.Postcode, a.Latitude, a.Longitude,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (t *pgListingTx) UpsertAgency(ctx context.Context, a *models.Agency) error {
	query := `
		INSERT INTO agencies (
			domain_agency_id, name, logo_url, website, phone, email, address, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (domain_agency_id) DO UPDATE SET
			name = EXCLUDED.name,
			logo_url = EXCLUDED.logo_url,
			website = EXCLUDED.website,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			address = EXCLUDED.address,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRow(ctx, query,
		a.DomainAgencyID, a.Name, a.LogoURL, a.Website, a.Phone, a.Email, a.Address,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (t *pgListingTx) SetListingAgency(ctx context.Context, listingID, agencyID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE listings SET agency_id = $2 WHERE id = $1`, listingID, agencyID)
	return err
}

func (t *pgListingTx) UpsertAgent(ctx context.Context, a *models.Agent) error {
	query := `
		INSERT INTO agents (
			domain_agent_id, first_name, last_name, email, mobile, position, profile_url,
			image_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (domain_agent_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			mobile = EXCLUDED.mobile,
			position = EXCLUDED.position,
			profile_url = EXCLUDED.profile_url,
			image_url = EXCLUDED.image_url,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRow(ctx, query,
		a.DomainAgentID, a.FirstName, a.LastName, a.Email, a.Mobile, a.Position, a.ProfileURL, a.ImageURL,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (t *pgListingTx) UpsertAgentLink(ctx context.Context, link *models.AgentLink) error {
	query := `
		INSERT INTO listing_agents (listing_id, agent_id, is_primary_agent)
		VALUES ($1, $2, $3)
		ON CONFLICT (listing_id, agent_id) DO UPDATE SET
			is_primary_agent = EXCLUDED.is_primary_agent`

	_, err := t.tx.Exec(ctx, query, link.ListingID, link.AgentID, link.IsPrimaryAgent)
	return err
}

// =============================================================================
// Read views
// =============================================================================

const pgAgentNames = `(
		SELECT string_agg(NULLIF(TRIM(CONCAT_WS(' ', ga.first_name, ga.last_name)), ''), '; '
			ORDER BY la.is_primary_agent DESC, ga.id)
		FROM listing_agents la
		JOIN agents ga ON ga.id = la.agent_id
		WHERE la.listing_id = l.id
	)`

// ListingsBySuburb matches the suburb exactly; limit <= 0 returns every row
func (s *PostgresStore) ListingsBySuburb(ctx context.Context, suburb string, limit int) ([]models.SuburbListing, error) {
	query := buildSuburbListingQuery(pgAgentNames, "a.suburb = $1", "$2")
	return s.querySuburbListings(ctx, query, suburb, pgLimit(limit))
}

func (s *PostgresStore) RecentListings(ctx context.Context, limit int) ([]models.SuburbListing, error) {
	query := buildSuburbListingQuery(pgAgentNames, "", "$1")
	return s.querySuburbListings(ctx, query, pgLimit(limit))
}

func (s *PostgresStore) querySuburbListings(ctx context.Context, query string, args ...any) ([]models.SuburbListing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := []models.SuburbListing{}
	for rows.Next() {
		sl, err := scanSuburbListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, sl)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.ListingStats, error) {
	return scanStats(s.pool.QueryRow(ctx, statsQuery))
}

// pgLimit maps a non-positive limit to NULL, which Postgres treats as LIMIT ALL
func pgLimit(limit int) *int64 {
	if limit <= 0 {
		return nil
	}
	n := int64(limit)
	return &n
}
