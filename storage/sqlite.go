package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"domain_ingest/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore holds ingest run history and can also serve as a local
// listing store when no Postgres is configured.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := NewSQLiteStoreWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLiteStoreWithDB wraps an already opened handle without migrating it
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agencies (
		id INTEGER PRIMARY KEY,
		domain_agency_id TEXT NOT NULL UNIQUE,
		name TEXT,
		logo_url TEXT,
		website TEXT,
		phone TEXT,
		email TEXT,
		address TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY,
		domain_listing_id TEXT NOT NULL UNIQUE,
		listing_type TEXT,
		status TEXT,
		date_listed DATETIME,
		date_updated DATETIME,
		price REAL,
		price_display TEXT,
		headline TEXT,
		description TEXT,
		url_slug TEXT,
		inspection_times JSON NOT NULL DEFAULT '[]',
		auction_date DATETIME,
		property_type TEXT,
		agency_id INTEGER REFERENCES agencies(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS property_details (
		id INTEGER PRIMARY KEY,
		listing_id INTEGER NOT NULL UNIQUE REFERENCES listings(id) ON DELETE CASCADE,
		bedrooms INTEGER,
		bathrooms INTEGER,
		parking_spaces INTEGER,
		land_area REAL,
		area_unit TEXT,
		year_built INTEGER,
		energy_rating REAL,
		property_features JSON NOT NULL DEFAULT '[]',
		floor_plans JSON NOT NULL DEFAULT '[]',
		images JSON NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS addresses (
		id INTEGER PRIMARY KEY,
		listing_id INTEGER NOT NULL UNIQUE REFERENCES listings(id) ON DELETE CASCADE,
		street TEXT,
		street_number TEXT,
		suburb TEXT,
		state TEXT,
		postcode TEXT,
		latitude REAL,
		longitude REAL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		domain_agent_id TEXT NOT NULL UNIQUE,
		first_name TEXT,
		last_name TEXT,
		email TEXT,
		mobile TEXT,
		position TEXT,
		profile_url TEXT,
		image_url TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS listing_agents (
		listing_id INTEGER NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		agent_id INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		is_primary_agent BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (listing_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS ingest_runs (
		id INTEGER PRIMARY KEY,
		run_uuid TEXT NOT NULL,
		profile_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		pages_fetched INTEGER DEFAULT 0,
		listings_found INTEGER DEFAULT 0,
		listings_saved INTEGER DEFAULT 0,
		listings_skipped INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS ingest_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		profile_id TEXT
	);

	CREATE TABLE IF NOT EXISTS profile_stats (
		profile_id TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_runs INTEGER DEFAULT 0,
		total_saved INTEGER DEFAULT 0,
		success_rate REAL DEFAULT 0,
		avg_run_duration_sec INTEGER DEFAULT 0,
		resume_page INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_addresses_suburb ON addresses(suburb);
	CREATE INDEX IF NOT EXISTS idx_listings_date_updated ON listings(date_updated);
	CREATE INDEX IF NOT EXISTS idx_listing_agents_agent ON listing_agents(agent_id);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON ingest_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_profile ON ingest_runs(profile_id, started_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// Lookups
// =============================================================================

func (s *SQLiteStore) ListingIDByDomainID(ctx context.Context, domainListingID string) (*int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM listings WHERE domain_listing_id = ?`, domainListingID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *SQLiteStore) GetListingByDomainID(ctx context.Context, domainListingID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings l WHERE l.domain_listing_id = ?`

	l, err := scanListing(s.db.QueryRowContext(ctx, query, domainListingID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// =============================================================================
// Transactions
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx ListingTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteListingTx{tx: tx, now: s.now()}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sqliteListingTx stamps every row written in one transaction with the same time
type sqliteListingTx struct {
	tx  *sql.Tx
	now time.Time
}

// stamp records the write time; RETURNING columns carry no declared type,
// so timestamps are not read back from SQLite.
func (t *sqliteListingTx) stamp(updatedAt **time.Time) {
	now := t.now
	*updatedAt = &now
}

func (t *sqliteListingTx) UpsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (
			domain_listing_id, listing_type, status, date_listed, date_updated, price,
			price_display, headline, description, url_slug, inspection_times, auction_date,
			property_type, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain_listing_id) DO UPDATE SET
			listing_type = excluded.listing_type,
			status = excluded.status,
			date_listed = excluded.date_listed,
			date_updated = excluded.date_updated,
			price = excluded.price,
			price_display = excluded.price_display,
			headline = excluded.headline,
			description = excluded.description,
			url_slug = excluded.url_slug,
			inspection_times = excluded.inspection_times,
			auction_date = excluded.auction_date,
			property_type = excluded.property_type,
			updated_at = excluded.updated_at
		RETURNING id, agency_id`

	err := t.tx.QueryRowContext(ctx, query,
		l.DomainListingID, l.ListingType, l.Status, l.DateListed, l.DateUpdated, l.Price,
		l.PriceDisplay, l.Headline, l.Description, l.URLSlug, jsonParam(l.InspectionTimes), l.AuctionDate,
		l.PropertyType, t.now, t.now,
	).Scan(&l.ID, &l.AgencyID)
	t.stamp(&l.UpdatedAt)
	return err
}

func (t *sqliteListingTx) UpsertPropertyDetails(ctx context.Context, pd *models.PropertyDetails) error {
	query := `
		INSERT INTO property_details (
			listing_id, bedrooms, bathrooms, parking_spaces, land_area, area_unit, year_built,
			energy_rating, property_features, floor_plans, images, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			parking_spaces = excluded.parking_spaces,
			land_area = excluded.land_area,
			area_unit = excluded.area_unit,
			year_built = excluded.year_built,
			energy_rating = excluded.energy_rating,
			property_features = excluded.property_features,
			floor_plans = excluded.floor_plans,
			images = excluded.images,
			updated_at = excluded.updated_at
		RETURNING id`

	err := t.tx.QueryRowContext(ctx, query,
		pd.ListingID, pd.Bedrooms, pd.Bathrooms, pd.ParkingSpaces, pd.LandArea, pd.AreaUnit, pd.YearBuilt,
		pd.EnergyRating, jsonParam(pd.PropertyFeatures), jsonParam(pd.FloorPlans), jsonParam(pd.Images),
		t.now, t.now,
	).Scan(&pd.ID)
	t.stamp(&pd.UpdatedAt)
	return err
}

func (t *sqliteListingTx) UpsertAddress(ctx context.Context, a *models.Address) error {
	query := `
		INSERT INTO addresses (
			listing_id, street, street_number, suburb, state, postcode, latitude, longitude,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			street = excluded.street,
			street_number = excluded.street_number,
			suburb = excluded.suburb,
			state = excluded.state,
			postcode = excluded.postcode,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			updated_at = excluded.updated_at
		RETURNING id`

	err := t.tx.QueryRowContext(ctx, query,
		a.ListingID, a.Street, a.StreetNumber, a.Suburb, a.State, a.Postcode, a.Latitude, a.Longitude,
		t.now, t.now,
	).Scan(&a.ID)
	t.stamp(&a.UpdatedAt)
	return err
}

func (t *sqliteListingTx) UpsertAgency(ctx context.Context, a *models.Agency) error {
	query := `
		INSERT INTO agencies (
			domain_agency_id, name, logo_url, website, phone, email, address, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain_agency_id) DO UPDATE SET
			name = excluded.name,
			logo_url = excluded.logo_url,
			website = excluded.website,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address,
			updated_at = excluded.updated_at
		RETURNING id`

	err := t.tx.QueryRowContext(ctx, query,
		a.DomainAgencyID, a.Name, a.LogoURL, a.Website, a.Phone, a.Email, a.Address, t.now, t.now,
	).Scan(&a.ID)
	t.stamp(&a.UpdatedAt)
	return err
}

func (t *sqliteListingTx) SetListingAgency(ctx context.Context, listingID, agencyID int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE listings SET agency_id = ? WHERE id = ?`, agencyID, listingID)
	return err
}

func (t *sqliteListingTx) UpsertAgent(ctx context.Context, a *models.Agent) error {
	query := `
		INSERT INTO agents (
			domain_agent_id, first_name, last_name, email, mobile, position, profile_url,
			image_url, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain_agent_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			mobile = excluded.mobile,
			position = excluded.position,
			profile_url = excluded.profile_url,
			image_url = excluded.image_url,
			updated_at = excluded.updated_at
		RETURNING id`

	err := t.tx.QueryRowContext(ctx, query,
		a.DomainAgentID, a.FirstName, a.LastName, a.Email, a.Mobile, a.Position, a.ProfileURL, a.ImageURL,
		t.now, t.now,
	).Scan(&a.ID)
	t.stamp(&a.UpdatedAt)
	return err
}

func (t *sqliteListingTx) UpsertAgentLink(ctx context.Context, link *models.AgentLink) error {
	query := `
		INSERT INTO listing_agents (listing_id, agent_id, is_primary_agent)
		VALUES (?, ?, ?)
		ON CONFLICT(listing_id, agent_id) DO UPDATE SET
			is_primary_agent = excluded.is_primary_agent`

	_, err := t.tx.ExecContext(ctx, query, link.ListingID, link.AgentID, link.IsPrimaryAgent)
	return err
}

// =============================================================================
// Read views
// =============================================================================

const sqliteAgentNames = `(
		SELECT group_concat(NULLIF(TRIM(COALESCE(ga.first_name, '') || ' ' || COALESCE(ga.last_name, '')), ''), '; '
			ORDER BY la.is_primary_agent DESC, ga.id)
		FROM listing_agents la
		JOIN agents ga ON ga.id = la.agent_id
		WHERE la.listing_id = l.id
	)`

func (s *SQLiteStore) ListingsBySuburb(ctx context.Context, suburb string, limit int) ([]models.SuburbListing, error) {
	query := buildSuburbListingQuery(sqliteAgentNames, "a.suburb = ?", "?")
	return s.querySuburbListings(ctx, query, suburb, sqliteLimit(limit))
}

func (s *SQLiteStore) RecentListings(ctx context.Context, limit int) ([]models.SuburbListing, error) {
	query := buildSuburbListingQuery(sqliteAgentNames, "", "?")
	return s.querySuburbListings(ctx, query, sqliteLimit(limit))
}

func (s *SQLiteStore) querySuburbListings(ctx context.Context, query string, args ...any) ([]models.SuburbListing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) Stats(ctx context.Context) (*models.ListingStats, error) {
	return scanStats(s.db.QueryRowContext(ctx, statsQuery))
}

// sqliteLimit maps a non-positive limit to -1, SQLite's "no limit"
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
