package storage

import (
	"encoding/json"
	"fmt"

	"domain_ingest/models"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const listingColumns = `
	l.id, l.domain_listing_id, l.listing_type, l.status, l.date_listed, l.date_updated,
	l.price, l.price_display, l.headline, l.description, l.url_slug, l.inspection_times,
	l.auction_date, l.property_type, l.agency_id, l.created_at, l.updated_at`

const suburbListingColumns = listingColumns + `,
	pd.id, pd.listing_id, pd.bedrooms, pd.bathrooms, pd.parking_spaces, pd.land_area,
	pd.area_unit, pd.year_built, pd.energy_rating, pd.property_features, pd.floor_plans,
	pd.images, pd.created_at, pd.updated_at,
	a.id, a.listing_id, a.street, a.street_number, a.suburb, a.state, a.postcode,
	a.latitude, a.longitude, a.created_at, a.updated_at,
	ag.name`

// Details and address are written in the same transaction as their listing,
// so the inner joins never drop a committed listing.
const suburbListingFrom = `
	FROM listings l
	JOIN property_details pd ON pd.listing_id = l.id
	JOIN addresses a ON a.listing_id = l.id
	LEFT JOIN agencies ag ON ag.id = l.agency_id`

const suburbListingOrder = `
	ORDER BY l.date_updated DESC NULLS LAST, l.id DESC`

// statsQuery is valid in both dialects
const statsQuery = `
	SELECT
		COUNT(*),
		COUNT(l.price),
		COUNT(pd.bedrooms),
		COALESCE(SUM(CASE WHEN a.latitude IS NOT NULL AND a.longitude IS NOT NULL THEN 1 ELSE 0 END), 0),
		AVG(l.price),
		MIN(l.price),
		MAX(l.price)
	FROM listings l
	LEFT JOIN property_details pd ON pd.listing_id = l.id
	LEFT JOIN addresses a ON a.listing_id = l.id`

// buildSuburbListingQuery assembles the joined view. agentNames is the
// dialect's aggregate over listing_agents for l.id.
func buildSuburbListingQuery(agentNames, where, limit string) string {
	q := fmt.Sprintf("SELECT %s,\n\t%s AS agent_names\n%s", suburbListingColumns, agentNames, suburbListingFrom)
	if where != "" {
		q += "\n\tWHERE " + where
	}
	return q + suburbListingOrder + "\n\tLIMIT " + limit
}

func listingDest(l *models.Listing, inspection *[]byte) []any {
	return []any{
		&l.ID, &l.DomainListingID, &l.ListingType, &l.Status, &l.DateListed, &l.DateUpdated,
		&l.Price, &l.PriceDisplay, &l.Headline, &l.Description, &l.URLSlug, inspection,
		&l.AuctionDate, &l.PropertyType, &l.AgencyID, &l.CreatedAt, &l.UpdatedAt,
	}
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var inspection []byte
	if err := row.Scan(listingDest(&l, &inspection)...); err != nil {
		return nil, err
	}
	l.InspectionTimes = jsonColumn(inspection)
	return &l, nil
}

func scanSuburbListing(row rowScanner) (models.SuburbListing, error) {
	var sl models.SuburbListing
	var inspection, features, floorPlans, images []byte
	pd, a := &sl.PropertyDetails, &sl.Address

	dest := listingDest(&sl.Listing, &inspection)
	dest = append(dest,
		&pd.ID, &pd.ListingID, &pd.Bedrooms, &pd.Bathrooms, &pd.ParkingSpaces, &pd.LandArea,
		&pd.AreaUnit, &pd.YearBuilt, &pd.EnergyRating, &features, &floorPlans,
		&images, &pd.CreatedAt, &pd.UpdatedAt,
		&a.ID, &a.ListingID, &a.Street, &a.StreetNumber, &a.Suburb, &a.State, &a.Postcode,
		&a.Latitude, &a.Longitude, &a.CreatedAt, &a.UpdatedAt,
		&sl.AgencyName, &sl.AgentNames,
	)
	if err := row.Scan(dest...); err != nil {
		return sl, err
	}

	sl.Listing.InspectionTimes = jsonColumn(inspection)
	pd.PropertyFeatures = jsonColumn(features)
	pd.FloorPlans = jsonColumn(floorPlans)
	pd.Images = jsonColumn(images)
	return sl, nil
}

func scanStats(row rowScanner) (*models.ListingStats, error) {
	var st models.ListingStats
	err := row.Scan(&st.TotalListings, &st.WithPrice, &st.WithBedrooms, &st.WithLocation,
		&st.AvgPrice, &st.MinPrice, &st.MaxPrice)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func jsonColumn(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`[]`)
	}
	return json.RawMessage(b)
}

// jsonParam renders a JSON column value as text for either driver
func jsonParam(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}
