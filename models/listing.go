package models

import (
	"encoding/json"
	"time"
)

// Listing is one Domain listing, identified by its external domain_listing_id.
type Listing struct {
	ID              int64           `json:"id" db:"id"`
	DomainListingID string          `json:"domain_listing_id" db:"domain_listing_id"`
	ListingType     *string         `json:"listing_type" db:"listing_type"` // Sale/Rent
	Status          *string         `json:"status" db:"status"`
	DateListed      *time.Time      `json:"date_listed" db:"date_listed"`
	DateUpdated     *time.Time      `json:"date_updated" db:"date_updated"`
	Price           *float64        `json:"price" db:"price"`
	PriceDisplay    *string         `json:"price_display" db:"price_display"`
	Headline        *string         `json:"headline" db:"headline"`
	Description     *string         `json:"description" db:"description"`
	URLSlug         *string         `json:"url_slug" db:"url_slug"`
	InspectionTimes json.RawMessage `json:"inspection_times" db:"inspection_times"`
	AuctionDate     *time.Time      `json:"auction_date" db:"auction_date"`
	PropertyType    *string         `json:"property_type" db:"property_type"`
	AgencyID        *int64          `json:"agency_id" db:"agency_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       *time.Time      `json:"updated_at" db:"updated_at"`
}

// PropertyDetails is 1:1 with a listing
type PropertyDetails struct {
	ID               int64           `json:"id" db:"id"`
	ListingID        int64           `json:"listing_id" db:"listing_id"`
	Bedrooms         *int            `json:"bedrooms" db:"bedrooms"`
	Bathrooms        *int            `json:"bathrooms" db:"bathrooms"`
	ParkingSpaces    *int            `json:"parking_spaces" db:"parking_spaces"`
	LandArea         *float64        `json:"land_area" db:"land_area"`
	AreaUnit         *string         `json:"area_unit" db:"area_unit"`
	YearBuilt        *int            `json:"year_built" db:"year_built"`
	EnergyRating     *float64        `json:"energy_rating" db:"energy_rating"`
	PropertyFeatures json.RawMessage `json:"property_features" db:"property_features"`
	FloorPlans       json.RawMessage `json:"floor_plans" db:"floor_plans"`
	Images           json.RawMessage `json:"images" db:"images"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        *time.Time      `json:"updated_at" db:"updated_at"`
}

// Address is 1:1 with a listing
type Address struct {
	ID           int64      `json:"id" db:"id"`
	ListingID    int64      `json:"listing_id" db:"listing_id"`
	Street       *string    `json:"street" db:"street"`
	StreetNumber *string    `json:"street_number" db:"street_number"`
	Suburb       *string    `json:"suburb" db:"suburb"`
	State        *string    `json:"state" db:"state"`
	Postcode     *string    `json:"postcode" db:"postcode"`
	Latitude     *float64   `json:"latitude" db:"latitude"`
	Longitude    *float64   `json:"longitude" db:"longitude"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at" db:"updated_at"`
}

// Agency is the advertiser of a listing, shared across listings
type Agency struct {
	ID             int64      `json:"id" db:"id"`
	DomainAgencyID string     `json:"domain_agency_id" db:"domain_agency_id"`
	Name           *string    `json:"name" db:"name"`
	LogoURL        *string    `json:"logo_url" db:"logo_url"`
	Website        *string    `json:"website" db:"website"`
	Phone          *string    `json:"phone" db:"phone"`
	Email          *string    `json:"email" db:"email"`
	Address        *string    `json:"address" db:"address"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at" db:"updated_at"`
}

// Agent is a listing agent, shared across listings through AgentLink
type Agent struct {
	ID            int64      `json:"id" db:"id"`
	DomainAgentID string     `json:"domain_agent_id" db:"domain_agent_id"`
	FirstName     *string    `json:"first_name" db:"first_name"`
	LastName      *string    `json:"last_name" db:"last_name"`
	Email         *string    `json:"email" db:"email"`
	Mobile        *string    `json:"mobile" db:"mobile"`
	Position      *string    `json:"position" db:"position"`
	ProfileURL    *string    `json:"profile_url" db:"profile_url"`
	ImageURL      *string    `json:"image_url" db:"image_url"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name, skipping whichever is missing
func (a *Agent) FullName() string {
	first, last := deref(a.FirstName), deref(a.LastName)
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

// AgentLink is a row of the listing_agents join table
type AgentLink struct {
	ListingID      int64 `json:"listing_id" db:"listing_id"`
	AgentID        int64 `json:"agent_id" db:"agent_id"`
	IsPrimaryAgent bool  `json:"is_primary_agent" db:"is_primary_agent"`
}

// BundleAgent pairs a normalized agent with its per-listing primary flag
type BundleAgent struct {
	Agent     Agent
	IsPrimary bool
}

// Bundle is the normalized form of one external listing, ready for upsert.
// Surrogate ids and foreign keys are zero until the upsert assigns them.
type Bundle struct {
	Listing         Listing
	PropertyDetails PropertyDetails
	Address         Address
	Agency          *Agency
	Agents          []BundleAgent

	// DisplayAddress is kept for exports only; it has no column.
	DisplayAddress string
}

// SuburbListing is the joined read view returned by suburb queries
type SuburbListing struct {
	Listing         Listing         `json:"listing"`
	PropertyDetails PropertyDetails `json:"property_details"`
	Address         Address         `json:"address"`
	AgencyName      *string         `json:"agency_name"`
	AgentNames      *string         `json:"agent_names"`
}

// ListingStats aggregates over the listings table. Price aggregates are nil
// when no listing has a price.
type ListingStats struct {
	TotalListings int64    `json:"total_listings"`
	WithPrice     int64    `json:"listings_with_price"`
	WithBedrooms  int64    `json:"listings_with_bedrooms"`
	WithLocation  int64    `json:"listings_with_location"`
	AvgPrice      *float64 `json:"avg_price"`
	MinPrice      *float64 `json:"min_price"`
	MaxPrice      *float64 `json:"max_price"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
