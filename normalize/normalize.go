// Package normalize maps an external Domain listing onto the relational
// listing bundle. Everything here is pure; a bad field becomes nil instead of
// failing the record.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"domain_ingest/models"
)

// ErrMissingID is returned for records without a usable external id
var ErrMissingID = errors.New("listing has no external id")

var (
	currencyPrefixRegex = regexp.MustCompile(`^(?i)(aud)?\s*(a?\$)?\s*`)
	plainAmountRegex    = regexp.MustCompile(`^(\d{1,3}(,\d{3})+|\d+)(\.\d+)?$`)
	emptyJSONList       = json.RawMessage(`[]`)
)

// Record normalizes one external listing into a bundle
func Record(rec *models.ExternalListing) (*models.Bundle, error) {
	if rec == nil {
		return nil, ErrMissingID
	}
	externalID := ExternalID(rec)
	if externalID == "" {
		return nil, ErrMissingID
	}

	b := &models.Bundle{}
	b.Listing = listing(rec, externalID)
	b.PropertyDetails = propertyDetails(rec)
	b.Address = address(rec)
	b.Agency = agency(rec.Advertiser)
	b.Agents = agents(rec.Agents)
	b.DisplayAddress = displayAddress(rec.AddressParts, &b.Address)
	return b, nil
}

// ExternalID returns the trimmed Domain listing id, or "" when there is none
func ExternalID(rec *models.ExternalListing) string {
	if rec == nil || !rec.ID.Valid {
		return ""
	}
	return strings.TrimSpace(rec.ID.String)
}

func listing(rec *models.ExternalListing, externalID string) models.Listing {
	price, display := Price(rec)
	return models.Listing{
		DomainListingID: externalID,
		ListingType:     rec.ListingType.Ptr(),
		Status:          rec.Status.Ptr(),
		DateListed:      rec.DateListed.Ptr(),
		DateUpdated:     rec.DateUpdated.Ptr(),
		Price:           price,
		PriceDisplay:    display,
		Headline:        rec.Headline.Ptr(),
		Description:     rec.Description.Ptr(),
		URLSlug:         rec.ListingSlug.Ptr(),
		InspectionTimes: JSONColumn(rec.InspectionSchedule),
		AuctionDate:     rec.AuctionDate.Ptr(),
		PropertyType:    PropertyType(rec.PropertyTypes),
	}
}

func propertyDetails(rec *models.ExternalListing) models.PropertyDetails {
	pd := models.PropertyDetails{
		PropertyFeatures: JSONColumn(rec.PropertyFeatures),
		FloorPlans:       JSONColumn(rec.Floorplans),
		Images:           JSONColumn(rec.Images),
	}
	if d := rec.PropertyDetails; d != nil {
		pd.Bedrooms = d.Bedrooms.Ptr()
		pd.Bathrooms = d.Bathrooms.Ptr()
		pd.ParkingSpaces = d.ParkingSpaces.Ptr()
		pd.LandArea = d.LandArea.Ptr()
		pd.AreaUnit = d.AreaUnit.Ptr()
		pd.YearBuilt = d.YearBuilt.Ptr()
		pd.EnergyRating = d.EnergyRating.Ptr()
	}
	return pd
}

func address(rec *models.ExternalListing) models.Address {
	var a models.Address
	if p := rec.AddressParts; p != nil {
		a.Street = p.Street.Ptr()
		a.StreetNumber = p.StreetNumber.Ptr()
		a.Suburb = p.Suburb.Ptr()
		a.State = p.State.Ptr()
		a.Postcode = p.Postcode.Ptr()
	}
	if g := rec.GeoLocation; g != nil {
		a.Latitude = g.Latitude.Ptr()
		a.Longitude = g.Longitude.Ptr()
	}
	return a
}

// agency returns nil when there is no advertiser or it carries no id
func agency(adv *models.Advertiser) *models.Agency {
	if adv == nil {
		return nil
	}
	id := strings.TrimSpace(adv.ID.String)
	if !adv.ID.Valid || id == "" {
		return nil
	}
	return &models.Agency{
		DomainAgencyID: id,
		Name:           adv.Name.Ptr(),
		LogoURL:        adv.LogoURL.Ptr(),
		Website:        adv.Website.Ptr(),
		Phone:          adv.Phone.Ptr(),
		Email:          adv.Email.Ptr(),
		Address:        adv.Address.Ptr(),
	}
}

// agents skips entries without an id and keeps the first of any repeated id
func agents(list models.AgentList) []models.BundleAgent {
	var out []models.BundleAgent
	seen := make(map[string]bool)
	for _, a := range list {
		id := strings.TrimSpace(a.ID.String)
		if !a.ID.Valid || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, models.BundleAgent{
			Agent: models.Agent{
				DomainAgentID: id,
				FirstName:     a.FirstName.Ptr(),
				LastName:      a.LastName.Ptr(),
				Email:         a.Email.Ptr(),
				Mobile:        a.Mobile.Ptr(),
				Position:      a.Position.Ptr(),
				ProfileURL:    a.ProfileURL.Ptr(),
				ImageURL:      a.ImageURL.Ptr(),
			},
			IsPrimary: a.IsPrimary.Valid && a.IsPrimary.Bool,
		})
	}
	return out
}

// Price resolves the numeric price and display text. Numeric fields win over
// text; text is only trusted when it is a single plain amount.
func Price(rec *models.ExternalListing) (*float64, *string) {
	var display *string
	if rec.PriceDetails != nil {
		display = rec.PriceDetails.DisplayPrice.Ptr()
	}
	if display == nil && rec.Price.Text != "" {
		text := rec.Price.Text
		display = &text
	}

	candidates := []models.NullFloat{rec.Price}
	if rec.PriceDetails != nil {
		candidates = append(candidates, rec.PriceDetails.Price)
	}
	for _, c := range candidates {
		if c.Valid {
			return nonNegative(c.Float64), display
		}
		if v, ok := ParsePrice(c.Text); ok {
			return &v, display
		}
	}
	if display != nil {
		if v, ok := ParsePrice(*display); ok {
			return &v, display
		}
	}
	return nil, display
}

// ParsePrice accepts "$850,000", "850000.50" or "AUD 1,200,000". Ranges,
// words and anything else are rejected.
func ParsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = currencyPrefixRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if !plainAmountRegex.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// PropertyType takes the name of the first listed property type
func PropertyType(types models.PropertyTypeList) *string {
	if len(types) == 0 {
		return nil
	}
	return types[0].Name.Ptr()
}

// JSONColumn returns raw as a JSON column value; absent or null becomes [].
func JSONColumn(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || !json.Valid(trimmed) {
		return append(json.RawMessage(nil), emptyJSONList...)
	}
	return append(json.RawMessage(nil), trimmed...)
}

func displayAddress(parts *models.AddressParts, a *models.Address) string {
	if parts != nil {
		if s := parts.DisplayAddress.Ptr(); s != nil {
			return *s
		}
	}
	return FormatAddress(a)
}

// FormatAddress renders "12 Smith St, Richmond VIC 3121" from whatever parts exist
func FormatAddress(a *models.Address) string {
	street := strings.TrimSpace(join(" ", a.StreetNumber, a.Street))
	locality := strings.TrimSpace(join(" ", a.Suburb, a.State, a.Postcode))
	switch {
	case street == "":
		return locality
	case locality == "":
		return street
	}
	return street + ", " + locality
}

func join(sep string, parts ...*string) string {
	var out []string
	for _, p := range parts {
		if p != nil && strings.TrimSpace(*p) != "" {
			out = append(out, strings.TrimSpace(*p))
		}
	}
	return strings.Join(out, sep)
}

func nonNegative(v float64) *float64 {
	if v < 0 {
		return nil
	}
	return &v
}
