package normalize

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"domain_ingest/models"
)

func loadRecord(t *testing.T, name string) *models.ExternalListing {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	rec, err := models.DecodeExternalListing(data)
	if err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return rec
}

func TestRecord_Full(t *testing.T) {
	b, err := Record(loadRecord(t, "listing_full.json"))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	l := b.Listing
	if l.DomainListingID != "2019283746" {
		t.Fatalf("expected id 2019283746, got %s", l.DomainListingID)
	}
	if l.Price == nil || *l.Price != 850000 {
		t.Fatalf("expected price parsed from display price, got %v", l.Price)
	}
	if l.PriceDisplay == nil || *l.PriceDisplay != "$850,000" {
		t.Fatalf("unexpected price display %v", l.PriceDisplay)
	}
	if l.PropertyType == nil || *l.PropertyType != "House" {
		t.Fatalf("expected first property type House, got %v", l.PropertyType)
	}
	if l.DateListed == nil || l.DateListed.Format("2006-01-02 15:04") != "2025-04-30 09:12" {
		t.Fatalf("unexpected date listed %v", l.DateListed)
	}
	if l.AuctionDate == nil || l.AuctionDate.Format("2006-01-02") != "2025-06-07" {
		t.Fatalf("unexpected auction date %v", l.AuctionDate)
	}

	var schedule map[string]any
	if err := json.Unmarshal(l.InspectionTimes, &schedule); err != nil {
		t.Fatalf("inspection times not valid JSON: %v", err)
	}
	if times, ok := schedule["times"].([]any); !ok || len(times) != 1 {
		t.Fatalf("expected nested inspection times preserved, got %s", l.InspectionTimes)
	}

	pd := b.PropertyDetails
	if pd.Bedrooms == nil || *pd.Bedrooms != 3 {
		t.Fatalf("expected 3 bedrooms, got %v", pd.Bedrooms)
	}
	if pd.Bathrooms == nil || *pd.Bathrooms != 2 {
		t.Fatalf("expected bathrooms from numeric string, got %v", pd.Bathrooms)
	}
	if pd.EnergyRating != nil {
		t.Fatalf("expected nil energy rating, got %v", *pd.EnergyRating)
	}
	var features []string
	if err := json.Unmarshal(pd.PropertyFeatures, &features); err != nil {
		t.Fatalf("features not a list: %v", err)
	}
	if len(features) != 3 || features[0] != "Ensuite" || features[2] != "Gas" {
		t.Fatalf("feature order not preserved: %v", features)
	}

	if b.Address.Postcode == nil || *b.Address.Postcode != "3121" {
		t.Fatalf("expected numeric postcode as text, got %v", b.Address.Postcode)
	}
	if b.Address.Latitude == nil || *b.Address.Latitude != -37.8183 {
		t.Fatalf("unexpected latitude %v", b.Address.Latitude)
	}
	if b.DisplayAddress != "12 Smith Street, Richmond VIC 3121" {
		t.Fatalf("unexpected display address %q", b.DisplayAddress)
	}

	if b.Agency == nil || b.Agency.DomainAgencyID != "4321" {
		t.Fatalf("expected agency 4321, got %+v", b.Agency)
	}

	if len(b.Agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(b.Agents))
	}
	wantPrimary := []bool{true, false, false}
	for i, a := range b.Agents {
		if a.IsPrimary != wantPrimary[i] {
			t.Fatalf("agent %d: expected primary=%v", i, wantPrimary[i])
		}
	}
	if b.Agents[2].Agent.DomainAgentID != "1003" {
		t.Fatalf("unexpected third agent id %s", b.Agents[2].Agent.DomainAgentID)
	}
}

func TestRecord_MalformedFieldsDegradeToNil(t *testing.T) {
	b, err := Record(loadRecord(t, "listing_malformed.json"))
	if err != nil {
		t.Fatalf("malformed fields must not fail the record: %v", err)
	}

	if b.Listing.DomainListingID != "998877" {
		t.Fatalf("expected trimmed id, got %q", b.Listing.DomainListingID)
	}
	if b.Listing.ListingType != nil {
		t.Fatalf("expected nil listing type for array value")
	}
	if b.Listing.Price != nil {
		t.Fatalf("expected nil price for POA, got %v", *b.Listing.Price)
	}
	if b.Listing.PriceDisplay == nil || *b.Listing.PriceDisplay != "POA" {
		t.Fatalf("expected POA kept as display price")
	}
	if b.Listing.DateListed != nil {
		t.Fatalf("expected nil date for unparseable text")
	}
	if b.Listing.PropertyType != nil {
		t.Fatalf("expected nil property type when propertyTypes is not a list")
	}
	if b.PropertyDetails.Bedrooms != nil || b.PropertyDetails.Bathrooms != nil || b.PropertyDetails.LandArea != nil {
		t.Fatalf("expected nil details, got %+v", b.PropertyDetails)
	}
	if string(b.PropertyDetails.Images) != "[]" {
		t.Fatalf("expected empty image list, got %s", b.PropertyDetails.Images)
	}
	if b.Address.Suburb != nil {
		t.Fatalf("expected nil suburb when addressParts is a string")
	}
	if b.Address.Latitude == nil || *b.Address.Latitude != -37.8 {
		t.Fatalf("expected latitude from numeric string")
	}
	if b.Address.Longitude != nil {
		t.Fatalf("expected nil longitude")
	}
	if b.Agency != nil {
		t.Fatalf("advertiser without id must not produce an agency")
	}
	if len(b.Agents) != 1 || b.Agents[0].Agent.DomainAgentID != "7" || !b.Agents[0].IsPrimary {
		t.Fatalf("expected single agent 7 marked primary, got %+v", b.Agents)
	}
}

func TestRecord_Minimal(t *testing.T) {
	b, err := Record(loadRecord(t, "listing_minimal.json"))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if b.Listing.Price == nil || *b.Listing.Price != 850000.0 {
		t.Fatalf("expected price 850000, got %v", b.Listing.Price)
	}
	if b.Address.Suburb == nil || *b.Address.Suburb != "Richmond" {
		t.Fatalf("expected Richmond")
	}
	if b.Agency != nil {
		t.Fatalf("expected no agency")
	}
	if len(b.Agents) != 0 {
		t.Fatalf("expected no agents")
	}
	if b.Listing.PropertyType != nil {
		t.Fatalf("expected nil property type")
	}
	if string(b.Listing.InspectionTimes) != "[]" {
		t.Fatalf("expected empty inspection list, got %s", b.Listing.InspectionTimes)
	}
}

func TestRecord_MissingID(t *testing.T) {
	for _, raw := range []string{`{}`, `{"id": null}`, `{"id": "   "}`, `{"id": {"value": 1}}`} {
		rec, err := models.DecodeExternalListing([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if _, err := Record(rec); !errors.Is(err, ErrMissingID) {
			t.Fatalf("%s: expected ErrMissingID, got %v", raw, err)
		}
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$850,000", 850000, true},
		{"850000", 850000, true},
		{"1,200,000.50", 1200000.5, true},
		{"AUD 1,200,000", 1200000, true},
		{"AUD $640,000", 640000, true},
		{"  $99  ", 99, true},
		{"POA", 0, false},
		{"Contact Agent", 0, false},
		{"$800,000 - $850,000", 0, false},
		{"Offers over $850,000", 0, false},
		{"$1.2m", 0, false},
		{"12,34", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParsePrice(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParsePrice(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPrice_NumericPreferredOverDisplay(t *testing.T) {
	rec := &models.ExternalListing{
		ID:           models.NewNullString("1"),
		PriceDetails: &models.PriceDetails{Price: models.NewNullFloat(910000), DisplayPrice: models.NewNullString("Auction")},
	}
	price, display := Price(rec)
	if price == nil || *price != 910000 {
		t.Fatalf("expected price from priceDetails.price, got %v", price)
	}
	if display == nil || *display != "Auction" {
		t.Fatalf("unexpected display %v", display)
	}
}

func TestFormatAddress(t *testing.T) {
	suburb, state := "Castlemaine", "VIC"
	got := FormatAddress(&models.Address{Suburb: &suburb, State: &state})
	if got != "Castlemaine VIC" {
		t.Fatalf("unexpected address %q", got)
	}
	if FormatAddress(&models.Address{}) != "" {
		t.Fatalf("expected empty address")
	}
}
