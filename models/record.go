package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ExternalListing is a Domain listing in the canonical ingest shape. It is
// decoded once at the boundary; every scalar is null-tolerant and every nested
// object or list silently ignores values of the wrong JSON type.
type ExternalListing struct {
	ID                 NullString       `json:"id"`
	ListingType        NullString       `json:"listingType"`
	Status             NullString       `json:"status"`
	DateListed         NullTime         `json:"dateListed"`
	DateUpdated        NullTime         `json:"dateUpdated"`
	Price              NullFloat        `json:"price"`
	PriceDetails       *PriceDetails    `json:"priceDetails,omitempty"`
	Headline           NullString       `json:"headline"`
	Description        NullString       `json:"description"`
	ListingSlug        NullString       `json:"listingSlug"`
	InspectionSchedule json.RawMessage  `json:"inspectionSchedule,omitempty"`
	AuctionDate        NullTime         `json:"auctionDate"`
	PropertyTypes      PropertyTypeList `json:"propertyTypes,omitempty"`
	PropertyDetails    *DetailsRecord   `json:"propertyDetails,omitempty"`
	PropertyFeatures   json.RawMessage  `json:"propertyFeatures,omitempty"`
	Floorplans         json.RawMessage  `json:"floorplans,omitempty"`
	Images             json.RawMessage  `json:"images,omitempty"`
	AddressParts       *AddressParts    `json:"addressParts,omitempty"`
	GeoLocation        *GeoLocation     `json:"geoLocation,omitempty"`
	Advertiser         *Advertiser      `json:"advertiser,omitempty"`
	Agents             AgentList        `json:"agents,omitempty"`
}

type PriceDetails struct {
	Price        NullFloat  `json:"price"`
	DisplayPrice NullString `json:"displayPrice"`
}

func (p *PriceDetails) UnmarshalJSON(data []byte) error {
	type plain PriceDetails
	return decodeObject(data, (*plain)(p))
}

type DetailsRecord struct {
	Bedrooms      NullInt    `json:"bedrooms"`
	Bathrooms     NullInt    `json:"bathrooms"`
	ParkingSpaces NullInt    `json:"parkingSpaces"`
	LandArea      NullFloat  `json:"landArea"`
	AreaUnit      NullString `json:"areaUnit"`
	YearBuilt     NullInt    `json:"yearBuilt"`
	EnergyRating  NullFloat  `json:"energyRating"`
}

func (d *DetailsRecord) UnmarshalJSON(data []byte) error {
	type plain DetailsRecord
	return decodeObject(data, (*plain)(d))
}

type AddressParts struct {
	Street         NullString `json:"street"`
	StreetNumber   NullString `json:"streetNumber"`
	Suburb         NullString `json:"suburb"`
	State          NullString `json:"state"`
	Postcode       NullString `json:"postcode"`
	DisplayAddress NullString `json:"displayAddress"`
}

func (a *AddressParts) UnmarshalJSON(data []byte) error {
	type plain AddressParts
	return decodeObject(data, (*plain)(a))
}

type GeoLocation struct {
	Latitude  NullFloat `json:"latitude"`
	Longitude NullFloat `json:"longitude"`
}

func (g *GeoLocation) UnmarshalJSON(data []byte) error {
	type plain GeoLocation
	return decodeObject(data, (*plain)(g))
}

type Advertiser struct {
	ID      NullString `json:"id"`
	Name    NullString `json:"name"`
	LogoURL NullString `json:"logoUrl"`
	Website NullString `json:"website"`
	Phone   NullString `json:"phone"`
	Email   NullString `json:"email"`
	Address NullString `json:"address"`
}

func (a *Advertiser) UnmarshalJSON(data []byte) error {
	type plain Advertiser
	return decodeObject(data, (*plain)(a))
}

type ExternalAgent struct {
	ID         NullString `json:"id"`
	FirstName  NullString `json:"firstName"`
	LastName   NullString `json:"lastName"`
	Email      NullString `json:"email"`
	Mobile     NullString `json:"mobile"`
	Position   NullString `json:"position"`
	ProfileURL NullString `json:"profileUrl"`
	ImageURL   NullString `json:"imageUrl"`
	IsPrimary  NullBool   `json:"isPrimary"`
}

func (a *ExternalAgent) UnmarshalJSON(data []byte) error {
	type plain ExternalAgent
	return decodeObject(data, (*plain)(a))
}

// AgentList ignores anything that is not a JSON array
type AgentList []ExternalAgent

func (l *AgentList) UnmarshalJSON(data []byte) error {
	var items []ExternalAgent
	if err := decodeArray(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// PropertyTypeRef is one element of propertyTypes; plain strings are taken as the name
type PropertyTypeRef struct {
	Name NullString `json:"name"`
}

func (p *PropertyTypeRef) UnmarshalJSON(data []byte) error {
	if firstByte(data) == '"' {
		return p.Name.UnmarshalJSON(data)
	}
	type plain PropertyTypeRef
	return decodeObject(data, (*plain)(p))
}

type PropertyTypeList []PropertyTypeRef

func (l *PropertyTypeList) UnmarshalJSON(data []byte) error {
	var items []PropertyTypeRef
	if err := decodeArray(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// DecodeExternalListing decodes one raw listing. Only a payload that is not a
// JSON object is rejected; bad individual fields decode as null.
func DecodeExternalListing(data []byte) (*ExternalListing, error) {
	if firstByte(data) != '{' {
		return nil, errors.New("listing record is not a JSON object")
	}
	var rec ExternalListing
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// =============================================================================
// Null-tolerant scalars
// =============================================================================

// NullString accepts a JSON string or number. Numbers keep their literal text,
// so numeric ids decode as "2019000123".
type NullString struct {
	String string
	Valid  bool
}

func (n *NullString) UnmarshalJSON(data []byte) error {
	*n = NullString{}
	data = bytes.TrimSpace(data)
	switch firstByte(data) {
	case '"':
		var s string
		if json.Unmarshal(data, &s) == nil {
			*n = NullString{String: s, Valid: true}
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*n = NullString{String: string(data), Valid: true}
	}
	return nil
}

func (n NullString) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.String)
}

// Ptr returns nil for null or blank strings
func (n NullString) Ptr() *string {
	if !n.Valid || strings.TrimSpace(n.String) == "" {
		return nil
	}
	s := n.String
	return &s
}

func NewNullString(s string) NullString {
	return NullString{String: s, Valid: s != ""}
}

// NullFloat accepts a JSON number or a numeric string. Non-numeric strings are
// kept in Text so callers can attempt their own parsing.
type NullFloat struct {
	Float64 float64
	Valid   bool
	Text    string
}

func (n *NullFloat) UnmarshalJSON(data []byte) error {
	*n = NullFloat{}
	data = bytes.TrimSpace(data)
	switch firstByte(data) {
	case '"':
		var s string
		if json.Unmarshal(data, &s) != nil {
			return nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			*n = NullFloat{Float64: f, Valid: true}
			return nil
		}
		n.Text = s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if f, err := strconv.ParseFloat(string(data), 64); err == nil {
			*n = NullFloat{Float64: f, Valid: true}
		}
	}
	return nil
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if n.Valid {
		return json.Marshal(n.Float64)
	}
	if n.Text != "" {
		return json.Marshal(n.Text)
	}
	return []byte("null"), nil
}

func (n NullFloat) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func NewNullFloat(f float64) NullFloat {
	return NullFloat{Float64: f, Valid: true}
}

// NullInt accepts integral JSON numbers and integer strings; fractional values are null.
type NullInt struct {
	Int   int
	Valid bool
}

func (n *NullInt) UnmarshalJSON(data []byte) error {
	var f NullFloat
	_ = f.UnmarshalJSON(data)
	*n = NullInt{}
	if f.Valid && f.Float64 == math.Trunc(f.Float64) && math.Abs(f.Float64) <= math.MaxInt32 {
		*n = NullInt{Int: int(f.Float64), Valid: true}
	}
	return nil
}

func (n NullInt) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(n.Int)), nil
}

func (n NullInt) Ptr() *int {
	if !n.Valid {
		return nil
	}
	i := n.Int
	return &i
}

func NewNullInt(i int) NullInt {
	return NullInt{Int: i, Valid: true}
}

// NullBool accepts true/false, "true"/"false" and 0/1
type NullBool struct {
	Bool  bool
	Valid bool
}

func (n *NullBool) UnmarshalJSON(data []byte) error {
	*n = NullBool{}
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if b, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
		*n = NullBool{Bool: b, Valid: true}
	}
	return nil
}

func (n NullBool) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Bool)
}

// NullTime accepts the timestamp layouts the Domain API is known to emit
type NullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (n *NullTime) UnmarshalJSON(data []byte) error {
	*n = NullTime{}
	var s string
	if firstByte(data) != '"' || json.Unmarshal(data, &s) != nil {
		return nil
	}
	if t, ok := ParseTime(s); ok {
		*n = NullTime{Time: t, Valid: true}
	}
	return nil
}

func (n NullTime) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Time.Format(time.RFC3339))
}

func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// ParseTime tries each known layout; zone-less values are taken as UTC
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstByte(data []byte) byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

func decodeObject(data []byte, v any) error {
	if firstByte(data) != '{' {
		return nil
	}
	// element decoders never fail, so an error here means broken JSON
	// that the outer decoder would already have rejected
	_ = json.Unmarshal(data, v)
	return nil
}

func decodeArray(data []byte, v any) error {
	if firstByte(data) != '[' {
		return nil
	}
	_ = json.Unmarshal(data, v)
	return nil
}
