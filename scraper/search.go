package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"domain_ingest/models"
	"domain_ingest/normalize"
	"domain_ingest/services"
)

// SearchListing is one residential search result converted to the ingest shape
type SearchListing struct {
	Record *models.ExternalListing
	Raw    json.RawMessage // the listing object as Domain sent it

	// ContactNames are the advertiser contacts. They carry no ids, so they
	// never become agents, but exports list them.
	ContactNames []string
}

type rawObject map[string]json.RawMessage

// AdaptSearchResult accepts either the search envelope {"type", "listing"}
// or a bare listing object.
func AdaptSearchResult(raw json.RawMessage) (*SearchListing, error) {
	outer, ok := asObject(raw)
	if !ok {
		return nil, errors.New("search result is not a JSON object")
	}

	listing := outer
	if inner, ok := asObject(outer["listing"]); ok {
		listing = inner
	} else if t := stringValue(outer["type"]); t == "Project" {
		return nil, fmt.Errorf("search result type %s is not a listing", t)
	}

	details, _ := asObject(listing["propertyDetails"])
	rec := rawObject{}
	copyKeys(rec, listing, "id", "status", "dateListed", "dateUpdated", "headline",
		"description", "listingSlug", "inspectionSchedule", "floorplans", "agents", "advertiser", "priceDetails")

	rec["listingType"] = first(listing["listingType"], listing["type"])
	if rec["description"] == nil {
		rec["description"] = listing["summaryDescription"]
	}
	if pd, ok := asObject(listing["priceDetails"]); ok {
		rec["price"] = pd["price"]
	}
	if auction, ok := asObject(listing["auctionSchedule"]); ok {
		rec["auctionDate"] = auction["time"]
	}
	rec["images"] = listing["media"]
	rec["propertyFeatures"] = first(listing["features"], details["features"])

	switch {
	case isArray(listing["propertyTypes"]):
		rec["propertyTypes"] = listing["propertyTypes"]
	case details["propertyType"] != nil || listing["propertyType"] != nil:
		rec["propertyTypes"] = wrapArray(first(listing["propertyType"], details["propertyType"]))
	}

	if details != nil {
		rec["propertyDetails"] = marshalObject(rawObject{
			"bedrooms":      details["bedrooms"],
			"bathrooms":     details["bathrooms"],
			"parkingSpaces": first(details["parkingSpaces"], details["carspaces"]),
			"landArea":      details["landArea"],
			"areaUnit":      details["areaUnit"],
			"yearBuilt":     details["yearBuilt"],
			"energyRating":  details["energyRating"],
		})
		rec["addressParts"] = marshalObject(rawObject{
			"street":         details["street"],
			"streetNumber":   details["streetNumber"],
			"suburb":         details["suburb"],
			"state":          details["state"],
			"postcode":       details["postcode"],
			"displayAddress": details["displayableAddress"],
		})
		rec["geoLocation"] = marshalObject(rawObject{
			"latitude":  details["latitude"],
			"longitude": details["longitude"],
		})
	}

	data, err := json.Marshal(dropNil(rec))
	if err != nil {
		return nil, err
	}
	record, err := models.DecodeExternalListing(data)
	if err != nil {
		return nil, err
	}

	return &SearchListing{
		Record:       record,
		Raw:          marshalObject(listing),
		ContactNames: contactNames(listing["advertiser"]),
	}, nil
}

// ExportRow flattens the listing for CSV/XLSX. Contact names and the
// advertiser name stand in when no agent or agency survived normalization.
func (l *SearchListing) ExportRow() (services.ExportRow, error) {
	b, err := normalize.Record(l.Record)
	if err != nil {
		return services.ExportRow{}, err
	}
	row := services.RowFromBundle(b)
	if row.AgentNames == "" {
		row.AgentNames = strings.Join(l.ContactNames, "; ")
	}
	if row.Agency == "" && l.Record.Advertiser != nil {
		row.Agency = strings.TrimSpace(l.Record.Advertiser.Name.String)
	}
	return row, nil
}

// Suburb returns the listing's suburb, or "" if it has none
func (l *SearchListing) Suburb() string {
	if l.Record.AddressParts == nil {
		return ""
	}
	return strings.TrimSpace(l.Record.AddressParts.Suburb.String)
}

func contactNames(raw json.RawMessage) []string {
	adv, ok := asObject(raw)
	if !ok {
		return nil
	}
	var contacts []json.RawMessage
	if json.Unmarshal(adv["contacts"], &contacts) != nil {
		return nil
	}
	var names []string
	for _, c := range contacts {
		obj, ok := asObject(c)
		if !ok {
			continue
		}
		if name := strings.TrimSpace(stringValue(obj["name"])); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func asObject(raw json.RawMessage) (rawObject, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj rawObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func stringValue(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// first returns the first value that is present and not JSON null
func first(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if v != nil && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v
		}
	}
	return nil
}

func wrapArray(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return json.RawMessage("[" + string(v) + "]")
}

func copyKeys(dst, src rawObject, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}

func dropNil(obj rawObject) rawObject {
	for k, v := range obj {
		if v == nil {
			delete(obj, k)
		}
	}
	return obj
}

func marshalObject(obj rawObject) json.RawMessage {
	data, err := json.Marshal(dropNil(obj))
	if err != nil {
		return nil
	}
	return data
}
