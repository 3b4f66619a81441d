package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"domain_ingest/models"
	"domain_ingest/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rowCounter counts rows in a table of the store under test
type rowCounter func(t *testing.T, table string) int

// storeFactory returns an empty store for every call
type storeFactory func(t *testing.T) (ListingStore, rowCounter)

func ingestJSON(t *testing.T, store ListingStore, raw string) int64 {
	t.Helper()
	rec, err := models.DecodeExternalListing([]byte(raw))
	require.NoError(t, err)
	b, err := normalize.Record(rec)
	require.NoError(t, err)

	var id int64
	err = store.WithTx(context.Background(), func(tx ListingTx) error {
		var err error
		id, err = SaveBundle(context.Background(), tx, b)
		return err
	})
	require.NoError(t, err)
	return id
}

const richmondListing = `{
	"id": "123", "listingType": "Sale", "price": %d,
	"addressParts": {"suburb": "Richmond", "state": "VIC", "postcode": "3121"},
	"propertyDetails": {"bedrooms": 3, "bathrooms": 2}
}`

func runListingStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("re-ingest updates price in place", func(t *testing.T) {
		store, count := newStore(t)

		first := ingestJSON(t, store, fmt.Sprintf(richmondListing, 850000))
		l, err := store.GetListingByDomainID(ctx, "123")
		require.NoError(t, err)
		require.NotNil(t, l)
		require.NotNil(t, l.Price)
		assert.Equal(t, 850000.0, *l.Price)

		second := ingestJSON(t, store, fmt.Sprintf(richmondListing, 900000))
		assert.Equal(t, first, second)

		l, err = store.GetListingByDomainID(ctx, "123")
		require.NoError(t, err)
		assert.Equal(t, 900000.0, *l.Price)
		assert.Equal(t, "Sale", *l.ListingType)

		assert.Equal(t, 1, count(t, "listings"))
		assert.Equal(t, 1, count(t, "addresses"))
		assert.Equal(t, 1, count(t, "property_details"))

		rows, err := store.ListingsBySuburb(ctx, "Richmond", 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 3, *rows[0].PropertyDetails.Bedrooms)
		assert.Equal(t, "3121", *rows[0].Address.Postcode)
	})

	t.Run("identical re-ingest is idempotent", func(t *testing.T) {
		store, count := newStore(t)
		raw := `{"id": "555", "advertiser": {"id": 9, "name": "Jellis Craig"},
			"agents": [{"id": 1, "firstName": "Ann", "isPrimary": true}],
			"addressParts": {"suburb": "Hawthorn"}}`

		a := ingestJSON(t, store, raw)
		b := ingestJSON(t, store, raw)
		assert.Equal(t, a, b)

		for _, table := range []string{"listings", "property_details", "addresses", "agencies", "agents", "listing_agents"} {
			assert.Equal(t, 1, count(t, table), table)
		}
	})

	t.Run("agency is optional", func(t *testing.T) {
		store, count := newStore(t)
		ingestJSON(t, store, `{"id": "700", "addressParts": {"suburb": "Kew"}}`)

		l, err := store.GetListingByDomainID(ctx, "700")
		require.NoError(t, err)
		assert.Nil(t, l.AgencyID)
		assert.Equal(t, 0, count(t, "agencies"))

		ingestJSON(t, store, `{"id": "700", "advertiser": {"id": "A1", "name": "Marshall White"}, "addressParts": {"suburb": "Kew"}}`)
		l, err = store.GetListingByDomainID(ctx, "700")
		require.NoError(t, err)
		require.NotNil(t, l.AgencyID)

		// a later payload without advertiser keeps the existing link
		ingestJSON(t, store, `{"id": "700", "addressParts": {"suburb": "Kew"}}`)
		l2, err := store.GetListingByDomainID(ctx, "700")
		require.NoError(t, err)
		require.NotNil(t, l2.AgencyID)
		assert.Equal(t, *l.AgencyID, *l2.AgencyID)

		rows, err := store.ListingsBySuburb(ctx, "Kew", 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].AgencyName)
		assert.Equal(t, "Marshall White", *rows[0].AgencyName)
	})

	t.Run("agents fan out and are shared", func(t *testing.T) {
		store, count := newStore(t)
		ingestJSON(t, store, `{"id": "800", "addressParts": {"suburb": "Fitzroy"},
			"agents": [
				{"id": 11, "firstName": "John", "lastName": "Smith"},
				{"id": 12, "firstName": "Jane", "lastName": "Doe", "isPrimary": true},
				{"id": 13, "lastName": "Nguyen"}
			]}`)

		assert.Equal(t, 3, count(t, "agents"))
		assert.Equal(t, 3, count(t, "listing_agents"))

		rows, err := store.ListingsBySuburb(ctx, "Fitzroy", 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].AgentNames)
		assert.Equal(t, "Jane Doe; John Smith; Nguyen", *rows[0].AgentNames)

		// second listing reuses agent 12 and drops the rest
		ingestJSON(t, store, `{"id": "801", "addressParts": {"suburb": "Fitzroy"},
			"agents": [{"id": 12, "firstName": "Jane", "lastName": "Doe-Lee"}]}`)
		assert.Equal(t, 3, count(t, "agents"))
		assert.Equal(t, 4, count(t, "listing_agents"))

		// re-ingesting 800 with one agent leaves the stale links in place
		ingestJSON(t, store, `{"id": "800", "addressParts": {"suburb": "Fitzroy"},
			"agents": [{"id": 11, "firstName": "John", "lastName": "Smith", "isPrimary": true}]}`)
		assert.Equal(t, 4, count(t, "listing_agents"))
	})

	t.Run("failed transaction leaves nothing behind", func(t *testing.T) {
		store, count := newStore(t)
		rec, err := models.DecodeExternalListing([]byte(`{"id": "900", "agents": [{"id": 1}]}`))
		require.NoError(t, err)
		b, err := normalize.Record(rec)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = store.WithTx(ctx, func(tx ListingTx) error {
			if _, err := SaveBundle(ctx, tx, b); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		id, err := store.ListingIDByDomainID(ctx, "900")
		require.NoError(t, err)
		assert.Nil(t, id)
		for _, table := range []string{"listings", "property_details", "addresses", "agents", "listing_agents"} {
			assert.Equal(t, 0, count(t, table), table)
		}
	})

	t.Run("stats on empty store", func(t *testing.T) {
		store, _ := newStore(t)
		st, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.TotalListings)
		assert.Equal(t, int64(0), st.WithPrice)
		assert.Nil(t, st.AvgPrice)
		assert.Nil(t, st.MinPrice)
		assert.Nil(t, st.MaxPrice)

		rows, err := store.ListingsBySuburb(ctx, "Richmond", 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("stats aggregate", func(t *testing.T) {
		store, _ := newStore(t)
		ingestJSON(t, store, `{"id": "1", "price": 500000, "propertyDetails": {"bedrooms": 2},
			"geoLocation": {"latitude": -37.8, "longitude": 144.9}}`)
		ingestJSON(t, store, `{"id": "2", "price": 700000}`)
		ingestJSON(t, store, `{"id": "3", "price": "POA", "geoLocation": {"latitude": -37.8}}`)

		st, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), st.TotalListings)
		assert.Equal(t, int64(2), st.WithPrice)
		assert.Equal(t, int64(1), st.WithBedrooms)
		assert.Equal(t, int64(1), st.WithLocation)
		require.NotNil(t, st.AvgPrice)
		assert.InDelta(t, 600000.0, *st.AvgPrice, 0.001)
		assert.Equal(t, 500000.0, *st.MinPrice)
		assert.Equal(t, 700000.0, *st.MaxPrice)
	})

	t.Run("suburb view ordering and limit", func(t *testing.T) {
		store, _ := newStore(t)
		ingestJSON(t, store, `{"id": "a", "dateUpdated": "2025-01-01T00:00:00Z", "addressParts": {"suburb": "Carlton"}}`)
		ingestJSON(t, store, `{"id": "b", "dateUpdated": "2025-03-01T00:00:00Z", "addressParts": {"suburb": "Carlton"}}`)
		ingestJSON(t, store, `{"id": "c", "addressParts": {"suburb": "Carlton"}}`)
		ingestJSON(t, store, `{"id": "d", "dateUpdated": "2025-02-01T00:00:00Z", "addressParts": {"suburb": "Carlton North"}}`)

		rows, err := store.ListingsBySuburb(ctx, "Carlton", 0)
		require.NoError(t, err)
		var ids []string
		for _, r := range rows {
			ids = append(ids, r.Listing.DomainListingID)
		}
		assert.Equal(t, []string{"b", "a", "c"}, ids)

		rows, err = store.ListingsBySuburb(ctx, "Carlton", 2)
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		rows, err = store.ListingsBySuburb(ctx, "carlton", 0)
		require.NoError(t, err)
		assert.Empty(t, rows)

		recent, err := store.RecentListings(ctx, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "b", recent[0].Listing.DomainListingID)
	})

	t.Run("JSON columns round trip", func(t *testing.T) {
		store, _ := newStore(t)
		ingestJSON(t, store, `{"id": "j1", "addressParts": {"suburb": "Brunswick"},
			"propertyFeatures": ["Ensuite", "Deck"], "inspectionSchedule": {"byAppointment": true}}`)

		rows, err := store.ListingsBySuburb(ctx, "Brunswick", 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.JSONEq(t, `["Ensuite", "Deck"]`, string(rows[0].PropertyDetails.PropertyFeatures))
		assert.JSONEq(t, `[]`, string(rows[0].PropertyDetails.Images))
		assert.JSONEq(t, `{"byAppointment": true}`, string(rows[0].Listing.InspectionTimes))
	})
}
