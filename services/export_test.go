package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"domain_ingest/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type recordingArchiver struct {
	paths []string
	err   error
}

func (a *recordingArchiver) UploadFile(ctx context.Context, filePath, contentType string) (string, error) {
	a.paths = append(a.paths, filePath)
	if a.err != nil {
		return "", a.err
	}
	return "https://bucket.example/" + filepath.Base(filePath), nil
}

func richmondRow(t *testing.T) ExportRow {
	t.Helper()
	rec := decode(t, `{
		"id": "2019000123",
		"priceDetails": {"displayPrice": "Auction"},
		"listingSlug": "12-smith-st-richmond-vic-3121-2019000123",
		"addressParts": {"displayAddress": "12 Smith St, Richmond VIC 3121"},
		"propertyDetails": {"bedrooms": 3, "bathrooms": 2, "parkingSpaces": 1, "landArea": 250.5, "areaUnit": "m²"},
		"advertiser": {"id": "A1", "name": "Jellis Craig"},
		"agents": [{"id": "AG1", "firstName": "Jane", "lastName": "Doe"}, {"id": "AG2", "firstName": "John", "lastName": "Smith"}]
	}`)
	b, err := normalize.Record(rec)
	require.NoError(t, err)
	return RowFromBundle(b)
}

func TestRowFromBundle(t *testing.T) {
	row := richmondRow(t)
	assert.Equal(t, ExportRow{
		Price:      "Auction",
		Address:    "12 Smith St, Richmond VIC 3121",
		AgentNames: "Jane Doe; John Smith",
		Agency:     "Jellis Craig",
		Bedrooms:   "3",
		Bathrooms:  "2",
		CarSpaces:  "1",
		LandSize:   "250.5 m²",
		URL:        "https://www.domain.com.au/12-smith-st-richmond-vic-3121-2019000123",
	}, row)
}

func TestRowFromSuburbListing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := NewIngestService(store, IngestOptions{}, nil, nil).Ingest(ctx, decode(t, richmondListing))
	require.NoError(t, err)

	rows, err := store.ListingsBySuburb(ctx, "Richmond", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := RowFromSuburbListing(&rows[0])
	assert.Equal(t, "$850,000", row.Price)
	assert.Equal(t, "12 Smith St, Richmond VIC 3121", row.Address)
	assert.Equal(t, "Jane Doe", row.AgentNames)
	assert.Equal(t, "Jellis Craig", row.Agency)
	assert.Equal(t, "", row.LandSize)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []ExportRow{richmondRow(t)}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ExportHeader, records[0])
	assert.Equal(t, "Jane Doe; John Smith", records[1][2])
}

func TestBuildXLSX(t *testing.T) {
	data, err := BuildXLSX([]ExportRow{richmondRow(t)})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{xlsxSheet}, f.GetSheetList())
	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ExportHeader, rows[0])
	assert.Equal(t, "Jellis Craig", rows[1][3])
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "richmond_listings.csv", FileName("Richmond", FormatCSV))
	assert.Equal(t, "st_kilda_east_listings.xlsx", FileName("St Kilda East", FormatXLSX))
	assert.Equal(t, "unknown_listings.csv", FileName("../", FormatCSV))
}

func TestExportService_Save(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("csv without archiver", func(t *testing.T) {
		svc := NewExportService(dir, nil, nil)
		file, err := svc.Save(ctx, "Richmond", FormatCSV, []ExportRow{richmondRow(t)})
		require.NoError(t, err)
		assert.Equal(t, "/data/richmond_listings.csv", file.URL)
		assert.Empty(t, file.ArchiveURL)

		data, err := os.ReadFile(filepath.Join(dir, "richmond_listings.csv"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "Price,Address,Agent Names")
	})

	t.Run("xlsx archived", func(t *testing.T) {
		arch := &recordingArchiver{}
		svc := NewExportService(dir, arch, nil)
		file, err := svc.Save(ctx, "Carlton", FormatXLSX, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://bucket.example/carlton_listings.xlsx", file.ArchiveURL)
		assert.Equal(t, []string{filepath.Join(dir, "carlton_listings.xlsx")}, arch.paths)
	})

	t.Run("archive failure keeps local file", func(t *testing.T) {
		svc := NewExportService(dir, &recordingArchiver{err: errors.New("denied")}, nil)
		file, err := svc.Save(ctx, "Fitzroy", FormatCSV, nil)
		require.NoError(t, err)
		assert.Empty(t, file.ArchiveURL)
		assert.FileExists(t, file.Path)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := NewExportService(dir, nil, nil).Save(ctx, "Richmond", "pdf", nil)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}
