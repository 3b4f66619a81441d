package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"domain_ingest/models"
	"domain_ingest/normalize"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	listingURLBase = "https://www.domain.com.au/"
	xlsxSheet      = "Listings"
)

// ExportHeader is the column order of every export
var ExportHeader = []string{
	"Price",
	"Address",
	"Agent Names",
	"Agency",
	"Bedrooms",
	"Bathrooms",
	"Car Spaces",
	"Land Size",
	"URL",
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9]+`)

// ExportRow is one listing flattened for CSV/XLSX output
type ExportRow struct {
	Price      string
	Address    string
	AgentNames string
	Agency     string
	Bedrooms   string
	Bathrooms  string
	CarSpaces  string
	LandSize   string
	URL        string
}

func (r ExportRow) values() []string {
	return []string{r.Price, r.Address, r.AgentNames, r.Agency, r.Bedrooms, r.Bathrooms, r.CarSpaces, r.LandSize, r.URL}
}

// RowFromBundle flattens a freshly normalized listing
func RowFromBundle(b *models.Bundle) ExportRow {
	names := make([]string, 0, len(b.Agents))
	for _, a := range b.Agents {
		if n := a.Agent.FullName(); n != "" {
			names = append(names, n)
		}
	}
	var agency string
	if b.Agency != nil {
		agency = str(b.Agency.Name)
	}
	return flatten(&b.Listing, &b.PropertyDetails, b.DisplayAddress, strings.Join(names, "; "), agency)
}

// RowFromSuburbListing flattens a stored listing
func RowFromSuburbListing(sl *models.SuburbListing) ExportRow {
	return flatten(&sl.Listing, &sl.PropertyDetails, normalize.FormatAddress(&sl.Address), str(sl.AgentNames), str(sl.AgencyName))
}

func flatten(l *models.Listing, pd *models.PropertyDetails, address, agents, agency string) ExportRow {
	price := str(l.PriceDisplay)
	if price == "" && l.Price != nil {
		price = strconv.FormatFloat(*l.Price, 'f', -1, 64)
	}
	landSize := ""
	if pd.LandArea != nil {
		landSize = strings.TrimSpace(strconv.FormatFloat(*pd.LandArea, 'f', -1, 64) + " " + str(pd.AreaUnit))
	}
	return ExportRow{
		Price:      price,
		Address:    address,
		AgentNames: agents,
		Agency:     agency,
		Bedrooms:   intStr(pd.Bedrooms),
		Bathrooms:  intStr(pd.Bathrooms),
		CarSpaces:  intStr(pd.ParkingSpaces),
		LandSize:   landSize,
		URL:        listingURLBase + str(l.URLSlug),
	}
}

// WriteCSV writes the header and rows
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// BuildXLSX renders rows as a single-sheet workbook with a frozen header
func BuildXLSX(rows []ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	if err := f.SetSheetRow(xlsxSheet, "A1", &ExportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(ExportHeader), 1)
	if err := f.SetCellStyle(xlsxSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := r.values()
		if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	widths := []float64{16, 40, 30, 28, 10, 10, 10, 14, 50}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(xlsxSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	if err := f.SetPanes(xlsxSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Archiver copies a written export somewhere durable and returns its URL
type Archiver interface {
	UploadFile(ctx context.Context, filePath, contentType string) (string, error)
}

// ExportFile describes an export written under the data directory
type ExportFile struct {
	Name       string `json:"name"`
	Path       string `json:"-"`
	URL        string `json:"url"` // served from /data/
	ArchiveURL string `json:"archive_url,omitempty"`
}

// ExportService writes exports into the data directory and optionally archives them
type ExportService struct {
	dataDir  string
	archiver Archiver
	log      *zap.SugaredLogger
}

// NewExportService takes a nil archiver when uploads are not configured
func NewExportService(dataDir string, archiver Archiver, log *zap.SugaredLogger) *ExportService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ExportService{dataDir: dataDir, archiver: archiver, log: log}
}

// FileName returns "<suburb>_listings.<format>" with the suburb made file-safe
func FileName(suburb, format string) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(suburb), "_"), "_")
	if base == "" {
		base = "unknown"
	}
	return base + "_listings." + format
}

// Save writes rows for suburb in the given format. An archive failure is
// logged and does not fail the export.
func (s *ExportService) Save(ctx context.Context, suburb, format string, rows []ExportRow) (*ExportFile, error) {
	var data []byte
	var contentType string
	switch format {
	case FormatCSV:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, rows); err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
		data, contentType = buf.Bytes(), "text/csv"
	case FormatXLSX:
		var err error
		if data, err = BuildXLSX(rows); err != nil {
			return nil, err
		}
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown export format %q", format)}
	}

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	name := FileName(suburb, format)
	path := filepath.Join(s.dataDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	file := &ExportFile{Name: name, Path: path, URL: "/data/" + name}
	if s.archiver != nil {
		url, err := s.archiver.UploadFile(ctx, path, contentType)
		if err != nil {
			s.log.Warnw("export archive failed", "file", name, "error", err)
		} else {
			file.ArchiveURL = url
		}
	}

	s.log.Infow("export written", "file", name, "rows", len(rows), "archived", file.ArchiveURL != "")
	return file, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intStr(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}
