package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"domain_ingest/metrics"
	"domain_ingest/models"
	"domain_ingest/scraper"
	"domain_ingest/services"
	"domain_ingest/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const richmondResult = `{"type": "PropertyListing", "listing": {
	"id": 2019000123, "listingType": "Sale",
	"advertiser": {"id": 31337, "name": "Jellis Craig Richmond",
		"contacts": [{"name": "Jane Doe"}]},
	"priceDetails": {"price": 850000, "displayPrice": "$850,000"},
	"propertyDetails": {"displayableAddress": "12 Smith Street, Richmond",
		"streetNumber": "12", "street": "Smith Street", "suburb": "Richmond",
		"state": "VIC", "postcode": "3121", "propertyType": "House",
		"bedrooms": 3, "bathrooms": 1, "carspaces": 1},
	"listingSlug": "12-smith-street-richmond-vic-3121-2019000123"}}`

const projectResult = `{"type": "Project", "project": {"id": 77}}`

type fakeSearcher struct {
	results []json.RawMessage
	err     error
	last    scraper.SearchRequest
}

func (f *fakeSearcher) SearchPage(ctx context.Context, req scraper.SearchRequest) ([]json.RawMessage, error) {
	f.last = req
	return f.results, f.err
}

type fakeRuns struct {
	mu      sync.Mutex
	paused  bool
	running string
	started chan string
}

func (f *fakeRuns) RunAll(ctx context.Context) error {
	f.started <- "*"
	return nil
}

func (f *fakeRuns) RunProfile(ctx context.Context, id string) error {
	f.started <- id
	return nil
}

func (f *fakeRuns) HasProfile(id string) bool { return id == "richmond-sale" }

func (f *fakeRuns) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeRuns) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeRuns) Status() scraper.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scraper.Status{Paused: f.paused, Running: f.running, Profiles: []string{"richmond-sale"}}
}

type testServer struct {
	store    *storage.SQLiteStore
	searcher *fakeSearcher
	runs     *fakeRuns
	dataDir  string
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.NewRegistry()
	dataDir := t.TempDir()
	ts := &testServer{
		store:    store,
		searcher: &fakeSearcher{},
		runs:     &fakeRuns{started: make(chan string, 1)},
		dataDir:  dataDir,
	}
	srv := New(Deps{
		DB:      store,
		Query:   services.NewQueryService(store),
		Ingest:  services.NewIngestService(store, services.IngestOptions{SkipExisting: true}, nil, m),
		Exports: services.NewExportService(dataDir, nil, nil),
		Search:  ts.searcher,
		Runs:    ts.runs,
		History: store,
		Metrics: m,
		DataDir: dataDir,
		Origins: []string{"http://localhost:3000"},
	})
	ts.handler = srv.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) saveRichmond(t *testing.T) map[string]any {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/save-listings", `{"listings": [`+richmondResult+`, `+projectResult+`]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestTestDBConnection(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/test-db-connection", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestSaveListings(t *testing.T) {
	ts := newTestServer(t)

	body := ts.saveRichmond(t)
	assert.Equal(t, "Successfully saved 1 listings to database", body["message"])
	assert.EqualValues(t, 1, body["saved_count"])
	assert.EqualValues(t, 0, body["existing_count"])
	assert.EqualValues(t, 1, body["failed_count"])
	assert.Equal(t, "/data/richmond_listings.csv", body["csv_url"])

	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.EqualValues(t, 1, errs[0].(map[string]any)["index"])

	csvData, err := os.ReadFile(filepath.Join(ts.dataDir, "richmond_listings.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "Jane Doe")

	rec := ts.do(t, http.MethodGet, "/data/richmond_listings.csv", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(csvData), rec.Body.String())

	// saving again hits the duplicate guard
	body = ts.saveRichmond(t)
	assert.EqualValues(t, 0, body["saved_count"])
	assert.EqualValues(t, 1, body["existing_count"])
}

func TestSaveListings_BadInput(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/save-listings", `{"listings": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No listings provided", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/save-listings", `{"listings": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListingQueries(t *testing.T) {
	ts := newTestServer(t)
	ts.saveRichmond(t)

	rec := ts.do(t, http.MethodGet, "/api/listings/suburb/Richmond?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
	listing := body["listings"].([]any)[0].(map[string]any)
	assert.Equal(t, "Jellis Craig Richmond", listing["agency_name"])

	rec = ts.do(t, http.MethodGet, "/api/listings/suburb/Richmond?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit must be a non-negative integer", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodGet, "/api/listings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["listings"], 1)

	rec = ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["total_listings"])
	assert.EqualValues(t, 850000, stats["max_price"])
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.searcher.results = []json.RawMessage{json.RawMessage(richmondResult), json.RawMessage(projectResult)}

	rec := ts.do(t, http.MethodGet, "/api/search/Richmond?pageSize=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Found 2 listings in Richmond", body["message"])
	assert.Equal(t, "Richmond", body["suburb"])
	assert.Equal(t, 20, ts.searcher.last.PageSize)
	assert.Equal(t, "Richmond", ts.searcher.last.Locations[0].Suburb)

	ts.searcher.err = errors.New("search failed with status 503")
	rec = ts.do(t, http.MethodGet, "/api/search/Richmond", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 100, ts.searcher.last.PageSize)
}

func TestTestDomain(t *testing.T) {
	ts := newTestServer(t)
	ts.searcher.results = []json.RawMessage{json.RawMessage(richmondResult)}

	rec := ts.do(t, http.MethodGet, "/test-domain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Castlemaine", ts.searcher.last.Locations[0].Suburb)
	assert.Equal(t, 1, ts.searcher.last.PageSize)
}

func TestExport(t *testing.T) {
	ts := newTestServer(t)
	ts.saveRichmond(t)

	rec := ts.do(t, http.MethodGet, "/api/export/Richmond?format=xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="richmond_listings.xlsx"`, rec.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Listings")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "$850,000", rows[1][0])

	rec = ts.do(t, http.MethodGet, "/api/export/Richmond?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/runs/richmond-sale", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case id := <-ts.runs.started:
		assert.Equal(t, "richmond-sale", id)
	case <-time.After(time.Second):
		t.Fatal("run was not started")
	}

	ts.runs.mu.Lock()
	ts.runs.running = "richmond-sale"
	ts.runs.mu.Unlock()
	rec = ts.do(t, http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.runs.mu.Lock()
	ts.runs.running = ""
	ts.runs.mu.Unlock()
	ts.runs.Pause()
	rec = ts.do(t, http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ingest is paused", decodeBody(t, rec)["error"])
}

func TestPauseResume(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/ingest/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["status"].(map[string]any)["paused"])

	rec = ts.do(t, http.MethodPost, "/api/ingest/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/ingest/status", "")
	status := decodeBody(t, rec)["status"].(map[string]any)
	assert.Equal(t, false, status["paused"])
	assert.Equal(t, []any{"richmond-sale"}, status["profiles"])
}

func TestRunHistory(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	run := &models.IngestRun{RunUUID: "run-1", ProfileID: "richmond-sale", StartedAt: time.Now().UTC(), Status: models.RunStatusRunning}
	require.NoError(t, ts.store.CreateRun(ctx, run))
	require.NoError(t, ts.store.Log(ctx, &run.ID, models.LogLevelInfo, "page 1 fetched", "richmond-sale"))

	rec := ts.do(t, http.MethodGet, "/api/runs/richmond-sale", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["runs"], 1)
	assert.Nil(t, body["stats"])

	rec = ts.do(t, http.MethodGet, "/api/run-logs/"+strconv.FormatInt(run.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody(t, rec)["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "page 1 fetched", logs[0].(map[string]any)["message"])

	rec = ts.do(t, http.MethodGet, "/api/run-logs/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndCORS(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/health", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `domain_ingest_http_requests_total{method="GET",route="/health",status_code="200"} 1`)

	req := httptest.NewRequest(http.MethodOptions, "/api/listings", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	out := httptest.NewRecorder()
	ts.handler.ServeHTTP(out, req)
	assert.Equal(t, "http://localhost:3000", out.Header().Get("Access-Control-Allow-Origin"))
}
