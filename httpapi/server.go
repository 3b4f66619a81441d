package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"domain_ingest/metrics"
	"domain_ingest/models"
	"domain_ingest/scraper"
	"domain_ingest/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	recentListingsLimit = 100
	maxSaveBody         = 32 << 20
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Searcher fetches one page of Domain search results
type Searcher interface {
	SearchPage(ctx context.Context, req scraper.SearchRequest) ([]json.RawMessage, error)
}

// RunController is implemented by scraper.Orchestrator
type RunController interface {
	RunAll(ctx context.Context) error
	RunProfile(ctx context.Context, profileID string) error
	HasProfile(profileID string) bool
	Pause()
	Resume()
	Status() scraper.Status
}

// RunHistory is implemented by storage.SQLiteStore
type RunHistory interface {
	RecentRuns(ctx context.Context, profileID string, limit int) ([]models.IngestRun, error)
	RunLogs(ctx context.Context, runID int64) ([]models.IngestLog, error)
	GetProfileStats(ctx context.Context, profileID string) (*models.ProfileStats, error)
}

type Deps struct {
	DB       Pinger
	Query    *services.QueryService
	Ingest   *services.IngestService
	Exports  *services.ExportService
	Search   Searcher
	Runs     RunController
	History  RunHistory
	Metrics  *metrics.Registry
	Log      *zap.SugaredLogger
	DataDir  string
	Origins  []string
	BaseCtx  context.Context // background runs started from the API use this
}

type Server struct {
	Deps
}

func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if deps.BaseCtx == nil {
		deps.BaseCtx = context.Background()
	}
	return &Server{Deps: deps}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Instrument(s.Metrics, s.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.Origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Get("/test-db-connection", s.testDBConnection)
	r.Get("/test-domain", s.testDomain)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}
	r.Handle("/data/*", http.StripPrefix("/data/", http.FileServer(http.Dir(s.DataDir))))

	r.Route("/api", func(r chi.Router) {
		r.Get("/listings", s.recentListings)
		r.Get("/listings/suburb/{suburb}", s.listingsBySuburb)
		r.Get("/stats", s.stats)
		r.Get("/search/{suburb}", s.search)
		r.Post("/save-listings", s.saveListings)
		r.Get("/export/{suburb}", s.export)

		if s.Runs != nil {
			r.Get("/ingest/status", s.ingestStatus)
			r.Post("/ingest/pause", s.pauseIngest)
			r.Post("/ingest/resume", s.resumeIngest)
			r.Post("/runs", s.startRun)
			r.Post("/runs/{profile}", s.startRun)
		}
		if s.History != nil {
			r.Get("/runs/{profile}", s.runHistory)
			r.Get("/run-logs/{runID}", s.runLogs)
		}
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) testDBConnection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		s.Log.Errorw("database ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": fmt.Sprintf("Database connection failed: %v", err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Database connection successful",
	})
}

// testDomain runs a one-result search to check credentials end to end
func (s *Server) testDomain(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "Domain API not configured")
		return
	}
	req := scraper.SearchRequest{
		ListingType:   "Sale",
		PropertyTypes: []string{"House"},
		Locations:     []scraper.SearchLocation{{Suburb: "Castlemaine", State: "VIC"}},
		Page:          1,
		PageSize:      1,
	}
	results, err := s.Search.SearchPage(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Domain API error: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": results})
}

func (s *Server) recentListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.Query.RecentListings(r.Context(), recentListingsLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "listings": listings})
}

func (s *Server) listingsBySuburb(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	suburb := chi.URLParam(r, "suburb")
	listings, err := s.Query.ListingsBySuburb(r.Context(), suburb, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"suburb":   suburb,
		"count":    len(listings),
		"listings": listings,
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Query.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": st})
}

// search fetches one page from Domain without storing anything
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "Domain API not configured")
		return
	}
	pageSize, err := intParam(r, "pageSize", 100)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	suburb := strings.TrimSpace(chi.URLParam(r, "suburb"))

	results, err := s.Search.SearchPage(r.Context(), scraper.SuburbSearch(suburb, pageSize))
	if err != nil {
		s.Log.Errorw("domain search failed", "suburb", suburb, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Found %d listings in %s", len(results), suburb),
		"suburb":   suburb,
		"listings": results,
	})
}

type saveListingsRequest struct {
	Listings []json.RawMessage `json:"listings"`
}

// saveListings ingests search results and writes them to a suburb CSV
func (s *Server) saveListings(w http.ResponseWriter, r *http.Request) {
	var req saveListingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSaveBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Listings) == 0 {
		writeError(w, http.StatusBadRequest, "No listings provided")
		return
	}

	records := make([]*models.ExternalListing, 0, len(req.Listings))
	positions := make([]int, 0, len(req.Listings))
	rows := make([]services.ExportRow, 0, len(req.Listings))
	var adaptErrors []services.RecordError
	suburb := ""
	for i, raw := range req.Listings {
		sl, err := scraper.AdaptSearchResult(raw)
		if err != nil {
			adaptErrors = append(adaptErrors, services.RecordError{Index: i, Err: err, Message: err.Error()})
			continue
		}
		if suburb == "" {
			suburb = sl.Suburb()
		}
		records = append(records, sl.Record)
		positions = append(positions, i)
		if row, err := sl.ExportRow(); err == nil {
			rows = append(rows, row)
		}
	}
	if suburb == "" {
		suburb = "unknown"
	}

	s.Log.Infow("saving listings", "suburb", suburb, "count", len(req.Listings))
	batch := s.Ingest.IngestBatch(r.Context(), records)
	errs := adaptErrors
	for _, e := range batch.Errors {
		e.Index = positions[e.Index]
		errs = append(errs, e)
	}
	if errs == nil {
		errs = []services.RecordError{}
	}

	file, err := s.Exports.Save(r.Context(), suburb, services.FormatCSV, rows)
	if err != nil {
		s.Log.Errorw("csv export failed", "suburb", suburb, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        fmt.Sprintf("Successfully saved %d listings to database", batch.Saved),
		"saved_count":    batch.Saved,
		"existing_count": batch.Existing,
		"failed_count":   batch.Failed + len(adaptErrors),
		"errors":         errs,
		"csv_url":        file.URL,
		"archive_url":    file.ArchiveURL,
	})
}

// export writes the stored listings for a suburb and sends the file
func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = services.FormatCSV
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	suburb := chi.URLParam(r, "suburb")
	listings, err := s.Query.ListingsBySuburb(r.Context(), suburb, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rows := make([]services.ExportRow, 0, len(listings))
	for i := range listings {
		rows = append(rows, services.RowFromSuburbListing(&listings[i]))
	}

	file, err := s.Exports.Save(r.Context(), suburb, format, rows)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if file.ArchiveURL != "" {
		w.Header().Set("X-Archive-URL", file.ArchiveURL)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Name))
	http.ServeFile(w, r, file.Path)
}

func (s *Server) ingestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": s.Runs.Status()})
}

func (s *Server) pauseIngest(w http.ResponseWriter, r *http.Request) {
	s.Runs.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": s.Runs.Status()})
}

func (s *Server) resumeIngest(w http.ResponseWriter, r *http.Request) {
	s.Runs.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": s.Runs.Status()})
}

// startRun kicks off every profile, or one when {profile} is given, in the
// background and answers 202.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	if profile != "" && !s.Runs.HasProfile(profile) {
		writeError(w, http.StatusNotFound, "unknown profile: "+profile)
		return
	}
	st := s.Runs.Status()
	if st.Paused {
		writeError(w, http.StatusConflict, "ingest is paused")
		return
	}
	if st.Running != "" {
		writeError(w, http.StatusConflict, scraper.ErrRunInProgress.Error())
		return
	}

	go func() {
		var err error
		if profile == "" {
			err = s.Runs.RunAll(s.BaseCtx)
		} else {
			err = s.Runs.RunProfile(s.BaseCtx, profile)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.Log.Errorw("api-triggered run failed", "profile", profile, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "run started"})
}

func (s *Server) runHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	profile := chi.URLParam(r, "profile")

	runs, err := s.History.RecentRuns(r.Context(), profile, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats, err := s.History.GetProfileStats(r.Context(), profile)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []models.IngestRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": profile, "stats": stats, "runs": runs})
}

func (s *Server) runLogs(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "run id must be an integer")
		return
	}
	logs, err := s.History.RunLogs(r.Context(), runID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []models.IngestLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": logs})
}
