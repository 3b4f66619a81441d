package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"domain_ingest/config"
	"domain_ingest/metrics"
	"domain_ingest/models"
	"domain_ingest/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a run is requested while another is active
var ErrRunInProgress = errors.New("an ingest run is already in progress")

// Searcher is implemented by DomainClient
type Searcher interface {
	Search(ctx context.Context, req SearchRequest, maxPages int, fn PageFunc) (int, error)
}

// RunStore keeps run history, logs and resume pages. SQLiteStore implements it.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.IngestRun) error
	UpdateRun(ctx context.Context, run *models.IngestRun) error
	Log(ctx context.Context, runID *int64, level models.LogLevel, message, profileID string) error
	UpdateProfileStats(ctx context.Context, profileID string) error
	GetResumePage(ctx context.Context, profileID string) (int, error)
	SetResumePage(ctx context.Context, profileID string, page int) error
	ClearResumePage(ctx context.Context, profileID string) error
}

type Orchestrator struct {
	profiles map[string]*config.SearchProfile
	order    []string
	searcher Searcher
	ingest   *services.IngestService
	runs     RunStore
	log      *zap.SugaredLogger
	metrics  *metrics.Registry
	now      func() time.Time

	running sync.Mutex
	mu      sync.RWMutex
	paused  bool
	current string
}

// NewOrchestrator runs the given profiles in the order passed
func NewOrchestrator(profiles []*config.SearchProfile, searcher Searcher, ingest *services.IngestService, runs RunStore, log *zap.SugaredLogger, m *metrics.Registry) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	o := &Orchestrator{
		profiles: make(map[string]*config.SearchProfile, len(profiles)),
		searcher: searcher,
		ingest:   ingest,
		runs:     runs,
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, p := range profiles {
		o.profiles[p.ID] = p
		o.order = append(o.order, p.ID)
	}
	return o
}

// RunAll runs every profile in turn. A failing profile is logged and the
// rest still run; the joined errors are returned.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		o.log.Info("ingest is paused, skipping run")
		return nil
	}
	if !o.running.TryLock() {
		return ErrRunInProgress
	}
	defer o.running.Unlock()

	var errs []error
	for _, id := range o.order {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := o.runProfile(ctx, o.profiles[id]); err != nil {
			o.log.Errorw("profile run failed", "profile", id, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RunProfile runs one profile by id. Like RunAll it does nothing while paused.
func (o *Orchestrator) RunProfile(ctx context.Context, profileID string) error {
	profile, ok := o.profiles[profileID]
	if !ok {
		return fmt.Errorf("unknown profile: %s", profileID)
	}
	if o.IsPaused() {
		o.log.Infow("ingest is paused, skipping run", "profile", profileID)
		return nil
	}
	if !o.running.TryLock() {
		return ErrRunInProgress
	}
	defer o.running.Unlock()
	return o.runProfile(ctx, profile)
}

func (o *Orchestrator) runProfile(ctx context.Context, p *config.SearchProfile) (err error) {
	o.setCurrent(p.ID)
	defer o.setCurrent("")

	run := &models.IngestRun{
		RunUUID:   uuid.NewString(),
		ProfileID: p.ID,
		StartedAt: o.now(),
		Status:    models.RunStatusRunning,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	// bookkeeping must land even when ctx was cancelled mid-run
	bg := context.WithoutCancel(ctx)
	defer func() {
		finished := o.now()
		run.FinishedAt = &finished
		run.Status = models.RunStatusCompleted
		if err != nil {
			run.Status = models.RunStatusFailed
		}
		if uerr := o.runs.UpdateRun(bg, run); uerr != nil {
			o.log.Warnw("failed to update run", "run_id", run.ID, "error", uerr)
		}
		if uerr := o.runs.UpdateProfileStats(bg, p.ID); uerr != nil {
			o.log.Warnw("failed to update profile stats", "profile", p.ID, "error", uerr)
		}
		o.metrics.ObserveRun(p.ID, string(run.Status), finished.Sub(run.StartedAt))
	}()

	ingest := o.ingest
	if p.Refresh {
		ingest = ingest.WithSkipExisting(false)
	}

	req := ProfileSearch(p)
	if page, perr := o.runs.GetResumePage(ctx, p.ID); perr != nil {
		o.logRun(bg, run, models.LogLevelWarn, fmt.Sprintf("could not read resume page: %v", perr))
	} else if page > 1 {
		req.Page = page
		o.logRun(bg, run, models.LogLevelInfo, fmt.Sprintf("resuming at page %d", page))
	}

	o.logRun(bg, run, models.LogLevelInfo, fmt.Sprintf("starting %s (%s %s)", p.Name, p.ListingType, p.Suburb))

	_, err = o.searcher.Search(ctx, req, p.MaxPages, func(page int, results []json.RawMessage) error {
		run.PagesFetched++
		run.ListingsFound += len(results)

		records := make([]*models.ExternalListing, 0, len(results))
		for i, raw := range results {
			sl, aerr := AdaptSearchResult(raw)
			if aerr != nil {
				run.ErrorsCount++
				o.logRun(bg, run, models.LogLevelWarn, fmt.Sprintf("page %d result %d skipped: %v", page, i, aerr))
				continue
			}
			records = append(records, sl.Record)
		}

		batch := ingest.IngestBatch(ctx, records)
		run.ListingsSaved += batch.Saved
		run.ListingsSkipped += batch.Existing
		run.ErrorsCount += batch.Failed
		for _, rerr := range batch.Errors {
			o.logRun(bg, run, models.LogLevelError, fmt.Sprintf("listing %s: %s", rerr.DomainListingID, rerr.Message))
		}

		o.logRun(bg, run, models.LogLevelInfo, fmt.Sprintf("page %d: %d found, %d saved, %d existing, %d failed",
			page, len(results), batch.Saved, batch.Existing, batch.Failed))

		if serr := o.runs.SetResumePage(bg, p.ID, page+1); serr != nil {
			o.log.Warnw("failed to store resume page", "profile", p.ID, "error", serr)
		}
		return ctx.Err()
	})
	if err != nil {
		o.logRun(bg, run, models.LogLevelError, fmt.Sprintf("run stopped: %v", err))
		return err
	}

	if cerr := o.runs.ClearResumePage(bg, p.ID); cerr != nil {
		o.log.Warnw("failed to clear resume page", "profile", p.ID, "error", cerr)
	}
	o.logRun(bg, run, models.LogLevelInfo, fmt.Sprintf("completed: %d pages, %d found, %d saved, %d existing, %d errors",
		run.PagesFetched, run.ListingsFound, run.ListingsSaved, run.ListingsSkipped, run.ErrorsCount))
	return nil
}

func (o *Orchestrator) logRun(ctx context.Context, run *models.IngestRun, level models.LogLevel, message string) {
	switch level {
	case models.LogLevelError:
		o.log.Errorw(message, "profile", run.ProfileID, "run", run.RunUUID)
	case models.LogLevelWarn:
		o.log.Warnw(message, "profile", run.ProfileID, "run", run.RunUUID)
	default:
		o.log.Infow(message, "profile", run.ProfileID, "run", run.RunUUID)
	}
	if err := o.runs.Log(ctx, &run.ID, level, message, run.ProfileID); err != nil {
		o.log.Warnw("failed to write run log", "error", err)
	}
}

func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	o.log.Info("ingest paused")
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.log.Info("ingest resumed")
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paused
}

func (o *Orchestrator) setCurrent(id string) {
	o.mu.Lock()
	o.current = id
	o.mu.Unlock()
}

// Status is what the HTTP API reports about the orchestrator
type Status struct {
	Paused   bool     `json:"paused"`
	Running  string   `json:"running,omitempty"`
	Profiles []string `json:"profiles"`
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	profiles := append([]string{}, o.order...)
	return Status{Paused: o.paused, Running: o.current, Profiles: profiles}
}

// HasProfile reports whether id is a configured profile
func (o *Orchestrator) HasProfile(id string) bool {
	_, ok := o.profiles[id]
	return ok
}
