package services

import (
	"context"
	"errors"
	"time"

	"domain_ingest/metrics"
	"domain_ingest/models"
	"domain_ingest/normalize"
	"domain_ingest/storage"

	"go.uber.org/zap"
)

const (
	OutcomeSaved    = "saved"
	OutcomeExisting = "existing"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

type IngestOptions struct {
	// SkipExisting checks for the external id before normalizing and reports
	// a hit as AlreadyExists without writing anything.
	SkipExisting bool
}

// IngestService takes external listings through the duplicate guard, the
// normalizer and the transactional upsert.
type IngestService struct {
	store   storage.ListingStore
	opts    IngestOptions
	log     *zap.SugaredLogger
	metrics *metrics.Registry
}

func NewIngestService(store storage.ListingStore, opts IngestOptions, log *zap.SugaredLogger, m *metrics.Registry) *IngestService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &IngestService{store: store, opts: opts, log: log, metrics: m}
}

// WithSkipExisting returns a copy of the service with the duplicate guard
// switched on or off. Refresh runs use it to rewrite stored listings.
func (s *IngestService) WithSkipExisting(skip bool) *IngestService {
	c := *s
	c.opts.SkipExisting = skip
	return &c
}

// IngestResult describes one successful ingest
type IngestResult struct {
	ListingID       int64  `json:"listing_id"`
	DomainListingID string `json:"domain_listing_id"`
	AlreadyExists   bool   `json:"already_exists"`
}

// Ingest stores one external listing. Errors are *ValidationError or
// *PersistenceError.
func (s *IngestService) Ingest(ctx context.Context, rec *models.ExternalListing) (*IngestResult, error) {
	start := time.Now()
	res, outcome, err := s.ingest(ctx, rec)
	s.metrics.ObserveIngest(outcome, time.Since(start))
	return res, err
}

func (s *IngestService) ingest(ctx context.Context, rec *models.ExternalListing) (*IngestResult, string, error) {
	externalID := normalize.ExternalID(rec)
	if externalID == "" {
		return nil, OutcomeInvalid, &ValidationError{Reason: "missing external id"}
	}

	if s.opts.SkipExisting {
		existing, err := s.store.ListingIDByDomainID(ctx, externalID)
		if err != nil {
			return nil, OutcomeFailed, &PersistenceError{DomainListingID: externalID, Err: err}
		}
		if existing != nil {
			s.log.Debugw("listing already stored, skipping", "domain_listing_id", externalID, "listing_id", *existing)
			return &IngestResult{ListingID: *existing, DomainListingID: externalID, AlreadyExists: true}, OutcomeExisting, nil
		}
	}

	bundle, err := normalize.Record(rec)
	if err != nil {
		return nil, OutcomeInvalid, &ValidationError{DomainListingID: externalID, Reason: err.Error()}
	}
	s.logDegradedFields(rec, bundle)

	var listingID int64
	err = s.store.WithTx(ctx, func(tx storage.ListingTx) error {
		var err error
		listingID, err = storage.SaveBundle(ctx, tx, bundle)
		return err
	})
	if err != nil {
		return nil, OutcomeFailed, &PersistenceError{DomainListingID: externalID, Err: err}
	}

	s.log.Debugw("listing saved",
		"domain_listing_id", externalID,
		"listing_id", listingID,
		"agents", len(bundle.Agents),
		"has_agency", bundle.Agency != nil,
	)
	return &IngestResult{ListingID: listingID, DomainListingID: externalID}, OutcomeSaved, nil
}

// logDegradedFields notes fields that were present upstream but did not survive normalization
func (s *IngestService) logDegradedFields(rec *models.ExternalListing, b *models.Bundle) {
	if b.Listing.Price == nil && (rec.Price.Text != "" || b.Listing.PriceDisplay != nil) {
		s.log.Debugw("price not parseable, stored as null", "domain_listing_id", b.Listing.DomainListingID)
	}
	if len(rec.Agents) > len(b.Agents) {
		s.log.Debugw("agents without usable id dropped",
			"domain_listing_id", b.Listing.DomainListingID,
			"dropped", len(rec.Agents)-len(b.Agents))
	}
	if rec.Advertiser != nil && b.Agency == nil {
		s.log.Debugw("advertiser without id ignored", "domain_listing_id", b.Listing.DomainListingID)
	}
}

// RecordError ties a failed record to its position in the batch
type RecordError struct {
	Index           int    `json:"index"`
	DomainListingID string `json:"domain_listing_id,omitempty"`
	Err             error  `json:"-"`
	Message         string `json:"error"`
	Retryable       bool   `json:"retryable"`
}

// BatchResult summarises an IngestBatch call
type BatchResult struct {
	Saved    int             `json:"saved"`
	Existing int             `json:"existing"`
	Failed   int             `json:"failed"`
	Results  []*IngestResult `json:"results"`
	Errors   []RecordError   `json:"errors"`
}

// IngestBatch ingests records one at a time, each in its own transaction. A
// failed record is recorded and the batch moves on; only cancellation stops it.
func (s *IngestService) IngestBatch(ctx context.Context, records []*models.ExternalListing) *BatchResult {
	out := &BatchResult{Results: []*IngestResult{}, Errors: []RecordError{}}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(records); j++ {
				out.Failed++
				out.Errors = append(out.Errors, RecordError{
					Index:           j,
					DomainListingID: normalize.ExternalID(records[j]),
					Err:             err,
					Message:         err.Error(),
					Retryable:       true,
				})
			}
			break
		}

		res, err := s.Ingest(ctx, rec)
		if err != nil {
			var perr *PersistenceError
			retryable := errors.As(err, &perr)
			out.Failed++
			out.Errors = append(out.Errors, RecordError{
				Index:           i,
				DomainListingID: normalize.ExternalID(rec),
				Err:             err,
				Message:         err.Error(),
				Retryable:       retryable,
			})
			s.log.Warnw("listing ingest failed", "index", i, "error", err)
			continue
		}

		out.Results = append(out.Results, res)
		if res.AlreadyExists {
			out.Existing++
		} else {
			out.Saved++
		}
	}

	s.log.Infow("batch ingested",
		"records", len(records),
		"saved", out.Saved,
		"existing", out.Existing,
		"failed", out.Failed,
	)
	return out
}
