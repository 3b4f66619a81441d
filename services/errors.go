package services

import "fmt"

// ValidationError means the record can never be ingested as sent. Retrying
// is pointless; the caller should skip it.
type ValidationError struct {
	DomainListingID string
	Reason          string
}

func (e *ValidationError) Error() string {
	if e.DomainListingID == "" {
		return "invalid listing: " + e.Reason
	}
	return fmt.Sprintf("invalid listing %s: %s", e.DomainListingID, e.Reason)
}

// PersistenceError wraps a storage failure. The transaction has been rolled
// back, so the whole ingest may be retried.
type PersistenceError struct {
	DomainListingID string
	Err             error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist listing %s: %v", e.DomainListingID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
