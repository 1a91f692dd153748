package ingest

import "errors"

// Hard ingestion failures: nothing is persisted when these are returned.
var (
	ErrUnsupportedFormat = errors.New("unsupported bank/card type")
	ErrExtractionFailed  = errors.New("text extraction failed")
	ErrParseFailed       = errors.New("could not extract statement metadata")
	ErrIngestInFlight    = errors.New("ingestion already in flight for this document")
	ErrPersistFailed     = errors.New("failed to persist statement")
)
