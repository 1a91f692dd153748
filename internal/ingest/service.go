package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fintrackhq/fintrack/internal/extract"
	"github.com/fintrackhq/fintrack/internal/parse"
	"github.com/fintrackhq/fintrack/internal/statement"
	"github.com/fintrackhq/fintrack/pkg/logger"
)

// Extractor turns a stored PDF into page text plus audit entries
type Extractor interface {
	Extract(ctx context.Context, path string) ([]extract.Page, []statement.LogEntry, error)
}

// Config tunes the ingestion service
type Config struct {
	// Workers bounds concurrent extractions; extraction and OCR are the
	// expensive part of the pipeline.
	Workers int
	// Locker is optional. When nil, duplicate suppression relies on the
	// statement primary key alone.
	Locker Locker
}

// Service runs the full ingestion pipeline: hash, extract, detect, parse,
// persist, link. One call ingests one document.
type Service struct {
	repo      statement.Repository
	extractor Extractor
	registry  *parse.Registry
	locker    Locker
	sem       *semaphore.Weighted
	log       *logger.Logger
}

func NewService(repo statement.Repository, extractor Extractor, registry *parse.Registry, cfg Config, log *logger.Logger) *Service {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	locker := cfg.Locker
	if locker == nil {
		locker = noopLocker{}
	}
	return &Service{
		repo:      repo,
		extractor: extractor,
		registry:  registry,
		locker:    locker,
		sem:       semaphore.NewWeighted(int64(workers)),
		log:       log,
	}
}

// Ingest processes one stored document. On success it returns the persisted
// statement, the transactions inserted by this call and any non-fatal issues
// (skipped rows, duplicates). Re-ingesting byte-identical content returns the
// existing statement with no new transactions.
//
// Hard failures return one of the sentinel errors from errors.go; nothing is
// persisted in that case.
func (s *Service) Ingest(ctx context.Context, path string) (*statement.Statement, []*statement.Transaction, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: read document: %v", ErrExtractionFailed, err)
	}

	statementID := statement.ComputeStatementID(raw)
	log := s.log.WithContext(ctx).WithField("statement_id", statementID)

	release, acquired, err := s.locker.TryLock(ctx, statementID)
	if err != nil {
		// A lock backend outage must not block ingestion; the statement
		// primary key still rejects duplicates.
		log.WithError(err).Warn("ingest lock unavailable, proceeding without it")
	} else if !acquired {
		if existing, gerr := s.repo.GetStatement(ctx, statementID); gerr == nil {
			return existing, nil, []string{"statement already ingested"}, nil
		}
		return nil, nil, nil, ErrIngestInFlight
	} else {
		defer release()
	}

	// Duplicate fast path, before any extraction work.
	existing, err := s.repo.GetStatement(ctx, statementID)
	if err == nil {
		log.Info("duplicate statement, skipping ingestion")
		return existing, nil, []string{"statement already ingested"}, nil
	}
	if !errors.Is(err, statement.ErrStatementNotFound) {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, nil, err
	}
	pages, extractLogs, err := s.extractor.Extract(ctx, path)
	s.sem.Release(1)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(pages) == 0 {
		return nil, nil, nil, ErrExtractionFailed
	}

	format := parse.DetectFormat(pages[0].Text)
	parser, ok := s.registry.Get(format)
	if !ok {
		log.Warn("no parser for document", "format", string(format))
		return nil, nil, nil, ErrUnsupportedFormat
	}

	meta, rows, parseLogs := parser.Parse(pages)
	if meta == nil {
		return nil, nil, nil, ErrParseFailed
	}

	auditLogs := append(extractLogs, parseLogs...)
	st, inserted, issues, err := s.persist(ctx, statementID, path, len(pages), meta, rows, auditLogs)
	if err != nil {
		return nil, nil, nil, err
	}

	log.Info("statement ingested",
		"source", st.SourceName,
		"transactions", len(inserted),
		"issues", len(issues),
	)
	return st, inserted, issues, nil
}

// persist writes the statement, its transactions, lineage edges and audit
// logs in one database transaction.
func (s *Service) persist(
	ctx context.Context,
	statementID, path string,
	pageCount int,
	meta *parse.Metadata,
	rows []parse.RawTransaction,
	auditLogs []statement.LogEntry,
) (*statement.Statement, []*statement.Transaction, []string, error) {
	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: begin: %v", ErrPersistFailed, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := s.repo.RollbackTx(txCtx); rbErr != nil {
				s.log.WithError(rbErr).Error("failed to rollback ingestion")
			}
		}
	}()

	now := time.Now().UTC()
	st := &statement.Statement{
		StatementID:  statementID,
		SourceType:   meta.SourceType,
		SourceName:   meta.SourceName,
		AccountRef:   meta.AccountRef,
		PeriodStart:  meta.PeriodStart,
		PeriodEnd:    meta.PeriodEnd,
		ParseStatus:  meta.ParseStatus,
		DocumentPath: path,
		PageCount:    pageCount,
		RowCount:     len(rows),
		IngestionTS:  now,
	}

	if err := s.repo.CreateStatement(txCtx, st); err != nil {
		if errors.Is(err, statement.ErrStatementExists) {
			// Lost a race with a concurrent ingestion of the same bytes.
			committed = true
			if rbErr := s.repo.RollbackTx(txCtx); rbErr != nil {
				s.log.WithError(rbErr).Error("failed to rollback ingestion")
			}
			if existing, gerr := s.repo.GetStatement(ctx, statementID); gerr == nil {
				return existing, nil, []string{"statement already ingested"}, nil
			}
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
		return nil, nil, nil, fmt.Errorf("%w: create statement: %v", ErrPersistFailed, err)
	}

	var issues []string
	var inserted []*statement.Transaction
	for _, row := range rows {
		tx := &statement.Transaction{
			TransactionID:   statement.ComputeTransactionID(statementID, row.Date, row.Description, row.Debit, row.Credit),
			StatementID:     statementID,
			TransactionDate: row.Date,
			ValueDate:       row.ValueDate,
			Description:     row.Description,
			Debit:           row.Debit,
			Credit:          row.Credit,
			Balance:         row.Balance,
			Currency:        row.Currency,
			SourceType:      meta.SourceType,
			SourceName:      meta.SourceName,
			RawLine:         row.RawLine,
			CreatedTS:       now,
		}
		if err := tx.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("skipped row %q: %v", row.Description, err))
			continue
		}
		if err := s.repo.CreateTransaction(txCtx, tx); err != nil {
			if errors.Is(err, statement.ErrTransactionExists) {
				issues = append(issues, fmt.Sprintf("duplicate row %q: already recorded", row.Description))
				continue
			}
			return nil, nil, nil, fmt.Errorf("%w: create transaction: %v", ErrPersistFailed, err)
		}
		inserted = append(inserted, tx)
	}

	// Lineage runs in the same unit of work so edges and their endpoints
	// become visible together.
	if len(inserted) > 0 {
		prior, err := s.repo.ListTransactionsExcludingStatement(txCtx, statementID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: list transactions: %v", ErrPersistFailed, err)
		}
		for _, edge := range detectLineage(inserted, prior, now) {
			if err := s.repo.CreateLineage(txCtx, edge); err != nil {
				return nil, nil, nil, fmt.Errorf("%w: create lineage: %v", ErrPersistFailed, err)
			}
		}
	}

	if len(auditLogs) > 0 {
		if err := s.repo.AppendLogs(txCtx, statementID, auditLogs); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: append logs: %v", ErrPersistFailed, err)
		}
	}

	if err := s.repo.CommitTx(txCtx); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: commit: %v", ErrPersistFailed, err)
	}
	committed = true

	return st, inserted, issues, nil
}
