package archive

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fintrackhq/fintrack/internal/statement"
	"github.com/fintrackhq/fintrack/pkg/logger"
)

// Cutoff bounds. Callers asking for less than a month or more than two
// years get clamped, not rejected.
const (
	MinCutoffDays = 30
	MaxCutoffDays = 730
)

const manifestFile = "archive_manifest.json"

var csvHeader = []string{
	"transaction_id", "date", "description", "debit",
	"credit", "balance", "source_name", "statement_id",
}

// Result summarizes one archival run
type Result struct {
	CutoffDays   int      `json:"cutoff_days"`
	CutoffDate   string   `json:"cutoff_date"`
	Files        []string `json:"files"`
	Transactions int      `json:"transactions"`
	Issues       []string `json:"issues,omitempty"`
}

// RestoreResult summarizes one restore run
type RestoreResult struct {
	File     string   `json:"file"`
	Restored int      `json:"restored"`
	Skipped  int      `json:"skipped"`
	Issues   []string `json:"issues,omitempty"`
}

// manifest is the on-disk index of everything archived so far. It is
// rewritten whole on every run.
type manifest struct {
	CreatedAt  time.Time       `json:"created_at"`
	CutoffDays int             `json:"cutoff_days"`
	Entries    []manifestEntry `json:"entries"`
}

type manifestEntry struct {
	Month      string    `json:"month"`
	File       string    `json:"file"`
	Count      int       `json:"count"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Worker exports aged transactions to monthly CSV files and restores them
// back into the store.
type Worker struct {
	repo statement.Repository
	dir  string
	log  *logger.Logger
}

func NewWorker(repo statement.Repository, dir string, log *logger.Logger) *Worker {
	return &Worker{repo: repo, dir: dir, log: log}
}

// Archive exports every transaction older than cutoffDays into one CSV file
// per calendar month under the archive directory, then rewrites the
// manifest. Rows stay in the store; archival is an export, not a purge.
func (w *Worker) Archive(ctx context.Context, cutoffDays int) (*Result, error) {
	if cutoffDays < MinCutoffDays {
		cutoffDays = MinCutoffDays
	}
	if cutoffDays > MaxCutoffDays {
		cutoffDays = MaxCutoffDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -cutoffDays)

	log := w.log.WithContext(ctx).WithField("cutoff_days", cutoffDays)

	txs, err := w.repo.ListTransactionsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list transactions before cutoff: %w", err)
	}

	result := &Result{
		CutoffDays: cutoffDays,
		CutoffDate: cutoff.Format("2006-01-02"),
	}
	if len(txs) == 0 {
		log.Info("no transactions older than cutoff, nothing to archive")
		return result, nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	byMonth := make(map[string][]*statement.Transaction)
	for _, tx := range txs {
		key := tx.TransactionDate.Format("2006-01")
		byMonth[key] = append(byMonth[key], tx)
	}

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	now := time.Now().UTC()
	var entries []manifestEntry
	for _, month := range months {
		name := month + "-transactions.csv"
		if err := w.writeMonth(filepath.Join(w.dir, name), byMonth[month]); err != nil {
			// One bad month must not abort the run.
			log.WithError(err).Error("failed to archive month", "month", month)
			result.Issues = append(result.Issues, fmt.Sprintf("month %s: %v", month, err))
			continue
		}
		entries = append(entries, manifestEntry{
			Month:      month,
			File:       name,
			Count:      len(byMonth[month]),
			ArchivedAt: now,
		})
		result.Files = append(result.Files, name)
		result.Transactions += len(byMonth[month])
	}

	if err := w.writeManifest(manifest{
		CreatedAt:  now,
		CutoffDays: cutoffDays,
		Entries:    entries,
	}); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	log.Info("archive run complete",
		"months", len(result.Files),
		"transactions", result.Transactions,
		"issues", len(result.Issues),
	)
	return result, nil
}

func (w *Worker) writeMonth(path string, txs []*statement.Transaction) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(f)
	write := func() error {
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, tx := range txs {
			record := []string{
				tx.TransactionID,
				tx.TransactionDate.Format("2006-01-02"),
				tx.Description,
				amountString(tx.Debit),
				amountString(tx.Credit),
				amountString(tx.Balance),
				tx.SourceName,
				tx.StatementID,
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}

	if err := write(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Worker) writeManifest(m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, manifestFile), data, 0o644)
}

// Restore reads an archive CSV back into the store. Rows whose transaction
// ID already exists are skipped, so restoring the same file twice is a
// no-op. Malformed rows are reported as issues and skipped; all restored
// rows commit together.
func (w *Worker) Restore(ctx context.Context, file string) (*RestoreResult, error) {
	path := filepath.Join(w.dir, filepath.Base(file))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read archive header: %w", err)
	}
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("unexpected archive header: %v", header)
	}

	txCtx, err := w.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin restore: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := w.repo.RollbackTx(txCtx); rbErr != nil {
				w.log.WithError(rbErr).Error("failed to rollback restore")
			}
		}
	}()

	result := &RestoreResult{File: filepath.Base(file)}
	now := time.Now().UTC()
	statementSeen := make(map[string]bool)
	line := 1
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			line++
			result.Issues = append(result.Issues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		line++

		tx, err := transactionFromRecord(record, now)
		if err != nil {
			result.Issues = append(result.Issues, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		exists, err := w.repo.TransactionExists(txCtx, tx.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("check transaction: %w", err)
		}
		if exists {
			result.Skipped++
			continue
		}

		if err := w.ensureStatement(txCtx, tx, now, statementSeen); err != nil {
			return nil, err
		}

		if err := w.repo.CreateTransaction(txCtx, tx); err != nil {
			if errors.Is(err, statement.ErrTransactionExists) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("restore transaction: %w", err)
		}
		result.Restored++
	}

	if err := w.repo.CommitTx(txCtx); err != nil {
		return nil, fmt.Errorf("commit restore: %w", err)
	}
	committed = true

	w.log.WithContext(ctx).Info("restore complete",
		"file", result.File,
		"restored", result.Restored,
		"skipped", result.Skipped,
		"issues", len(result.Issues),
	)
	return result, nil
}

// ensureStatement recreates a stub parent statement when restoring rows
// whose original statement has since been deleted.
func (w *Worker) ensureStatement(ctx context.Context, tx *statement.Transaction, now time.Time, seen map[string]bool) error {
	if seen[tx.StatementID] {
		return nil
	}

	_, err := w.repo.GetStatement(ctx, tx.StatementID)
	if err == nil {
		seen[tx.StatementID] = true
		return nil
	}
	if !errors.Is(err, statement.ErrStatementNotFound) {
		return fmt.Errorf("check statement: %w", err)
	}

	stub := &statement.Statement{
		StatementID: tx.StatementID,
		SourceType:  statement.SourceTypeUnknown,
		SourceName:  tx.SourceName,
		PeriodStart: tx.TransactionDate,
		PeriodEnd:   tx.TransactionDate,
		ParseStatus: statement.ParseStatusPartial,
		IngestionTS: now,
	}
	if err := w.repo.CreateStatement(ctx, stub); err != nil && !errors.Is(err, statement.ErrStatementExists) {
		return fmt.Errorf("restore statement: %w", err)
	}
	seen[tx.StatementID] = true
	return nil
}

func transactionFromRecord(record []string, now time.Time) (*statement.Transaction, error) {
	if len(record) != len(csvHeader) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(csvHeader), len(record))
	}

	date, err := time.Parse("2006-01-02", record[1])
	if err != nil {
		return nil, fmt.Errorf("bad date %q", record[1])
	}

	debit, err := parseNullableAmount(record[3])
	if err != nil {
		return nil, fmt.Errorf("bad debit %q", record[3])
	}
	credit, err := parseNullableAmount(record[4])
	if err != nil {
		return nil, fmt.Errorf("bad credit %q", record[4])
	}
	balance, err := parseNullableAmount(record[5])
	if err != nil {
		return nil, fmt.Errorf("bad balance %q", record[5])
	}

	tx := &statement.Transaction{
		TransactionID:   record[0],
		StatementID:     record[7],
		TransactionDate: date,
		Description:     record[2],
		Debit:           debit,
		Credit:          credit,
		Balance:         balance,
		Currency:        "INR",
		SourceType:      statement.SourceTypeUnknown,
		SourceName:      record[6],
		CreatedTS:       now,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

func amountString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func parseNullableAmount(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
