package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

const recordColumns = `id, run_id, dedup_key, status, confidence, source, input, resolved, result, attempts, error, created_at`

// CitationRepo stores resolution records in resolved_citations. It is both
// the citation.Repository and a batch.ResultSink.
type CitationRepo struct {
	conn *postgres.Connection
	tx   *sql.Tx
	log  logging.Logger
	now  func() time.Time
}

var (
	_ citation.Repository = (*CitationRepo)(nil)
	_ batch.ResultSink    = (*CitationRepo)(nil)
)

func NewCitationRepo(conn *postgres.Connection, log logging.Logger) *CitationRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &CitationRepo{conn: conn, log: log, now: time.Now}
}

// WithTx returns a copy of the repository bound to tx.
func (r *CitationRepo) WithTx(tx *sql.Tx) *CitationRepo {
	cp := *r
	cp.tx = tx
	return &cp
}

func (r *CitationRepo) executor() queryExecutor {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

// SaveRecord inserts rec, replacing an existing row only when that row is
// FAILED.
func (r *CitationRepo) SaveRecord(ctx context.Context, rec *citation.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.NewValidationError("id", "record id is required")
	}
	if !rec.Result.Status.IsValid() {
		return errors.NewValidationError("status", fmt.Sprintf("unknown status %q", rec.Result.Status))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}

	input, err := json.Marshal(rec.Input)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal input citation")
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal resolution result")
	}
	var resolved []byte
	var matchDOI sql.NullString
	if rec.Resolved != nil {
		if resolved, err = json.Marshal(rec.Resolved); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal resolved citation")
		}
		matchDOI = nullString(citation.NormalizeDOI(rec.Resolved.DOI))
	}

	query := `
		INSERT INTO resolved_citations (
			id, run_id, dedup_key, status, confidence, source, match_doi,
			input, resolved, result, attempts, error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			match_doi = EXCLUDED.match_doi,
			resolved = EXCLUDED.resolved,
			result = EXCLUDED.result,
			attempts = EXCLUDED.attempts,
			error = EXCLUDED.error,
			updated_at = NOW()
		WHERE resolved_citations.status = 'FAILED'
	`
	res, err := r.executor().ExecContext(ctx, query,
		rec.ID, nullString(rec.RunID), rec.DedupKey, string(rec.Result.Status), rec.Result.Confidence,
		nullString(rec.Result.Source), matchDOI, input, resolved, result, rec.Attempts,
		nullString(rec.Error), rec.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save citation record").WithDetail("id=" + rec.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.log.Debug("citation record already stored", logging.String("id", rec.ID))
	}
	return nil
}

// GetRecord returns the record stored under id.
func (r *CitationRepo) GetRecord(ctx context.Context, id string) (*citation.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM resolved_citations WHERE id = $1`
	rec, err := scanRecord(r.executor().QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeCitationNotFound, "citation record not found").WithDetail("id=" + id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get citation record").WithDetail("id=" + id)
	}
	return rec, nil
}

// ListRecords pages through records, newest first, and returns the total
// number of matching rows.
func (r *CitationRepo) ListRecords(ctx context.Context, f citation.RecordFilter) ([]*citation.Record, int64, error) {
	baseQuery := `FROM resolved_citations WHERE 1=1`
	var args []interface{}
	if f.RunID != "" {
		args = append(args, f.RunID)
		baseQuery += fmt.Sprintf(` AND run_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		baseQuery += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int64
	if err := r.executor().QueryRowContext(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count citation records")
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	dataQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		recordColumns, baseQuery, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.executor().QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list citation records")
	}
	defer rows.Close()

	var out []*citation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan citation record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate citation records")
	}
	return out, total, nil
}

// CountByStatus counts records per status, optionally within one run.
func (r *CitationRepo) CountByStatus(ctx context.Context, runID string) (map[citation.Status]int64, error) {
	query := `SELECT status, COUNT(*) FROM resolved_citations`
	var args []interface{}
	if runID != "" {
		query += ` WHERE run_id = $1`
		args = append(args, runID)
	}
	query += ` GROUP BY status`

	rows, err := r.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count citation records")
	}
	defer rows.Close()

	counts := make(map[citation.Status]int64, 4)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan status count")
		}
		counts[citation.Status(status)] = n
	}
	return counts, rows.Err()
}

// Store persists a completed batch item. The run ID is taken from ctx.
func (r *CitationRepo) Store(ctx context.Context, item batch.ItemReport) error {
	if item.State != batch.ItemCompleted || item.Resumed {
		return nil
	}
	return r.SaveRecord(ctx, RecordFromItem(logging.RunIDFromContext(ctx), item))
}

// RecordFromItem converts a completed batch item to a Record.
func RecordFromItem(runID string, item batch.ItemReport) *citation.Record {
	rec := &citation.Record{
		ID:       item.Key,
		RunID:    runID,
		DedupKey: item.Input.DedupKey(),
		Input:    item.Input,
		Resolved: item.Resolved,
		Attempts: item.Attempts,
		Error:    item.Error,
	}
	if item.Result != nil {
		rec.Result = *item.Result
	} else {
		rec.Result = citation.ResolutionResult{Status: item.Status}
	}
	return rec
}

func scanRecord(row scanner) (*citation.Record, error) {
	var (
		rec                         citation.Record
		runID, source, errMsg       sql.NullString
		status                      string
		confidence                  float64
		input, resolved, resultJSON []byte
	)
	if err := row.Scan(&rec.ID, &runID, &rec.DedupKey, &status, &confidence, &source,
		&input, &resolved, &resultJSON, &rec.Attempts, &errMsg, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.RunID = runID.String
	rec.Error = errMsg.String

	if err := json.Unmarshal(input, &rec.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if len(resolved) > 0 {
		var c citation.Citation
		if err := json.Unmarshal(resolved, &c); err != nil {
			return nil, fmt.Errorf("decode resolved: %w", err)
		}
		rec.Resolved = &c
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	// Columns are authoritative over the JSON document.
	rec.Result.Status = citation.Status(status)
	rec.Result.Confidence = confidence
	rec.Result.Source = source.String
	return &rec, nil
}
