package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// BatchRun is the summary row of one finished batch run.
type BatchRun struct {
	RunID      string              `json:"run_id"`
	Total      int                 `json:"total"`
	Resolved   int                 `json:"resolved"`
	Ambiguous  int                 `json:"ambiguous"`
	Unresolved int                 `json:"unresolved"`
	Failed     int                 `json:"failed"`
	Duplicates int                 `json:"duplicates"`
	Cancelled  bool                `json:"cancelled"`
	Error      string              `json:"error,omitempty"`
	Stats      batch.StatsSnapshot `json:"stats"`
	// ReportLocation is the object key of the archived full report, if any.
	ReportLocation string    `json:"report_location,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// BatchRunFromReport summarizes report.
func BatchRunFromReport(report *batch.BatchReport, location string) *BatchRun {
	return &BatchRun{
		RunID:          report.RunID,
		Total:          report.Total(),
		Resolved:       report.ResolvedCount(),
		Ambiguous:      report.AmbiguousCount(),
		Unresolved:     report.UnresolvedCount(),
		Failed:         report.FailedCount(),
		Duplicates:     report.Duplicates,
		Cancelled:      report.Cancelled,
		Error:          report.Err,
		Stats:          report.Stats,
		ReportLocation: location,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
	}
}

// BatchRunRepo stores run summaries in batch_runs. A resumed run overwrites
// its previous summary.
type BatchRunRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

func NewBatchRunRepo(conn *postgres.Connection, log logging.Logger) *BatchRunRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &BatchRunRepo{conn: conn, log: log}
}

func (r *BatchRunRepo) SaveRun(ctx context.Context, run *BatchRun) error {
	if run == nil || run.RunID == "" {
		return errors.NewValidationError("run_id", "run id is required")
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal batch stats")
	}
	query := `
		INSERT INTO batch_runs (
			run_id, total, resolved, ambiguous, unresolved, failed, duplicates,
			cancelled, error, stats, report_location, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO UPDATE SET
			total = EXCLUDED.total,
			resolved = EXCLUDED.resolved,
			ambiguous = EXCLUDED.ambiguous,
			unresolved = EXCLUDED.unresolved,
			failed = EXCLUDED.failed,
			duplicates = EXCLUDED.duplicates,
			cancelled = EXCLUDED.cancelled,
			error = EXCLUDED.error,
			stats = EXCLUDED.stats,
			report_location = COALESCE(EXCLUDED.report_location, batch_runs.report_location),
			finished_at = EXCLUDED.finished_at
	`
	_, err = r.conn.DB().ExecContext(ctx, query,
		run.RunID, run.Total, run.Resolved, run.Ambiguous, run.Unresolved, run.Failed, run.Duplicates,
		run.Cancelled, nullString(run.Error), stats, nullString(run.ReportLocation), run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save batch run").WithDetail("run_id=" + run.RunID)
	}
	r.log.Info("batch run saved", logging.String("run_id", run.RunID), logging.Int("total", run.Total))
	return nil
}

func (r *BatchRunRepo) GetRun(ctx context.Context, runID string) (*BatchRun, error) {
	query := `
		SELECT run_id, total, resolved, ambiguous, unresolved, failed, duplicates,
			cancelled, error, stats, report_location, started_at, finished_at
		FROM batch_runs WHERE run_id = $1
	`
	var (
		run         BatchRun
		errMsg, loc sql.NullString
		stats       []byte
	)
	err := r.conn.DB().QueryRowContext(ctx, query, runID).Scan(
		&run.RunID, &run.Total, &run.Resolved, &run.Ambiguous, &run.Unresolved, &run.Failed, &run.Duplicates,
		&run.Cancelled, &errMsg, &stats, &loc, &run.StartedAt, &run.FinishedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound("batch run", runID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get batch run").WithDetail("run_id=" + runID)
	}
	run.Error = errMsg.String
	run.ReportLocation = loc.String
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode batch stats")
		}
	}
	return &run, nil
}
