package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres"
	"github.com/turtacn/citeresolve/pkg/errors"
)

func newBatchRunRepo(t *testing.T) (*BatchRunRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewBatchRunRepo(postgres.NewConnectionWithDB(db, nil), nil), mock
}

func sampleReport() *batch.BatchReport {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	items := map[string]*batch.ItemReport{}
	for _, k := range []string{"a", "b", "c"} {
		items[k] = &batch.ItemReport{Key: k}
	}
	return &batch.BatchReport{
		RunID:      "run-7",
		Items:      items,
		Counts:     map[citation.Status]int{citation.StatusResolved: 2, citation.StatusFailed: 1},
		Duplicates: 1,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
	}
}

func TestBatchRunFromReport(t *testing.T) {
	run := BatchRunFromReport(sampleReport(), "reports/run-7.json")
	assert.Equal(t, "run-7", run.RunID)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 2, run.Resolved)
	assert.Equal(t, 1, run.Failed)
	assert.Zero(t, run.Ambiguous)
	assert.Equal(t, 1, run.Duplicates)
	assert.Equal(t, "reports/run-7.json", run.ReportLocation)
}

func TestBatchRunRepo_SaveRun(t *testing.T) {
	repo, mock := newBatchRunRepo(t)
	run := BatchRunFromReport(sampleReport(), "")

	mock.ExpectExec("INSERT INTO batch_runs").
		WithArgs("run-7", 3, 2, 0, 0, 1, 1, false, nil, sqlmock.AnyArg(), nil, run.StartedAt, run.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveRun(context.Background(), run))
}

func TestBatchRunRepo_SaveRun_RequiresRunID(t *testing.T) {
	repo, _ := newBatchRunRepo(t)
	err := repo.SaveRun(context.Background(), &BatchRun{})
	assert.True(t, errors.IsValidation(err))
}

func TestBatchRunRepo_GetRun(t *testing.T) {
	repo, mock := newBatchRunRepo(t)
	want := BatchRunFromReport(sampleReport(), "reports/run-7.json")
	want.Stats = batch.StatsSnapshot{Completed: 3, Retries: 2, CacheHits: 1, CacheLookups: 3}
	stats, _ := json.Marshal(want.Stats)

	cols := []string{"run_id", "total", "resolved", "ambiguous", "unresolved", "failed", "duplicates",
		"cancelled", "error", "stats", "report_location", "started_at", "finished_at"}
	mock.ExpectQuery(`FROM batch_runs WHERE run_id = \$1`).
		WithArgs("run-7").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"run-7", 3, 2, 0, 0, 1, 1, false, nil, stats, "reports/run-7.json", want.StartedAt, want.FinishedAt,
		))

	got, err := repo.GetRun(context.Background(), "run-7")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBatchRunRepo_GetRun_NotFound(t *testing.T) {
	repo, mock := newBatchRunRepo(t)
	mock.ExpectQuery("FROM batch_runs").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetRun(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}
