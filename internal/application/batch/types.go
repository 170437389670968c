// Package batch resolves many citations concurrently with bounded retries,
// periodic checkpoints and resumable runs.
package batch

import (
	"context"
	"time"

	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	apperrors "github.com/turtacn/citeresolve/pkg/errors"
)

// Resolver resolves one citation. *resolution.Chain implements it.
type Resolver interface {
	Resolve(ctx context.Context, c citation.Citation) (*citation.ResolutionResult, error)
}

// Enricher fills empty fields of an identified citation.
// *resolution.EnrichmentService implements it.
type Enricher interface {
	Enrich(ctx context.Context, c citation.Citation) (citation.Citation, resolution.EnrichmentReport)
}

// ResultSink receives every completed item. Errors are logged and never fail
// the item.
type ResultSink interface {
	Store(ctx context.Context, item ItemReport) error
}

// BatchConfig tunes one Processor.
type BatchConfig struct {
	MaxConcurrency    int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// CheckpointInterval is the number of completed items between
	// checkpoint writes.
	CheckpointInterval int
	// ItemTimeout bounds one resolution attempt. Zero disables the bound.
	ItemTimeout time.Duration
	// RunID names the run for checkpointing. Reusing a RunID resumes it.
	RunID string
	// Enrich runs an enrichment pass over resolved and ambiguous matches.
	Enrich bool
}

// DefaultBatchConfig returns conservative defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrency:     8,
		MaxRetries:         2,
		InitialBackoff:     200 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
		BackoffMultiplier:  2.0,
		CheckpointInterval: 50,
		ItemTimeout:        60 * time.Second,
	}
}

// Validate rejects unusable settings.
func (c BatchConfig) Validate() error {
	switch {
	case c.MaxConcurrency < 1:
		return apperrors.NewValidationError("max_concurrency", "must be >= 1")
	case c.MaxRetries < 0:
		return apperrors.NewValidationError("max_retries", "must be >= 0")
	case c.CheckpointInterval < 1:
		return apperrors.NewValidationError("checkpoint_interval", "must be >= 1")
	case c.InitialBackoff < 0 || c.MaxBackoff < 0:
		return apperrors.NewValidationError("backoff", "must not be negative")
	case c.ItemTimeout < 0:
		return apperrors.NewValidationError("item_timeout", "must not be negative")
	}
	return nil
}

// RunOptions are per-run overrides of a configured BatchConfig.
type RunOptions struct {
	RunID string
	// Concurrency replaces MaxConcurrency when positive.
	Concurrency int
	// Enrich replaces Enrich when set.
	Enrich *bool
}

// Apply returns cfg with the overrides applied.
func (o RunOptions) Apply(cfg BatchConfig) BatchConfig {
	if o.RunID != "" {
		cfg.RunID = o.RunID
	}
	if o.Concurrency > 0 {
		cfg.MaxConcurrency = o.Concurrency
	}
	if o.Enrich != nil {
		cfg.Enrich = *o.Enrich
	}
	return cfg
}

// ItemState is the lifecycle position of one batch item.
//
//	PENDING -> IN_FLIGHT -> COMPLETED
//	IN_FLIGHT -> RETRY_SCHEDULED -> IN_FLIGHT (bounded by MaxRetries)
type ItemState string

const (
	ItemPending        ItemState = "PENDING"
	ItemInFlight       ItemState = "IN_FLIGHT"
	ItemRetryScheduled ItemState = "RETRY_SCHEDULED"
	ItemCompleted      ItemState = "COMPLETED"
)

// ItemOutcome is the durable summary of a completed item, as stored in
// checkpoints.
type ItemOutcome struct {
	Status     citation.Status `json:"status"`
	Confidence float64         `json:"confidence"`
	Source     string          `json:"source,omitempty"`
	// MatchID is the primary identifier of the matched record, if any.
	MatchID  string `json:"match_id,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// ItemReport is one item's entry in a BatchReport.
type ItemReport struct {
	Key   string            `json:"key"`
	Index int               `json:"index"`
	Input citation.Citation `json:"input"`
	State ItemState         `json:"state"`
	// Status is set once State is COMPLETED.
	Status     citation.Status              `json:"status,omitempty"`
	Result     *citation.ResolutionResult   `json:"result,omitempty"`
	Resolved   *citation.Citation           `json:"resolved,omitempty"`
	Enrichment *resolution.EnrichmentReport `json:"enrichment,omitempty"`
	Attempts   int                          `json:"attempts"`
	Error      string                       `json:"error,omitempty"`
	// Resumed marks an item restored from a previous run's checkpoint.
	Resumed  bool          `json:"resumed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Outcome returns the checkpoint form of the item.
func (r ItemReport) Outcome() ItemOutcome {
	o := ItemOutcome{Status: r.Status, Attempts: r.Attempts, Error: r.Error}
	if r.Result != nil {
		o.Confidence = r.Result.Confidence
		o.Source = r.Result.Source
	}
	if r.Resolved != nil {
		o.MatchID = r.Resolved.PrimaryID()
	}
	return o
}

func (r *ItemReport) restore(o ItemOutcome) {
	r.State = ItemCompleted
	r.Status = o.Status
	r.Attempts = o.Attempts
	r.Error = o.Error
	r.Resumed = true
	r.Result = &citation.ResolutionResult{
		Status:     o.Status,
		Confidence: o.Confidence,
		Source:     o.Source,
	}
}

// Checkpoint is the durable progress of a run. Completed holds committed
// items only.
type Checkpoint struct {
	RunID          string                 `json:"run_id"`
	Completed      map[string]ItemOutcome `json:"completed"`
	CompletedCount int                    `json:"completed_count"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// CheckpointStore persists checkpoints. SaveCheckpoint must be durable when
// it returns and must ignore a checkpoint whose CompletedCount is lower than
// the stored one.
type CheckpointStore interface {
	// LoadCheckpoint returns nil, nil when runID has no checkpoint.
	LoadCheckpoint(ctx context.Context, runID string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
}

// BatchReport is the result of ProcessBatch.
type BatchReport struct {
	RunID string                 `json:"run_id"`
	Items map[string]*ItemReport `json:"items"`
	// Counts holds completed items by status, resumed ones included.
	Counts map[citation.Status]int `json:"counts"`
	// Duplicates counts inputs whose item key repeated an earlier input.
	Duplicates int           `json:"duplicates"`
	Stats      StatsSnapshot `json:"stats"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Cancelled  bool          `json:"cancelled"`
	Err        string        `json:"error,omitempty"`
}

func (r *BatchReport) ResolvedCount() int   { return r.Counts[citation.StatusResolved] }
func (r *BatchReport) AmbiguousCount() int  { return r.Counts[citation.StatusAmbiguous] }
func (r *BatchReport) UnresolvedCount() int { return r.Counts[citation.StatusUnresolved] }
func (r *BatchReport) FailedCount() int     { return r.Counts[citation.StatusFailed] }

// CompletedCount returns the number of items in a terminal state.
func (r *BatchReport) CompletedCount() int {
	n := 0
	for _, v := range r.Counts {
		n += v
	}
	return n
}

// Total returns the number of distinct items in the run.
func (r *BatchReport) Total() int { return len(r.Items) }

// Duration returns the wall time of the run.
func (r *BatchReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
