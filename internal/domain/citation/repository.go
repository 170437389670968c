package citation

import (
	"context"
	"time"
)

// Record is a persisted resolution outcome. Records are written when
// resolution completes; only a FAILED record is ever replaced.
type Record struct {
	// ID is the item key: the primary identifier of the input citation, or a
	// content hash when it has none.
	ID        string           `json:"id"`
	RunID     string           `json:"run_id,omitempty"`
	DedupKey  string           `json:"dedup_key"`
	Input     Citation         `json:"input"`
	Resolved  *Citation        `json:"resolved,omitempty"`
	Result    ResolutionResult `json:"result"`
	Attempts  int              `json:"attempts"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// RecordFilter narrows a ListRecords query. Zero fields do not filter.
type RecordFilter struct {
	RunID  string
	Status Status
	Limit  int
	Offset int
}

// Repository persists resolution records.
type Repository interface {
	// SaveRecord inserts rec. Saving an ID that already exists is a no-op
	// unless the stored record is FAILED, in which case rec replaces it.
	SaveRecord(ctx context.Context, rec *Record) error
	// GetRecord returns the record for id, or a not-found AppError.
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]*Record, int64, error)
	CountByStatus(ctx context.Context, runID string) (map[Status]int64, error)
}
