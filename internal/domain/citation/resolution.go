package citation

import "time"

// Status is the terminal outcome of resolving one citation.
type Status string

const (
	// StatusResolved means a candidate cleared the confident threshold.
	StatusResolved Status = "RESOLVED"
	// StatusAmbiguous means the best candidate cleared only the plausible threshold.
	StatusAmbiguous Status = "AMBIGUOUS"
	// StatusUnresolved is a negative decision: sources answered, nothing matched.
	StatusUnresolved Status = "UNRESOLVED"
	// StatusFailed means no source could be queried at all.
	StatusFailed Status = "FAILED"
)

// AllStatuses lists statuses in report order.
func AllStatuses() []Status {
	return []Status{StatusResolved, StatusAmbiguous, StatusUnresolved, StatusFailed}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusResolved, StatusAmbiguous, StatusUnresolved, StatusFailed:
		return true
	}
	return false
}

// ConfidenceLevel is the categorical bucket for a confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceNone   ConfidenceLevel = "NONE"
)

// LevelFor buckets confidence against the chain thresholds. Boundaries are
// inclusive.
func LevelFor(confidence, confident, plausible float64) ConfidenceLevel {
	switch {
	case confidence >= confident:
		return ConfidenceHigh
	case confidence >= plausible:
		return ConfidenceMedium
	case confidence > 0:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ResolutionMetadata records how a result was produced.
type ResolutionMetadata struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Attempts counts adapter invocations, successful or not.
	Attempts      int      `json:"attempts"`
	SourcesTried  []string `json:"sources_tried,omitempty"`
	SourcesFailed []string `json:"sources_failed,omitempty"`
	// SourceErrors maps a failed source to its error message.
	SourceErrors   map[string]string `json:"source_errors,omitempty"`
	CandidateCount int               `json:"candidate_count"`
	DedupKey       string            `json:"dedup_key"`
	FromCache      bool              `json:"from_cache"`
	ShortCircuited bool              `json:"short_circuited,omitempty"`
}

// Duration returns FinishedAt - StartedAt.
func (m ResolutionMetadata) Duration() time.Duration {
	if m.StartedAt.IsZero() || m.FinishedAt.IsZero() {
		return 0
	}
	return m.FinishedAt.Sub(m.StartedAt)
}

// ResolutionResult is the outcome of resolving one Citation.
//
// RESOLVED implies Confidence >= the confident threshold and Match != nil.
// FAILED implies every adapter was attempted and failed at transport level.
type ResolutionResult struct {
	Status          Status             `json:"status"`
	Match           *MatchCandidate    `json:"match,omitempty"`
	Confidence      float64            `json:"confidence"`
	ConfidenceLevel ConfidenceLevel    `json:"confidence_level"`
	Source          string             `json:"source,omitempty"`
	Metadata        ResolutionMetadata `json:"metadata"`
	Explanation     *Explanation       `json:"explanation,omitempty"`
}

// Resolved returns the matched record as a Citation, carrying over the raw
// text and document flag of the input. The second return is false when there
// is no match.
func (r *ResolutionResult) Resolved(input Citation) (Citation, bool) {
	if r == nil || r.Match == nil {
		return Citation{}, false
	}
	out := r.Match.ToCitation()
	out.RawText = input.RawText
	out.IsDocumentCitation = input.IsDocumentCitation
	return out, true
}

// Clone returns a deep copy, so a cached result can be handed out without
// sharing mutable state.
func (r *ResolutionResult) Clone() *ResolutionResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Match != nil {
		m := r.Match.Clone()
		out.Match = &m
	}
	if r.Explanation != nil {
		e := *r.Explanation
		out.Explanation = &e
	}
	md := r.Metadata
	md.SourcesTried = append([]string(nil), r.Metadata.SourcesTried...)
	md.SourcesFailed = append([]string(nil), r.Metadata.SourcesFailed...)
	if r.Metadata.SourceErrors != nil {
		md.SourceErrors = make(map[string]string, len(r.Metadata.SourceErrors))
		for k, v := range r.Metadata.SourceErrors {
			md.SourceErrors[k] = v
		}
	}
	out.Metadata = md
	return &out
}
