package client

import "time"

// Resolution outcomes.
const (
	StatusResolved   = "RESOLVED"
	StatusAmbiguous  = "AMBIGUOUS"
	StatusUnresolved = "UNRESOLVED"
	StatusFailed     = "FAILED"
)

// Citation is a bibliographic reference. DOI and ArXivID are bare
// identifiers; the server also accepts doi.org and arxiv.org URLs.
type Citation struct {
	Title              string   `json:"title,omitempty"`
	Authors            []string `json:"authors,omitempty"`
	Year               int      `json:"year,omitempty"`
	Journal            string   `json:"journal,omitempty"`
	Venue              string   `json:"venue,omitempty"`
	DOI                string   `json:"doi,omitempty"`
	ArXivID            string   `json:"arxiv_id,omitempty"`
	Abstract           string   `json:"abstract,omitempty"`
	CitationCount      *int     `json:"citation_count,omitempty"`
	IsDocumentCitation bool     `json:"is_document_citation,omitempty"`
	RawText            string   `json:"raw_text,omitempty"`
}

// Extraction is the loose form produced by reference extractors: authors
// in one ";"-delimited string and the year as text.
type Extraction struct {
	Title              string `json:"title"`
	Authors            string `json:"authors"`
	Year               string `json:"year"`
	Journal            string `json:"journal"`
	Venue              string `json:"venue"`
	DOI                string `json:"doi"`
	ArXivID            string `json:"arxiv_id"`
	Abstract           string `json:"abstract"`
	IsDocumentCitation bool   `json:"is_document_citation"`
	RawText            string `json:"raw_text"`
}

// Candidate is the source record a citation matched.
type Candidate struct {
	Source        string   `json:"source"`
	SourceID      string   `json:"source_id,omitempty"`
	Title         string   `json:"title,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	Year          int      `json:"year,omitempty"`
	Journal       string   `json:"journal,omitempty"`
	Venue         string   `json:"venue,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	ArXivID       string   `json:"arxiv_id,omitempty"`
	CitationCount *int     `json:"citation_count,omitempty"`
	URL           string   `json:"url,omitempty"`
}

type ResultMetadata struct {
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	Attempts       int               `json:"attempts"`
	SourcesTried   []string          `json:"sources_tried,omitempty"`
	SourcesFailed  []string          `json:"sources_failed,omitempty"`
	SourceErrors   map[string]string `json:"source_errors,omitempty"`
	CandidateCount int               `json:"candidate_count"`
	DedupKey       string            `json:"dedup_key"`
	FromCache      bool              `json:"from_cache"`
}

// Result is the outcome of resolving one citation.
type Result struct {
	Status          string         `json:"status"`
	Match           *Candidate     `json:"match,omitempty"`
	Confidence      float64        `json:"confidence"`
	ConfidenceLevel string         `json:"confidence_level"`
	Source          string         `json:"source,omitempty"`
	Metadata        ResultMetadata `json:"metadata"`
}

type ResolveResponse struct {
	Result   *Result   `json:"result"`
	Resolved *Citation `json:"resolved,omitempty"`
}

type Identifier struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// EnrichReport says which source filled each field.
type EnrichReport struct {
	Identifier   Identifier        `json:"identifier"`
	FilledBy     map[string]string `json:"filled_by,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	SourcesTried []string          `json:"sources_tried,omitempty"`
}

type EnrichResponse struct {
	Citation Citation     `json:"citation"`
	Report   EnrichReport `json:"report"`
}

// Record is a stored resolution.
type Record struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	DedupKey  string    `json:"dedup_key"`
	Input     Citation  `json:"input"`
	Resolved  *Citation `json:"resolved,omitempty"`
	Result    Result    `json:"result"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions filters and pages ListRecords. Zero values use server
// defaults.
type ListOptions struct {
	RunID    string
	Status   string
	Page     int
	PageSize int
}

type RecordPage struct {
	Records  []Record
	Page     int
	PageSize int
	Total    int64
}

// BatchRequest submits citations, extractions or both as one run. Reusing
// a RunID resumes that run.
type BatchRequest struct {
	RunID       string       `json:"run_id,omitempty"`
	Citations   []Citation   `json:"citations,omitempty"`
	Extractions []Extraction `json:"extractions,omitempty"`
	Concurrency int          `json:"concurrency,omitempty"`
	Enrich      *bool        `json:"enrich,omitempty"`
}

type BatchItem struct {
	Key        string    `json:"key"`
	Index      int       `json:"index"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	MatchID    string    `json:"match_id,omitempty"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	Resolved   *Citation `json:"resolved,omitempty"`
	Resumed    bool      `json:"resumed,omitempty"`
}

// BatchSummary is the outcome of a batch run. Items are in input order.
type BatchSummary struct {
	RunID      string         `json:"run_id"`
	Total      int            `json:"total"`
	Duplicates int            `json:"duplicates"`
	Counts     map[string]int `json:"counts"`
	Cancelled  bool           `json:"cancelled"`
	Location   string         `json:"location,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Items      []BatchItem    `json:"items"`
}

type Health struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components []ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}
