package resolution

import (
	"context"
	"sort"
	"strings"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
)

// Enrichable field names, as reported in EnrichmentReport.FilledBy.
const (
	FieldAbstract      = "abstract"
	FieldVenue         = "venue"
	FieldJournal       = "journal"
	FieldCitationCount = "citation_count"
	FieldYear          = "year"
	FieldAuthors       = "authors"
	FieldTitle         = "title"
	FieldDOI           = "doi"
	FieldArXivID       = "arxiv_id"
)

// EnrichableFields lists the fields Enrich may fill, in fill order.
func EnrichableFields() []string {
	return []string{FieldAbstract, FieldVenue, FieldJournal, FieldCitationCount,
		FieldYear, FieldAuthors, FieldTitle, FieldDOI, FieldArXivID}
}

// EnrichmentReport describes one Enrich call.
type EnrichmentReport struct {
	Identifier citation.Identifier `json:"identifier"`
	// FilledBy maps each filled field to the source that supplied it.
	FilledBy map[string]string `json:"filled_by,omitempty"`
	// Errors maps a failed source to its error message.
	Errors       map[string]string `json:"errors,omitempty"`
	SourcesTried []string          `json:"sources_tried,omitempty"`
}

// Filled returns the filled field names, sorted.
func (r EnrichmentReport) Filled() []string {
	out := make([]string, 0, len(r.FilledBy))
	for f := range r.FilledBy {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// EnrichmentService fills empty fields of an identified citation from the
// adapters, first value wins.
type EnrichmentService struct {
	adapters []Adapter
	logger   logging.Logger
}

func NewEnrichmentService(adapters []Adapter, logger logging.Logger) *EnrichmentService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EnrichmentService{adapters: append([]Adapter(nil), adapters...), logger: logger.Named("enrichment")}
}

// Enrich looks c up by DOI, or arXiv ID, at each adapter in priority order
// and copies values into fields that are still empty. A field that already
// has a value is never changed. Adapter errors are logged and skipped, so
// the returned citation is never worse than c.
func (s *EnrichmentService) Enrich(ctx context.Context, c citation.Citation) (citation.Citation, EnrichmentReport) {
	out := c.Clone()
	report := EnrichmentReport{Identifier: c.StrongIdentifier(), FilledBy: make(map[string]string)}
	if report.Identifier.IsZero() {
		return out, report
	}
	log := s.logger.WithContext(ctx).With(logging.String("identifier", report.Identifier.String()))

	for _, a := range s.adapters {
		if complete(out) {
			break
		}
		if ctx.Err() != nil {
			log.Debug("enrichment stopped", logging.Err(ctx.Err()))
			break
		}
		name := a.Name()
		report.SourcesTried = append(report.SourcesTried, name)
		m, err := a.Enrich(ctx, report.Identifier)
		if err != nil {
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[name] = err.Error()
			log.Warn("enrichment source failed", logging.String(logging.FieldSource, name), logging.Err(err))
			continue
		}
		if m == nil {
			continue
		}
		fill(&out, *m, name, report.FilledBy)
	}

	if len(report.FilledBy) > 0 {
		log.Debug("citation enriched", logging.Strings("fields", report.Filled()))
	}
	return out, report
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func complete(c citation.Citation) bool {
	return !blank(c.Abstract) && !blank(c.Venue) && !blank(c.Journal) && c.CitationCount != nil &&
		c.Year > 0 && len(c.Authors) > 0 && !blank(c.Title) && !blank(c.DOI) && !blank(c.ArXivID)
}

func fill(c *citation.Citation, m citation.MatchCandidate, source string, filled map[string]string) {
	setString := func(field string, dst *string, v string) {
		if blank(*dst) && !blank(v) {
			*dst = v
			filled[field] = source
		}
	}
	setString(FieldAbstract, &c.Abstract, m.Abstract)
	setString(FieldVenue, &c.Venue, m.Venue)
	setString(FieldJournal, &c.Journal, m.Journal)
	if c.CitationCount == nil && m.CitationCount != nil {
		c.CitationCount = citation.IntPtr(*m.CitationCount)
		filled[FieldCitationCount] = source
	}
	if c.Year <= 0 && m.Year > 0 {
		c.Year = m.Year
		filled[FieldYear] = source
	}
	if len(c.Authors) == 0 && len(m.Authors) > 0 {
		c.Authors = append([]string(nil), m.Authors...)
		filled[FieldAuthors] = source
	}
	setString(FieldTitle, &c.Title, m.Title)
	// arXiv's own DataCite DOI names the same record as the arXiv ID; only
	// a publisher DOI adds anything.
	if doi := citation.NormalizeDOI(m.DOI); doi != citation.ArXivDOI(c.ArXivID) {
		setString(FieldDOI, &c.DOI, doi)
	}
	setString(FieldArXivID, &c.ArXivID, citation.NormalizeArXivID(m.ArXivID))
}
