package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/bootstrap"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// EnrichOutput is the printable result of the enrich command.
type EnrichOutput struct {
	Citation citation.Citation           `json:"citation"`
	Report   resolution.EnrichmentReport `json:"report"`
}

func (o EnrichOutput) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Identifier:  %s\n", o.Report.Identifier.String())
	filled := o.Report.Filled()
	if len(filled) == 0 {
		sb.WriteString("Filled:      nothing\n")
	}
	for _, f := range filled {
		fmt.Fprintf(&sb, "Filled:      %-15s from %s\n", f, o.Report.FilledBy[f])
	}
	failed := make([]string, 0, len(o.Report.Errors))
	for src := range o.Report.Errors {
		failed = append(failed, src)
	}
	sort.Strings(failed)
	for _, src := range failed {
		fmt.Fprintf(&sb, "Error:       %s: %s\n", src, o.Report.Errors[src])
	}
	c := o.Citation
	if c.Title != "" {
		fmt.Fprintf(&sb, "Title:       %s\n", c.Title)
	}
	if len(c.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors:     %s\n", strings.Join(c.Authors, "; "))
	}
	if c.Year > 0 {
		fmt.Fprintf(&sb, "Year:        %d\n", c.Year)
	}
	if v := c.VenueOrJournal(); v != "" {
		fmt.Fprintf(&sb, "Venue:       %s\n", v)
	}
	if c.CitationCount != nil {
		fmt.Fprintf(&sb, "Citations:   %d\n", *c.CitationCount)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (o EnrichOutput) TableHeaders() []string { return []string{"Field", "Source"} }

func (o EnrichOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(o.Report.FilledBy))
	for _, f := range o.Report.Filled() {
		rows = append(rows, []string{f, o.Report.FilledBy[f]})
	}
	return rows
}

// NewEnrichCmd fills missing fields of an identified citation.
func NewEnrichCmd() *cobra.Command {
	f := &citationFlags{}
	cmd := &cobra.Command{
		Use:     "enrich",
		Short:   "Fill missing metadata for a citation with a DOI or arXiv ID",
		Example: `  citeresolve enrich --doi 10.1038/nature14539`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := f.citation()
			if in.StrongIdentifier().IsZero() {
				return errors.NewValidationError("doi", "--doi or --arxiv is required")
			}
			return runWithContainer(cmd, func(ctx context.Context, _ *CLIContext, c *bootstrap.Container) error {
				out, report := c.Enricher.Enrich(ctx, in)
				return PrintResult(cmd, EnrichOutput{Citation: out, Report: report})
			})
		},
	}
	f.register(cmd)
	return cmd
}
