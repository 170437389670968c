package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/citeresolve/internal/bootstrap"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// citationFlags are the bibliographic fields shared by resolve and enrich.
type citationFlags struct {
	title   string
	authors string
	year    int
	journal string
	venue   string
	doi     string
	arxiv   string
	raw     string
}

func (f *citationFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.title, "title", "", "work title")
	fl.StringVar(&f.authors, "authors", "", `authors separated by ";" (e.g. "Vaswani, A.; Shazeer, N.")`)
	fl.IntVar(&f.year, "year", 0, "publication year")
	fl.StringVar(&f.journal, "journal", "", "journal name")
	fl.StringVar(&f.venue, "venue", "", "conference or other venue")
	fl.StringVar(&f.doi, "doi", "", "DOI, bare or as a doi.org URL")
	fl.StringVar(&f.arxiv, "arxiv", "", "arXiv identifier or abs URL")
	fl.StringVar(&f.raw, "raw", "", "raw reference text, kept for reporting")
}

func (f *citationFlags) citation() citation.Citation {
	return citation.Citation{
		Title:   strings.TrimSpace(f.title),
		Authors: citation.SplitAuthorsTrimmed(f.authors),
		Year:    f.year,
		Journal: f.journal,
		Venue:   f.venue,
		DOI:     citation.NormalizeDOI(f.doi),
		ArXivID: citation.NormalizeArXivID(f.arxiv),
		RawText: f.raw,
	}
}

// ResolveOutput is the printable result of the resolve command.
type ResolveOutput struct {
	Input    citation.Citation          `json:"input"`
	Result   *citation.ResolutionResult `json:"result"`
	Resolved *citation.Citation         `json:"resolved,omitempty"`
}

func (o ResolveOutput) String() string {
	var sb strings.Builder
	r := o.Result
	fmt.Fprintf(&sb, "Status:      %s\n", colorizeStatus(string(r.Status)))
	fmt.Fprintf(&sb, "Confidence:  %.3f (%s)\n", r.Confidence, r.ConfidenceLevel)
	if r.Source != "" {
		fmt.Fprintf(&sb, "Source:      %s\n", r.Source)
	}
	if r.Metadata.FromCache {
		sb.WriteString("Cached:      yes\n")
	}
	if len(r.Metadata.SourcesFailed) > 0 {
		fmt.Fprintf(&sb, "Failed:      %s\n", strings.Join(r.Metadata.SourcesFailed, ", "))
	}
	if m := o.Resolved; m != nil {
		fmt.Fprintf(&sb, "Title:       %s\n", m.Title)
		if len(m.Authors) > 0 {
			fmt.Fprintf(&sb, "Authors:     %s\n", strings.Join(m.Authors, "; "))
		}
		if m.Year > 0 {
			fmt.Fprintf(&sb, "Year:        %d\n", m.Year)
		}
		if v := m.VenueOrJournal(); v != "" {
			fmt.Fprintf(&sb, "Venue:       %s\n", v)
		}
		if id := m.PrimaryID(); id != "" {
			fmt.Fprintf(&sb, "Identifier:  %s\n", id)
		}
	}
	if r.Explanation != nil {
		fmt.Fprintf(&sb, "Explanation: %s\n", r.Explanation.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (o ResolveOutput) TableHeaders() []string {
	return []string{"Status", "Confidence", "Source", "Identifier", "Title"}
}

func (o ResolveOutput) TableRows() [][]string {
	id, title := "", ""
	if o.Resolved != nil {
		id, title = o.Resolved.PrimaryID(), truncateString(o.Resolved.Title, 60)
	}
	return [][]string{{
		colorizeStatus(string(o.Result.Status)),
		strconv.FormatFloat(o.Result.Confidence, 'f', 3, 64),
		o.Result.Source,
		id,
		title,
	}}
}

// NewResolveCmd resolves one citation given on the command line.
func NewResolveCmd() *cobra.Command {
	f := &citationFlags{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve one citation to a canonical record",
		Example: `  citeresolve resolve --title "Attention Is All You Need" --authors "Vaswani; Shazeer" --year 2017
  citeresolve resolve --doi 10.1038/nature14539 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := f.citation()
			if !in.HasMatchableFields() {
				return errors.NewValidationError("title", "one of --title, --doi or --arxiv is required")
			}
			return runWithContainer(cmd, func(ctx context.Context, cliCtx *CLIContext, c *bootstrap.Container) error {
				out, err := resolveOne(ctx, c, in)
				if err != nil {
					cliCtx.Logger.Error("resolution failed", logging.Err(err))
					return err
				}
				return PrintResult(cmd, out)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func resolveOne(ctx context.Context, c *bootstrap.Container, in citation.Citation) (ResolveOutput, error) {
	res, err := c.Chain.Resolve(ctx, in)
	if err != nil {
		return ResolveOutput{}, err
	}
	out := ResolveOutput{Input: in, Result: res}
	if m, ok := res.Resolved(in); ok {
		out.Resolved = &m
	}
	return out, nil
}
