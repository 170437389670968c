package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/bootstrap"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// maxLineBytes bounds one JSONL input line.
const maxLineBytes = 4 << 20

// ReadCitations parses JSONL input. Each non-blank line is either an
// extraction object (authors as one ";"-delimited string, year as text) or
// a citation object (authors as an array, year as a number).
func ReadCitations(r io.Reader) ([]citation.Citation, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []citation.Citation
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		c, err := decodeLine(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid input").
				WithDetail("line=" + strconv.Itoa(line))
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to read input")
	}
	return out, nil
}

func decodeLine(raw []byte) (citation.Citation, error) {
	var ext citation.CitationExtraction
	extErr := json.Unmarshal(raw, &ext)
	if extErr == nil {
		return ext.ToCitation(), nil
	}
	var c citation.Citation
	if err := json.Unmarshal(raw, &c); err != nil {
		return citation.Citation{}, extErr
	}
	c.DOI = citation.NormalizeDOI(c.DOI)
	c.ArXivID = citation.NormalizeArXivID(c.ArXivID)
	return c, nil
}

// BatchOutput is the printable result of batch run.
type BatchOutput struct {
	RunID    string             `json:"run_id"`
	Location string             `json:"location,omitempty"`
	Report   *batch.BatchReport `json:"report"`
	Error    string             `json:"error,omitempty"`

	showItems bool
}

func (o BatchOutput) String() string {
	r := o.Report
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run:         %s\n", o.RunID)
	fmt.Fprintf(&sb, "Items:       %d (%d duplicates skipped)\n", r.Total(), r.Duplicates)
	fmt.Fprintf(&sb, "Resolved:    %s\n", colorizeCount(r.ResolvedCount(), "RESOLVED"))
	fmt.Fprintf(&sb, "Ambiguous:   %s\n", colorizeCount(r.AmbiguousCount(), "AMBIGUOUS"))
	fmt.Fprintf(&sb, "Unresolved:  %d\n", r.UnresolvedCount())
	fmt.Fprintf(&sb, "Failed:      %s\n", colorizeCount(r.FailedCount(), "FAILED"))
	if r.Stats.Resumed > 0 {
		fmt.Fprintf(&sb, "Resumed:     %d\n", r.Stats.Resumed)
	}
	fmt.Fprintf(&sb, "Retries:     %d\n", r.Stats.Retries)
	fmt.Fprintf(&sb, "Latency:     p50 %s, p95 %s\n", r.Stats.LatencyP50, r.Stats.LatencyP95)
	fmt.Fprintf(&sb, "Cache hits:  %.1f%%\n", r.Stats.CacheHitRate*100)
	fmt.Fprintf(&sb, "Duration:    %s\n", r.Duration().Truncate(time.Millisecond))
	if o.Location != "" {
		fmt.Fprintf(&sb, "Report:      %s\n", o.Location)
	}
	if r.Cancelled {
		fmt.Fprintf(&sb, "Cancelled:   re-run with --run-id %s to resume\n", o.RunID)
	}
	if o.showItems {
		var tb bytes.Buffer
		RenderTable(&tb, o.TableHeaders(), o.TableRows())
		sb.WriteString("\n")
		sb.WriteString(tb.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func colorizeCount(n int, status string) string {
	s := strconv.Itoa(n)
	if n == 0 {
		return s
	}
	return colorizeStatus(status) + " " + s
}

func (o BatchOutput) TableHeaders() []string {
	return []string{"#", "Key", "Status", "Confidence", "Source", "Match", "Attempts"}
}

func (o BatchOutput) TableRows() [][]string {
	items := make([]*batch.ItemReport, 0, len(o.Report.Items))
	for _, it := range o.Report.Items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		oc := it.Outcome()
		rows = append(rows, []string{
			strconv.Itoa(it.Index + 1),
			truncateString(it.Key, 40),
			colorizeStatus(string(oc.Status)),
			strconv.FormatFloat(oc.Confidence, 'f', 3, 64),
			oc.Source,
			oc.MatchID,
			strconv.Itoa(oc.Attempts),
		})
	}
	return rows
}

type batchRunOptions struct {
	input       string
	runID       string
	concurrency int
	enrich      bool
	items       bool
}

// NewBatchCmd groups batch run and batch show.
func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Resolve many citations as one resumable run",
	}
	cmd.AddCommand(newBatchRunCmd(), newBatchShowCmd())
	return cmd
}

func newBatchRunCmd() *cobra.Command {
	o := &batchRunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve every citation in a JSONL file",
		Long: "Resolve every citation in a JSONL file. Progress is checkpointed under the\n" +
			"run ID; running again with the same --run-id resumes and skips items that\n" +
			"already completed.",
		Example: `  citeresolve batch run --input refs.jsonl --run-id paper-42
  cat refs.jsonl | citeresolve batch run --input - --enrich -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			citations, err := readInput(cmd, o.input)
			if err != nil {
				return err
			}
			if len(citations) == 0 {
				return errors.NewValidationError("input", "input contains no citations")
			}
			opts := batch.RunOptions{RunID: o.runID, Concurrency: o.concurrency}
			if cmd.Flags().Changed("enrich") {
				opts.Enrich = &o.enrich
			}
			return runWithContainer(cmd, func(ctx context.Context, cliCtx *CLIContext, c *bootstrap.Container) error {
				report, location, runErr := c.RunBatch(ctx, opts, citations)
				if report == nil {
					return runErr
				}
				out := BatchOutput{RunID: report.RunID, Location: location, Report: report, showItems: o.items}
				if runErr != nil {
					out.Error = runErr.Error()
					cliCtx.Logger.Warn("batch run stopped early",
						logging.String(logging.FieldRunID, report.RunID), logging.Err(runErr))
				}
				if err := PrintResult(cmd, out); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&o.input, "input", "i", "-", `JSONL input file, "-" for stdin`)
	fl.StringVar(&o.runID, "run-id", "", "run ID; reuse it to resume (default: a new UUID)")
	fl.IntVar(&o.concurrency, "concurrency", 0, "parallel resolutions (default: batch.max_concurrency)")
	fl.BoolVar(&o.enrich, "enrich", false, "enrich matched records (default: batch.enrich)")
	fl.BoolVar(&o.items, "items", false, "print a row per item in text output")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]citation.Citation, error) {
	if path == "" || path == "-" {
		return ReadCitations(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "cannot open input").WithDetail("path=" + path)
	}
	defer f.Close()
	return ReadCitations(f)
}

// RunOutput is the printable result of batch show.
type RunOutput struct {
	*repositories.BatchRun
	DownloadURL string `json:"download_url,omitempty"`
}

func (o RunOutput) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run:         %s\n", o.RunID)
	fmt.Fprintf(&sb, "Items:       %d (%d duplicates skipped)\n", o.Total, o.Duplicates)
	fmt.Fprintf(&sb, "Resolved:    %d\n", o.Resolved)
	fmt.Fprintf(&sb, "Ambiguous:   %d\n", o.Ambiguous)
	fmt.Fprintf(&sb, "Unresolved:  %d\n", o.Unresolved)
	fmt.Fprintf(&sb, "Failed:      %d\n", o.Failed)
	fmt.Fprintf(&sb, "Finished:    %s\n", o.FinishedAt.Format(time.RFC3339))
	if o.Cancelled {
		sb.WriteString("Cancelled:   yes\n")
	}
	if o.Error != "" {
		fmt.Fprintf(&sb, "Error:       %s\n", o.Error)
	}
	if o.ReportLocation != "" {
		fmt.Fprintf(&sb, "Report:      %s\n", o.ReportLocation)
	}
	if o.DownloadURL != "" {
		fmt.Fprintf(&sb, "Download:    %s\n", o.DownloadURL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func newBatchShowCmd() *cobra.Command {
	var presign time.Duration
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the recorded summary of a finished run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithContainer(cmd, func(ctx context.Context, _ *CLIContext, c *bootstrap.Container) error {
				run, err := c.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				out := RunOutput{BatchRun: run}
				if presign > 0 && run.ReportLocation != "" {
					url, err := c.ReportURL(ctx, run.RunID, presign)
					if err != nil {
						return err
					}
					out.DownloadURL = url
				}
				return PrintResult(cmd, out)
			})
		},
	}
	cmd.Flags().DurationVar(&presign, "presign", 0, "also print a report download URL valid for this long")
	return cmd
}
