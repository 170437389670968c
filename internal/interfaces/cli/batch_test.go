package cli

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/pkg/errors"
)

const batchInput = `{"title":"Deep learning","authors":"Yann LeCun; Yoshua Bengio; Geoffrey Hinton","year":"2015","journal":"Nature"}

{"title":"Attention Is All You Need","authors":["Ashish Vaswani","Noam Shazeer"],"year":2017,"doi":"https://doi.org/10.48550/arXiv.1706.03762"}
`

func TestReadCitations_MixedShapes(t *testing.T) {
	got, err := ReadCitations(strings.NewReader(batchInput))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Deep learning", got[0].Title)
	assert.Equal(t, []string{"Yann LeCun", " Yoshua Bengio", " Geoffrey Hinton"}, got[0].Authors)
	assert.Equal(t, 2015, got[0].Year)

	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, got[1].Authors)
	assert.Equal(t, 2017, got[1].Year)
	assert.Equal(t, "10.48550/arxiv.1706.03762", got[1].DOI)
}

func TestReadCitations_BadLine(t *testing.T) {
	_, err := ReadCitations(strings.NewReader("{\"title\":\"ok\"}\n\nnot json\n"))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "line=3", appErr.Detail)
}

func TestReadCitations_Empty(t *testing.T) {
	got, err := ReadCitations(strings.NewReader("\n  \n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBatchRunCmd_Stdin(t *testing.T) {
	var calls atomic.Int32
	srv := crossrefStub(t, &calls)

	out, _, err := execute(t, batchInput, "batch", "run", "--config", writeConfig(t, srv.URL),
		"--run-id", "cli-run-1", "--concurrency", "2", "-o", "json")
	require.NoError(t, err)

	var got BatchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "cli-run-1", got.RunID)
	require.NotNil(t, got.Report)
	assert.Equal(t, 2, got.Report.Total())
	assert.Zero(t, got.Report.FailedCount())
	assert.GreaterOrEqual(t, got.Report.ResolvedCount(), 1)
	assert.Empty(t, got.Location, "no report store is configured")
	assert.Empty(t, got.Error)
}

func TestBatchRunCmd_EmptyInput(t *testing.T) {
	var calls atomic.Int32
	srv := crossrefStub(t, &calls)

	_, _, err := execute(t, "\n", "batch", "run", "--config", writeConfig(t, srv.URL))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestBatchRunCmd_MissingFile(t *testing.T) {
	var calls atomic.Int32
	srv := crossrefStub(t, &calls)

	_, _, err := execute(t, "", "batch", "run", "--config", writeConfig(t, srv.URL),
		"--input", t.TempDir()+"/absent.jsonl")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestBatchShowCmd_RequiresPostgres(t *testing.T) {
	var calls atomic.Int32
	srv := crossrefStub(t, &calls)

	_, _, err := execute(t, "", "batch", "show", "run-1", "--config", writeConfig(t, srv.URL))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeServiceUnavailable, errors.GetCode(err))
}

func TestBatchOutput_Text(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &batch.BatchReport{
		RunID: "run-7",
		Items: map[string]*batch.ItemReport{
			"b": {Key: "b", Index: 1, Status: citation.StatusUnresolved, Attempts: 1},
			"a": {Key: "a", Index: 0, Status: citation.StatusResolved, Attempts: 2,
				Result: &citation.ResolutionResult{Status: citation.StatusResolved, Confidence: 0.93, Source: "openalex"}},
		},
		Duplicates: 1,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Cancelled:  true,
	}
	o := BatchOutput{RunID: "run-7", Location: "s3://reports/reports/run-7.json", Report: report, showItems: true}

	s := o.String()
	assert.Contains(t, s, "Run:         run-7")
	assert.Contains(t, s, "1 duplicates skipped")
	assert.Contains(t, s, "s3://reports/reports/run-7.json")
	assert.Contains(t, s, "--run-id run-7")

	rows := o.TableRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0][0])
	assert.Equal(t, "a", rows[0][1])
	assert.Equal(t, "0.930", rows[0][3])
	assert.Equal(t, "openalex", rows[0][4])
	assert.Equal(t, "b", rows[1][1])
}
