package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/bootstrap"
	"github.com/turtacn/citeresolve/internal/config"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// crossrefStub answers /works searches with one record and /works/{doi}
// lookups with the same record.
func crossrefStub(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	item := map[string]interface{}{
		"DOI":             "10.1038/nature14539",
		"title":           []string{"Deep learning"},
		"container-title": []string{"Nature"},
		"type":            "journal-article",
		"issued":          map[string]interface{}{"date-parts": [][]int{{2015}}},
		"is-referenced-by-count": 50000,
		"author": []map[string]string{
			{"given": "Yann", "family": "LeCun"},
			{"given": "Yoshua", "family": "Bengio"},
			{"given": "Geoffrey", "family": "Hinton"},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body interface{}
		switch {
		case r.URL.Path == "/works":
			body = map[string]interface{}{"status": "ok", "message": map[string]interface{}{"items": []interface{}{item}}}
		case strings.HasPrefix(r.URL.Path, "/works/"):
			body = map[string]interface{}{"status": "ok", "message": item}
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, crossrefURL string) string {
	t.Helper()
	yaml := fmt.Sprintf(`
log:
  level: warn
resolution:
  adapter_order: [crossref]
sources:
  crossref:
    base_url: %s
    rate_per_second: 1000
    burst: 100
batch:
  initial_backoff: 1ms
  max_backoff: 1ms
`, crossrefURL)
	path := filepath.Join(t.TempDir(), "citeresolve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// quietFactory builds the container with a nop logger.
func quietFactory(ctx context.Context, cfg *config.Config, _ logging.Logger) (*bootstrap.Container, error) {
	return bootstrap.New(ctx, cfg, logging.NewNopLogger())
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand(WithContainerFactory(quietFactory))
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--no-color", "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "citeresolve", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"resolve", "enrich", "batch", "migrate", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	for _, flag := range []string{"config", "log-level", "output", "verbose", "no-color", "timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %q", flag)
	}
	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
	assert.Equal(t, OutputText, cmd.PersistentFlags().Lookup("output").DefValue)
}

func TestRoot_RejectsUnknownOutput(t *testing.T) {
	_, _, err := execute(t, "", "version", "-o", "yaml")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRoot_UnknownSubcommand(t *testing.T) {
	_, _, err := execute(t, "", "frobnicate")
	assert.Error(t, err)
}

func TestRoot_MissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "", "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "citeresolve "+config.Version)

	out, _, err = execute(t, "", "version", "-o", "json")
	require.NoError(t, err)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, config.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := NewVersionCmd()
	cmd.SetContext(context.Background())
	_, err := GetCLIContext(cmd)
	assert.True(t, errors.IsValidation(err))
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, []string{"Status", "Source"}, [][]string{{"RESOLVED", "crossref"}})
	assert.Contains(t, buf.String(), "STATUS")
	assert.Contains(t, buf.String(), "crossref")

	buf.Reset()
	RenderTable(&buf, nil, nil)
	assert.Empty(t, buf.String())
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "Attenti...", truncateString("Attention Is All You Need", 10))
}
