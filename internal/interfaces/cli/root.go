// Package cli implements the citeresolve command line: single-citation
// resolution and enrichment, batch runs over JSONL input, and schema
// migrations.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/citeresolve/internal/bootstrap"
	"github.com/turtacn/citeresolve/internal/config"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output formats accepted by --output.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputTable = "table"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
}

// ContainerFactory builds the dependency container. Tests substitute one
// that injects stub clients.
type ContainerFactory func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*bootstrap.Container, error)

func defaultContainerFactory(ctx context.Context, cfg *config.Config, logger logging.Logger) (*bootstrap.Container, error) {
	return bootstrap.New(ctx, cfg, logger)
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration

	factory   ContainerFactory
	once      sync.Once
	container *bootstrap.Container
	err       error
}

// Container builds the dependency container on first use. Commands that do
// not resolve anything never connect to Redis, Postgres, Kafka or MinIO.
func (c *CLIContext) Container(ctx context.Context) (*bootstrap.Container, error) {
	c.once.Do(func() {
		c.container, c.err = c.factory(ctx, c.Config, c.Logger)
	})
	return c.container, c.err
}

// Close releases the container if it was built.
func (c *CLIContext) Close() error {
	if c.container == nil {
		return nil
	}
	err := c.container.Close()
	c.container = nil
	return err
}

// runWithContainer hands fn a bounded context and the container, and
// releases the container afterwards.
func runWithContainer(cmd *cobra.Command, fn func(ctx context.Context, cliCtx *CLIContext, c *bootstrap.Container) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	defer cancel()

	c, err := cliCtx.Container(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cliCtx.Close(); cerr != nil {
			cliCtx.Logger.Warn("failed to release resources", logging.Err(cerr))
		}
	}()
	return fn(ctx, cliCtx, c)
}

// WithTimeout bounds ctx by the --timeout flag. Zero disables the bound.
func (c *CLIContext) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// RootOption customizes NewRootCommand.
type RootOption func(*rootConfig)

type rootConfig struct {
	factory ContainerFactory
}

// WithContainerFactory replaces bootstrap.New.
func WithContainerFactory(f ContainerFactory) RootOption {
	return func(rc *rootConfig) { rc.factory = f }
}

// NewRootCommand creates the root command with global flags and every
// subcommand.
func NewRootCommand(opts ...RootOption) *cobra.Command {
	rc := &rootConfig{factory: defaultContainerFactory}
	for _, o := range opts {
		o(rc)
	}
	ro := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "citeresolve",
		Short: "Resolve bibliographic citations against Crossref, OpenAlex and Semantic Scholar",
		Long: "citeresolve matches extracted citations to canonical scholarly records,\n" +
			"fills missing metadata by DOI or arXiv ID, and processes large batches\n" +
			"with retries, checkpoints and resumable runs.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, ro, rc.factory)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&ro.ConfigPath, "config", "c", "", "config file path (default: ./citeresolve.yaml)")
	pf.StringVar(&ro.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&ro.OutputFormat, "output", "o", OutputText, "output format (text, json, table)")
	pf.BoolVarP(&ro.Verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&ro.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&ro.Timeout, "timeout", 0, "overall operation timeout (0 = none)")

	cmd.AddCommand(
		NewResolveCmd(),
		NewEnrichCmd(),
		NewBatchCmd(),
		NewMigrateCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// persistentPreRun loads config and logger and stores the CLIContext.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions, factory ContainerFactory) error {
	switch strings.ToLower(opts.OutputFormat) {
	case OutputText, OutputJSON, OutputTable:
	default:
		return errors.NewValidationError("output", "output must be one of text, json, table")
	}
	if opts.NoColor {
		color.NoColor = true
	}

	cfg, err := initConfig(cmd, opts)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "config initialization failed")
	}
	logger, err := initLogger(opts)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "logger initialization failed")
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		Verbose:      opts.Verbose,
		NoColor:      opts.NoColor,
		Timeout:      opts.Timeout,
		factory:      factory,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads configuration with priority: flag > search path > env only.
func initConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.LoadFromFile(opts.ConfigPath)
	}

	searchPaths := []string{"./citeresolve.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".citeresolve", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/citeresolve/config.yaml")

	for _, p := range searchPaths {
		if _, statErr := os.Stat(p); statErr == nil {
			return config.LoadFromFile(p)
		}
	}

	if opts.Verbose {
		fmt.Fprintln(cmd.ErrOrStderr(), "no config file found, using defaults and CITERESOLVE_* environment")
	}
	return config.LoadFromEnv()
}

// initLogger creates a console logger on stderr so stdout stays parseable.
func initLogger(opts *RootOptions) (logging.Logger, error) {
	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.NewValidationError("context", "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.NewValidationError("context", "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute runs the CLI with ctx and prints any error to stderr.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// tableProvider is implemented by results that render as a table.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult outputs data in the format selected by --output.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd.OutOrStdout(), data)
	}
	switch cliCtx.OutputFormat {
	case OutputJSON:
		return printJSON(cmd.OutOrStdout(), data)
	case OutputTable:
		if tp, ok := data.(tableProvider); ok {
			RenderTable(cmd.OutOrStdout(), tp.TableHeaders(), tp.TableRows())
			return nil
		}
	}
	return printText(cmd.OutOrStdout(), data)
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(w, v)
	case fmt.Stringer:
		fmt.Fprintln(w, v.String())
	default:
		return printJSON(w, v)
	}
	return nil
}

// PrintError writes err to stderr, with its code when it carries one.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.RedString("Error:"), err.Error())
}

// PrintSuccess writes a success line to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("OK:"), msg)
}

// RenderTable writes headers and rows as an ASCII table.
func RenderTable(w io.Writer, headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

// colorizeStatus colors a resolution status for terminal output.
func colorizeStatus(status string) string {
	switch strings.ToUpper(status) {
	case "RESOLVED":
		return color.GreenString(status)
	case "AMBIGUOUS":
		return color.YellowString(status)
	case "FAILED":
		return color.RedString(status)
	default:
		return status
	}
}

// truncateString shortens s to max runes with an ellipsis.
func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max || max < 4 {
		return s
	}
	return string(r[:max-3]) + "..."
}
