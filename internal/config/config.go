package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/driftscan/internal/model"
)

// Default configuration values.
// These values are chosen to be polite to the listing server while still
// covering tens of thousands of pages in a single run.
const (
	// DefaultTimeout is the per-request timeout. Listing pages are small;
	// a page that takes longer than 15 seconds is treated as failed and
	// retried rather than blocking the crawl.
	DefaultTimeout = 15 * time.Second

	// DefaultDelay is the minimum interval between requests. 1 second is
	// conservative and respectful of server resources. Can be adjusted
	// via the --delay CLI flag.
	DefaultDelay = 1 * time.Second

	// DefaultMaxAttempts bounds retries per page before it is marked
	// failed for the run. Failed pages are swept again at the end of the
	// crawl and on the next run.
	DefaultMaxAttempts = 3

	// DefaultStartPage and DefaultEndPage bound the default crawl range.
	// The end page is generous; the advisory stop rule normally halts the
	// crawl well before the range is exhausted.
	DefaultStartPage = "0"
	DefaultEndPage   = "40000"

	// DefaultCheckpointEvery is how many processed pages may elapse
	// between checkpoint flushes. Interrupting the crawl loses at most
	// this many pages of progress, never any manifest entries already
	// flushed.
	DefaultCheckpointEvery = 50

	// DefaultStopAfter is the advisory stop rule threshold: halt after
	// this many consecutive non-NEW pages. Zero disables the rule.
	DefaultStopAfter = 50

	// DefaultRetryRounds is the number of end-of-crawl sweeps over pages
	// that stayed failed.
	DefaultRetryRounds = 2

	// DefaultSampleSize is the number of visited pages re-fetched during
	// drift verification.
	DefaultSampleSize = 20

	// DefaultBatchSize of 4 concurrent endpoint crawls balances
	// throughput with politeness when scanning several listings at once.
	DefaultBatchSize = 4

	// DefaultPageParam is the query parameter carrying the page number.
	DefaultPageParam = "page"

	// AppName is the application name used for XDG directory paths.
	AppName = "driftscan"

	// DefaultUserAgent identifies driftscan in HTTP requests.
	// Using a descriptive User-Agent is good practice and allows operators
	// to identify crawler traffic in their logs.
	DefaultUserAgent = "driftscan/1.0 (+https://github.com/nao1215/driftscan)"

	// DefaultMaxBodySize limits the maximum response body size to read.
	// 5MB is sufficient for any listing page while preventing memory
	// exhaustion from unexpectedly large responses.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB
)

// Config holds all configuration options for driftscan.
// This struct is designed to be populated from CLI flags and passed through
// the application via dependency injection rather than global state.
//
// Design decision: We use a single flat struct instead of nested structs
// (e.g., CrawlConfig, ReportConfig) for simplicity. The number of options
// is manageable, and nesting would add complexity without significant benefit.
// If the configuration grows significantly, consider refactoring into sub-structs.
type Config struct {
	// Endpoints is the list of listing endpoints to crawl.
	// Must contain at least one absolute URL.
	Endpoints []string

	// PageParam is the query parameter carrying the page number.
	PageParam string

	// PatternPrefix, PatternDigits, and PatternSuffix describe the
	// lexical format of identifiers on the listing pages.
	PatternPrefix string
	PatternDigits int
	PatternSuffix string

	// Timeout is the per-request timeout for each HTTP fetch.
	// This applies to individual requests, not the overall crawl duration.
	Timeout time.Duration

	// Delay is the minimum interval between HTTP requests.
	// This is a "politeness" setting; lower values may trigger rate
	// limiting on the listing server.
	Delay time.Duration

	// MaxAttempts bounds retries per page before it is marked failed.
	MaxAttempts int

	// StartPage and EndPage bound the requested crawl range. Both are
	// decimal page numbers; EndPage may exceed int64.
	StartPage string
	EndPage   string

	// CheckpointEvery is how many processed pages may elapse between
	// checkpoint flushes. Zero means use the default.
	CheckpointEvery int64

	// StopAfter is the advisory stop rule threshold: halt after this many
	// consecutive non-NEW pages. Zero disables the rule.
	StopAfter int

	// Force overrides the advisory stop rule and crawls the full
	// requested range.
	Force bool

	// Fresh discards any existing checkpoint and starts the crawl from
	// scratch. The on-disk checkpoint is only replaced at the first
	// flush.
	Fresh bool

	// Prefetch is the number of concurrent fetch workers. Classification
	// stays strictly ordered regardless of this value.
	Prefetch int

	// RetryRounds is the number of end-of-crawl sweeps over failed pages.
	RetryRounds int

	// SampleSize is the number of visited pages re-fetched during drift
	// verification before the crawl resumes.
	SampleSize int

	// SkipVerify disables the pre-crawl drift verification pass.
	SkipVerify bool

	// Probe enables boundary probing after the crawl.
	Probe bool

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// BatchSize is the number of concurrent crawls when processing
	// multiple endpoints.
	BatchSize int

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .driftscan in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// Profiles holds endpoint-specific configurations loaded from the
	// config file. This is populated by LoadConfigFile and used when
	// building fetch clients.
	Profiles *File

	// JSONReport enables JSON report output instead of human-readable format.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown report output instead of
	// human-readable format. Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When set, the report is written to this file instead of stdout.
	// Directories are created automatically if they don't exist.
	ReportFile string

	// CheckpointPath is the path of the JSON checkpoint file.
	// When empty, a per-endpoint file under the XDG data directory is used.
	CheckpointPath string

	// ManifestPath is the output path for the plain-text identifier
	// manifest. When empty, the manifest is not exported.
	ManifestPath string

	// DBDir is the directory path for storing the SQLite database.
	// When set, run results are archived for historical comparison.
	// Defaults to XDG data directory (~/.local/share/driftscan on Linux).
	DBDir string

	// SaveToDB indicates whether to archive run results to the database.
	// This is automatically set to true when DBDir is configured.
	SaveToDB bool

	// UserAgent is the User-Agent header sent with HTTP requests.
	// A descriptive User-Agent helps server operators identify crawler
	// traffic.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Responses larger than this are truncated to prevent memory exhaustion.
	// Set to 0 to use the default (5MB).
	MaxBodySize int64
}

// NewConfig creates a new Config with default values.
// All fields are set to safe, sensible defaults that work for most use cases.
// Users can override specific values after creation.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., timeout, page range).
// This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	pattern := model.DefaultPattern()
	return &Config{
		PageParam:       DefaultPageParam,
		PatternPrefix:   pattern.Prefix,
		PatternDigits:   pattern.Digits,
		PatternSuffix:   pattern.Suffix,
		Timeout:         DefaultTimeout,
		Delay:           DefaultDelay,
		MaxAttempts:     DefaultMaxAttempts,
		StartPage:       DefaultStartPage,
		EndPage:         DefaultEndPage,
		CheckpointEvery: DefaultCheckpointEvery,
		StopAfter:       DefaultStopAfter,
		RetryRounds:     DefaultRetryRounds,
		SampleSize:      DefaultSampleSize,
		BatchSize:       DefaultBatchSize,
		UserAgent:       DefaultUserAgent,
		MaxBodySize:     DefaultMaxBodySize,
	}
}

// Pattern returns the identifier pattern described by the configuration.
func (c *Config) Pattern() model.Pattern {
	return model.Pattern{
		Prefix: c.PatternPrefix,
		Digits: c.PatternDigits,
		Suffix: c.PatternSuffix,
	}
}

// XDGDataDir returns the XDG data directory for driftscan.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.local/share/driftscan
// On macOS: ~/Library/Application Support/driftscan
// On Windows: %LOCALAPPDATA%\driftscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for driftscan.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.config/driftscan
// On macOS: ~/Library/Application Support/driftscan
// On Windows: %APPDATA%\driftscan
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for driftscan.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.cache/driftscan
// On macOS: ~/Library/Caches/driftscan
// On Windows: %LOCALAPPDATA%\driftscan\cache
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
// This is called once after CLI parsing, before any crawling begins.
//
// We chose to return the first error found rather than collecting all errors
// because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	// We must have at least one endpoint to crawl
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoint
	}

	// Timeout must be positive; zero timeout would cause immediate failures
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	// Delay must be non-negative
	if c.Delay < 0 {
		return ErrInvalidDelay
	}

	// BatchSize must be positive; zero would mean no crawling
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	// JSONReport and MarkdownReport are mutually exclusive
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	// The identifier pattern must be well-formed
	if err := c.Pattern().Validate(); err != nil {
		return err
	}

	// Page range bounds must be decimal page numbers
	if !model.PageNumber(c.StartPage).Valid() || !model.PageNumber(c.EndPage).Valid() {
		return ErrInvalidPageRange
	}

	// MaxBodySize must be non-negative
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	return nil
}
