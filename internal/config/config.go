package config

import (
	"maps"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/dropfetch/internal/host"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "dropfetch"

	// DefaultDestinationRoot is the directory files are saved under.
	DefaultDestinationRoot = "downloads"

	// DefaultTempSuffix is appended to the final path to name the temp file.
	// The temp file is a sibling of the final file so the final rename stays
	// on one filesystem.
	DefaultTempSuffix = ".part"

	// DefaultMaxConcurrentDownloads is the global limit of simultaneous downloads.
	DefaultMaxConcurrentDownloads = 8

	// DefaultMaxConcurrentCrawls is the global limit of simultaneous crawl requests.
	DefaultMaxConcurrentCrawls = 8

	// DefaultMaxAttempts is the number of tries for retryable failures,
	// the first attempt included.
	DefaultMaxAttempts = 5

	// DefaultRetryInitialDelay is the backoff before the second attempt.
	DefaultRetryInitialDelay = 1 * time.Second

	// DefaultRetryMaxDelay caps the exponential backoff.
	DefaultRetryMaxDelay = 30 * time.Second

	// DefaultTimeout bounds connection setup and response headers of one request.
	// Body streaming is bounded by the slow-speed watchdog instead.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent identifies dropfetch in HTTP requests.
	DefaultUserAgent = "dropfetch/1.0 (+https://github.com/nao1215/dropfetch)"

	// DefaultHashAlgorithm is used to hash every downloaded file.
	DefaultHashAlgorithm = "sha256"

	// DefaultMinFreeSpace is the free space required on the destination
	// filesystem before and during a download.
	DefaultMinFreeSpace = 256 * 1024 * 1024 // 256MB

	// DefaultSlowSpeedGrace is how long a transfer may stay under the slow
	// speed threshold before it is aborted.
	DefaultSlowSpeedGrace = 10 * time.Second
)

// Config holds all run options of dropfetch.
// It is populated from CLI flags and passed through the application by
// dependency injection.
type Config struct {
	// DestinationRoot is the directory downloads are written under.
	DestinationRoot string

	// TempSuffix names the temp sibling of a file being downloaded.
	TempSuffix string

	// MaxConcurrentDownloads is the global download limit.
	MaxConcurrentDownloads int

	// MaxConcurrentCrawls is the global crawl request limit.
	MaxConcurrentCrawls int

	// HostConcurrency, HostRateLimit and HostRateWindow are the budget of
	// hosts the config file does not configure.
	HostConcurrency int
	HostRateLimit   int
	HostRateWindow  time.Duration

	// MaxAttempts bounds retries of TransientError, NetworkError and Corrupt outcomes.
	MaxAttempts int

	// RetryInitialDelay and RetryMaxDelay shape the exponential backoff.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// Timeout bounds connection setup and response headers.
	Timeout time.Duration

	// UserAgent is sent with every request unless a host overrides it.
	UserAgent string

	// ProxyURL routes all traffic through an http, https or socks5 proxy.
	ProxyURL string

	// HashAlgorithm is the digest computed for every downloaded file.
	HashAlgorithm string

	// BandwidthLimit caps the total download speed in bytes per second.
	// Zero disables the cap.
	BandwidthLimit int64

	// SlowSpeedThreshold aborts a transfer that stays below this many bytes
	// per second for SlowSpeedGrace. Zero disables the check.
	SlowSpeedThreshold int64

	// SlowSpeedGrace is the tolerated duration under SlowSpeedThreshold.
	SlowSpeedGrace time.Duration

	// MinFreeSpace is the free space required on the destination filesystem.
	// Zero disables the check.
	MinFreeSpace int64

	// DBDir is the directory of the download history database.
	// Defaults to the XDG data directory.
	DBDir string

	// NoHistory keeps the dedup index in memory only.
	NoHistory bool

	// IgnoreHistory downloads files even when the history already has them.
	// Completed downloads are still recorded.
	IgnoreHistory bool

	// ConfigFilePath is the path to the host configuration file.
	// When empty, FindConfigFile searches the default locations.
	ConfigFilePath string

	// HostConfigs holds the host configurations loaded from the config file.
	HostConfigs *File

	// Inputs are the URLs given on the command line.
	Inputs []string

	// InputFile is a text file with more URLs.
	InputFile string

	// JSONReport and MarkdownReport select the run summary format.
	// They are mutually exclusive.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile is the output file of the run summary. Stdout when empty.
	ReportFile string

	// MetricsAddr serves Prometheus metrics on this address while running.
	MetricsAddr string

	// Verbose enables debug logging.
	Verbose bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		DestinationRoot:        DefaultDestinationRoot,
		TempSuffix:             DefaultTempSuffix,
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		MaxConcurrentCrawls:    DefaultMaxConcurrentCrawls,
		HostConcurrency:        host.DefaultConcurrency,
		HostRateLimit:          host.DefaultRateLimit,
		HostRateWindow:         host.DefaultRateWindow,
		MaxAttempts:            DefaultMaxAttempts,
		RetryInitialDelay:      DefaultRetryInitialDelay,
		RetryMaxDelay:          DefaultRetryMaxDelay,
		Timeout:                DefaultTimeout,
		UserAgent:              DefaultUserAgent,
		HashAlgorithm:          DefaultHashAlgorithm,
		MinFreeSpace:           DefaultMinFreeSpace,
		SlowSpeedGrace:         DefaultSlowSpeedGrace,
		DBDir:                  XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for dropfetch.
// On Linux: ~/.local/share/dropfetch
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for dropfetch.
// On Linux: ~/.config/dropfetch
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 && c.InputFile == "" {
		return ErrNoInput
	}
	if c.DestinationRoot == "" {
		return ErrNoDestination
	}
	if c.TempSuffix == "" {
		return ErrInvalidTempSuffix
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxConcurrentDownloads <= 0 || c.MaxConcurrentCrawls <= 0 {
		return ErrInvalidConcurrency
	}
	if c.HostConcurrency <= 0 || c.HostRateLimit <= 0 || c.HostRateWindow <= 0 {
		return ErrInvalidHostBudget
	}
	if c.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if c.RetryInitialDelay < 0 || c.RetryMaxDelay < c.RetryInitialDelay {
		return ErrInvalidRetryDelay
	}
	if c.BandwidthLimit < 0 || c.SlowSpeedThreshold < 0 || c.MinFreeSpace < 0 {
		return ErrNegativeLimit
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

// ReportFormat returns the report format selected by the flags:
// "json", "markdown" or "text".
func (c *Config) ReportFormat() string {
	switch {
	case c.JSONReport:
		return "json"
	case c.MarkdownReport:
		return "markdown"
	default:
		return "text"
	}
}

// Registry builds the host registry from HostConfigs. Budget fields the
// file's defaults section leaves unset come from the flag level host budget.
func (c *Config) Registry() (*host.Registry, error) {
	f := File{}
	if c.HostConfigs != nil {
		f = *c.HostConfigs
		f.Hosts = maps.Clone(c.HostConfigs.Hosts)
	}
	if f.Defaults.Concurrency == 0 {
		f.Defaults.Concurrency = c.HostConcurrency
	}
	if f.Defaults.RateLimit == 0 {
		f.Defaults.RateLimit = c.HostRateLimit
	}
	if f.Defaults.RateWindow == 0 {
		f.Defaults.RateWindow = c.HostRateWindow
	}
	return f.Registry()
}
