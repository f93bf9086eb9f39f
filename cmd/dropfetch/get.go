package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nao1215/dropfetch/internal/config"
	"github.com/nao1215/dropfetch/internal/crawler"
	"github.com/nao1215/dropfetch/internal/dedup"
	"github.com/nao1215/dropfetch/internal/download"
	"github.com/nao1215/dropfetch/internal/input"
	dlog "github.com/nao1215/dropfetch/internal/log"
	"github.com/nao1215/dropfetch/internal/metrics"
	"github.com/nao1215/dropfetch/internal/model"
	"github.com/nao1215/dropfetch/internal/pipeline"
	"github.com/nao1215/dropfetch/internal/pool"
	"github.com/nao1215/dropfetch/internal/progress"
	"github.com/nao1215/dropfetch/internal/ratelimit"
	"github.com/nao1215/dropfetch/internal/report"
	"github.com/nao1215/dropfetch/internal/scheduler"
	"github.com/nao1215/dropfetch/internal/transport"
)

// errRunFailed is returned when at least one URL or file failed.
var errRunFailed = errors.New("some downloads failed")

// NewGetCmd creates the get command.
func NewGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [url...]",
		Short: "Resolve URLs and download their files",
		Long: `Get resolves every URL into files and downloads them.

URLs are read from the arguments and from --input-file. The input file may
hold any text: http, https and s3 links are extracted from it, lines
starting with # are skipped, and a "--- name" line puts the files of the
following links into the sub folder "name".

Examples:
  # Download a single file
  dropfetch get https://example.com/files/archive.zip

  # Download a gallery and an S3 prefix into ./media
  dropfetch get -d ./media https://gallery.example.com/album/42 s3://bucket/photos/

  # Read URLs from a file and write a Markdown report
  dropfetch get -i urls.txt --markdown -o report.md

  # Route traffic through a SOCKS proxy
  dropfetch get --proxy socks5://127.0.0.1:9050 https://example.com/a.jpg`,
		Args: cobra.ArbitraryArgs,
		RunE: runGetCmd,
	}

	f := cmd.Flags()
	f.StringP("input-file", "i", "", "Text file with URLs")
	f.StringP("dest", "d", config.DefaultDestinationRoot, "Destination directory")
	f.StringP("config", "c", "", "Configuration file path (default: .dropfetch.yaml in current, XDG config or home directory)")

	f.String("proxy", "", "Proxy URL (http, https or socks5)")
	f.DurationP("timeout", "t", config.DefaultTimeout, "Connection and response header timeout")
	f.String("user-agent", config.DefaultUserAgent, "User-Agent header")

	f.Int("max-downloads", config.DefaultMaxConcurrentDownloads, "Maximum simultaneous downloads")
	f.Int("max-crawls", config.DefaultMaxConcurrentCrawls, "Maximum simultaneous crawl requests")
	f.Int("host-concurrency", 0, "Default per-host crawl concurrency (default from config file or 2)")
	f.Int("rate-limit", 0, "Default per-host requests per rate window (default from config file or 10)")
	f.Duration("rate-window", 0, "Default per-host rate window (default from config file or 1s)")

	f.Int("attempts", config.DefaultMaxAttempts, "Attempts per URL and file, the first included")
	f.Duration("retry-delay", config.DefaultRetryInitialDelay, "Initial retry backoff")
	f.Duration("retry-max-delay", config.DefaultRetryMaxDelay, "Maximum retry backoff")

	f.String("hash", config.DefaultHashAlgorithm, fmt.Sprintf("Content hash algorithm %v", download.Algorithms()))
	f.Int64("limit-rate", 0, "Total download speed limit in bytes per second (0 = unlimited)")
	f.Int64("slow-speed", 0, "Abort transfers slower than this many bytes per second (0 = never)")
	f.Duration("slow-grace", config.DefaultSlowSpeedGrace, "How long a transfer may stay below --slow-speed")
	f.Int64("min-free-space", config.DefaultMinFreeSpace, "Free bytes required on the destination filesystem")
	f.String("temp-suffix", config.DefaultTempSuffix, "Suffix of partially downloaded files")

	f.String("db-dir", "", "Directory of the download history database (default: XDG data directory)")
	f.Bool("no-history", false, "Do not read or write the download history database")
	f.Bool("ignore-history", false, "Download files even if the history already has them")

	f.BoolP("json", "j", false, "Output JSON report (mutually exclusive with --markdown)")
	f.BoolP("markdown", "m", false, "Output Markdown report (mutually exclusive with --json)")
	f.StringP("output", "o", "", "Write report to specified file path (creates directories if needed)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

func runGetCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if !download.ValidAlgorithm(cfg.HashAlgorithm) {
		return fmt.Errorf("configuration error: %w: %s", download.ErrUnknownAlgorithm, cfg.HashAlgorithm)
	}

	logger := dlog.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, runErr := runGet(ctx, cfg, logger, cmd.ErrOrStderr())
	if summary != nil {
		if err := outputReport(cfg, cmd.OutOrStdout(), summary); err != nil {
			logger.Error("report failed", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if summary.HasFailures() {
		return errRunFailed
	}
	return nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from the get command flags and loads the
// configuration file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	f := cmd.Flags()

	var err error
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"input-file", &cfg.InputFile},
		{"dest", &cfg.DestinationRoot},
		{"config", &cfg.ConfigFilePath},
		{"proxy", &cfg.ProxyURL},
		{"user-agent", &cfg.UserAgent},
		{"hash", &cfg.HashAlgorithm},
		{"temp-suffix", &cfg.TempSuffix},
		{"output", &cfg.ReportFile},
		{"metrics-addr", &cfg.MetricsAddr},
	}
	for _, sf := range stringFlags {
		if *sf.dst, err = f.GetString(sf.name); err != nil {
			return nil, err
		}
	}

	intFlags := []struct {
		name string
		dst  *int
	}{
		{"max-downloads", &cfg.MaxConcurrentDownloads},
		{"max-crawls", &cfg.MaxConcurrentCrawls},
		{"attempts", &cfg.MaxAttempts},
	}
	for _, fl := range intFlags {
		if *fl.dst, err = f.GetInt(fl.name); err != nil {
			return nil, err
		}
	}

	int64Flags := []struct {
		name string
		dst  *int64
	}{
		{"limit-rate", &cfg.BandwidthLimit},
		{"slow-speed", &cfg.SlowSpeedThreshold},
		{"min-free-space", &cfg.MinFreeSpace},
	}
	for _, fl := range int64Flags {
		if *fl.dst, err = f.GetInt64(fl.name); err != nil {
			return nil, err
		}
	}

	durationFlags := []struct {
		name string
		dst  *time.Duration
	}{
		{"timeout", &cfg.Timeout},
		{"retry-delay", &cfg.RetryInitialDelay},
		{"retry-max-delay", &cfg.RetryMaxDelay},
		{"slow-grace", &cfg.SlowSpeedGrace},
	}
	for _, fl := range durationFlags {
		if *fl.dst, err = f.GetDuration(fl.name); err != nil {
			return nil, err
		}
	}

	boolFlags := []struct {
		name string
		dst  *bool
	}{
		{"no-history", &cfg.NoHistory},
		{"ignore-history", &cfg.IgnoreHistory},
		{"json", &cfg.JSONReport},
		{"markdown", &cfg.MarkdownReport},
	}
	for _, fl := range boolFlags {
		if *fl.dst, err = f.GetBool(fl.name); err != nil {
			return nil, err
		}
	}

	// Host budget flags only override when set; otherwise the config
	// file's defaults section and then the built-in values apply.
	if f.Changed("host-concurrency") {
		if cfg.HostConcurrency, err = f.GetInt("host-concurrency"); err != nil {
			return nil, err
		}
	}
	if f.Changed("rate-limit") {
		if cfg.HostRateLimit, err = f.GetInt("rate-limit"); err != nil {
			return nil, err
		}
	}
	if f.Changed("rate-window") {
		if cfg.HostRateWindow, err = f.GetDuration("rate-window"); err != nil {
			return nil, err
		}
	}

	dbDir, err := f.GetString("db-dir")
	if err != nil {
		return nil, err
	}
	if dbDir != "" {
		cfg.DBDir = dbDir
	}

	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cfg.HostConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		applyFileBudget(f.Changed, cfg)
	case explicitConfigPath:
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.HostConfigs = &config.File{Hosts: make(map[string]config.HostConfig)}
	}

	cfg.Inputs = args
	cfg.Verbose = getVerboseFlag(cmd)
	return cfg, nil
}

// applyFileBudget makes explicitly given host budget flags win over the
// file's defaults section. Unset fields of the section are filled from
// the flags by Config.Registry.
func applyFileBudget(changed func(string) bool, cfg *config.Config) {
	d := &cfg.HostConfigs.Defaults
	if changed("host-concurrency") {
		d.Concurrency = cfg.HostConcurrency
	}
	if changed("rate-limit") {
		d.RateLimit = cfg.HostRateLimit
	}
	if changed("rate-window") {
		d.RateWindow = cfg.HostRateWindow
	}
}

// readInputs collects the command line URLs and the input file.
func readInputs(cfg *config.Config) ([]model.InputURL, error) {
	args, err := input.FromArgs(cfg.Inputs)
	if err != nil {
		return nil, err
	}
	var fromFile []model.InputURL
	if cfg.InputFile != "" {
		if fromFile, err = input.ParseFile(cfg.InputFile); err != nil {
			return nil, err
		}
	}
	inputs := input.Merge(args, fromFile)
	if len(inputs) == 0 {
		return nil, input.ErrNoURLs
	}
	return inputs, nil
}

// runGet wires the engine and runs it over the inputs.
func runGet(ctx context.Context, cfg *config.Config, logger *slog.Logger, console io.Writer) (*model.Summary, error) {
	inputs, err := readInputs(cfg)
	if err != nil {
		return nil, err
	}

	sinks := progress.Multi{
		progress.NewConsole(console, cfg.Verbose),
		progress.NewLogSink(logger),
	}

	var limiterOpts []ratelimit.Option
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, m)
		limiterOpts = append(limiterOpts, ratelimit.WithGrantFunc(m.ObserveGrant))

		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	var index dedup.Index
	if cfg.NoHistory {
		index = dedup.NewMemory()
	} else {
		db, err := dedup.Open(cfg.DBDir, dedup.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		defer db.Close()
		logger.Debug("history database opened", "path", db.Path())
		index = db
	}

	s, err := newScheduler(cfg, logger, index, sinks, limiterOpts)
	if err != nil {
		return nil, err
	}

	logger.Info("starting run",
		"urls", len(inputs),
		"dest", cfg.DestinationRoot,
		"maxDownloads", cfg.MaxConcurrentDownloads,
	)
	return s.Run(ctx, inputs)
}

// newScheduler builds the transport, budgets, crawlers and executor
// behind a scheduler.
func newScheduler(cfg *config.Config, logger *slog.Logger, index dedup.Index, sink progress.Sink, limiterOpts []ratelimit.Option) (*scheduler.Scheduler, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	client, err := transport.NewClient(
		transport.WithProxy(cfg.ProxyURL),
		transport.WithTimeout(cfg.Timeout),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithProfiles(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	httpClient := client.HTTPClient()

	limiter := ratelimit.New(registry, append([]ratelimit.Option{ratelimit.WithLogger(logger)}, limiterOpts...)...)
	crawlSlots := pool.NewCrawlPool(cfg.MaxConcurrentCrawls, registry, pool.WithLogger(logger))
	downloadSlots := pool.NewDownloadPool(cfg.MaxConcurrentDownloads, registry, pool.WithLogger(logger))

	// Crawl requests hold a crawl slot for their duration. Downloads are
	// already bounded by the scheduler's download slot.
	crawlGate := transport.NewGate(httpClient, limiter, crawlSlots)
	downloadGate := transport.NewGate(httpClient, limiter, nil)

	crawlers := crawler.NewRegistry(registry,
		crawler.NewGeneric(crawlGate, crawler.WithGenericLogger(logger)),
		crawler.NewGallery(crawlGate, registry, crawler.WithGalleryLogger(logger)),
		crawler.NewS3(crawlGate, registry, crawler.WithS3Logger(logger)),
	)

	executor, err := download.NewExecutor(downloadGate, cfg.DestinationRoot,
		download.WithIndex(index),
		download.WithLogger(logger),
		download.WithTempSuffix(cfg.TempSuffix),
		download.WithHashAlgorithm(cfg.HashAlgorithm),
		download.WithBandwidthLimit(cfg.BandwidthLimit),
		download.WithSlowSpeed(cfg.SlowSpeedThreshold, cfg.SlowSpeedGrace),
		download.WithMinFreeSpace(uint64(cfg.MinFreeSpace)), //nolint:gosec // validated non-negative
		download.WithFinalizer(pipeline.NewDefault(pipeline.WithLogger(logger))),
	)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	return scheduler.New(registry, crawlers, executor, downloadSlots,
		scheduler.WithIndex(index),
		scheduler.WithSink(sink),
		scheduler.WithLogger(logger),
		scheduler.WithMaxAttempts(cfg.MaxAttempts),
		scheduler.WithBackoff(scheduler.Backoff{
			Initial:    cfg.RetryInitialDelay,
			Max:        cfg.RetryMaxDelay,
			Multiplier: scheduler.DefaultBackoff().Multiplier,
		}),
		scheduler.WithIgnoreHistory(cfg.IgnoreHistory),
	), nil
}

// serveMetrics serves the registry on addr until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx) //nolint:errcheck // best effort
	}
}

// outputReport writes the run summary to the report file or to stdout.
func outputReport(cfg *config.Config, stdout io.Writer, summary *model.Summary) error {
	output := stdout
	if cfg.ReportFile != "" {
		if dir := filepath.Dir(cfg.ReportFile); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		// Failure reasons may include URLs of private galleries.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	w, err := report.New(cfg.ReportFormat(), output)
	if err != nil {
		return err
	}
	_, err = w.Write(summary)
	return err
}
