package host

import (
	"maps"
	"time"
)

// Default budget values for hosts without an explicit profile.
const (
	// DefaultRateLimit is the number of requests granted per DefaultRateWindow.
	DefaultRateLimit = 10

	// DefaultRateWindow is the sliding window the rate limit applies to.
	DefaultRateWindow = time.Second

	// DefaultConcurrency is the per-host limit of simultaneous crawl requests.
	// Kept low so an unknown host is never hammered.
	DefaultConcurrency = 2

	// DefaultDownloadConcurrency is the per-host limit of simultaneous downloads.
	DefaultDownloadConcurrency = 2

	// DefaultMaxPages caps paginated crawls.
	DefaultMaxPages = 50
)

// Crawler variant identifiers.
const (
	CrawlerGeneric = "generic"
	CrawlerGallery = "gallery"
	CrawlerS3      = "s3"
)

// S3Options configures the S3 crawler for a profile.
// AccessKeyID and SecretAccessKey are static keys for S3 compatible services.
type S3Options struct {
	Profile         string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// Profile identifies the crawler for a host pattern and carries the host's
// rate-limit and concurrency parameters.
type Profile struct {
	// Pattern is the domain pattern this profile matches.
	// "example.com" matches example.com and any sub domain of it.
	// "*.example.com" matches sub domains only. Empty for the default profile.
	Pattern string

	// Crawler is the crawler variant identifier.
	Crawler string

	// RateLimit is the maximum number of requests in any RateWindow.
	RateLimit int

	// RateWindow is the sliding window length for RateLimit.
	RateWindow time.Duration

	// Concurrency is the per-host limit of simultaneous crawl requests.
	Concurrency int

	// DownloadConcurrency is the per-host limit of simultaneous downloads.
	DownloadConcurrency int

	// Shared makes every host matched by this profile share one budget.
	// Otherwise each hostname gets its own budget with these parameters.
	Shared bool

	// Headers are added to every request sent to the host.
	Headers map[string]string

	// Cookie is sent with every request to the host.
	Cookie string

	// Referer overrides the Referer header for downloads.
	Referer string

	// ItemSelector is the CSS selector of file links on gallery pages.
	ItemSelector string

	// NextPageSelector is the CSS selector of the next page link.
	NextPageSelector string

	// MaxPages caps the number of gallery pages followed.
	MaxPages int

	// IgnorePatterns are glob patterns of URL paths to skip.
	IgnorePatterns []string

	// FollowPatterns restrict targets to URL paths matching one of them.
	FollowPatterns []string

	// S3 configures the S3 crawler.
	S3 S3Options
}

// DefaultProfile returns the profile applied to hosts without a match.
func DefaultProfile() Profile {
	return Profile{
		Crawler:             CrawlerGeneric,
		RateLimit:           DefaultRateLimit,
		RateWindow:          DefaultRateWindow,
		Concurrency:         DefaultConcurrency,
		DownloadConcurrency: DefaultDownloadConcurrency,
		MaxPages:            DefaultMaxPages,
	}
}

// withDefaults fills the zero fields of p from d.
func (p Profile) withDefaults(d Profile) Profile {
	if p.Crawler == "" {
		p.Crawler = d.Crawler
	}
	if p.RateLimit <= 0 {
		p.RateLimit = d.RateLimit
	}
	if p.RateWindow <= 0 {
		p.RateWindow = d.RateWindow
	}
	if p.Concurrency <= 0 {
		p.Concurrency = d.Concurrency
	}
	if p.DownloadConcurrency <= 0 {
		p.DownloadConcurrency = d.DownloadConcurrency
	}
	if p.MaxPages <= 0 {
		p.MaxPages = d.MaxPages
	}
	if p.Cookie == "" {
		p.Cookie = d.Cookie
	}
	if p.Referer == "" {
		p.Referer = d.Referer
	}
	if p.ItemSelector == "" {
		p.ItemSelector = d.ItemSelector
	}
	if p.NextPageSelector == "" {
		p.NextPageSelector = d.NextPageSelector
	}
	if len(p.IgnorePatterns) == 0 {
		p.IgnorePatterns = d.IgnorePatterns
	}
	if len(p.FollowPatterns) == 0 {
		p.FollowPatterns = d.FollowPatterns
	}
	if len(d.Headers) > 0 {
		merged := maps.Clone(d.Headers)
		maps.Copy(merged, p.Headers)
		p.Headers = merged
	}
	return p
}
