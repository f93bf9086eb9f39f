package config

import (
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/andybalholm/cascadia"

	"github.com/nao1215/dropfetch/internal/host"
)

// HostConfig holds configuration for one host pattern.
// Zero fields inherit the values from the file's defaults section.
type HostConfig struct {
	// Crawler selects the crawler variant: generic, gallery or s3.
	Crawler string `yaml:"crawler,omitempty"`

	// RateLimit is the number of requests allowed per RateWindow.
	RateLimit int `yaml:"rateLimit,omitempty"`

	// RateWindow is the sliding window of RateLimit, e.g. "1s" or "1m".
	RateWindow time.Duration `yaml:"rateWindow,omitempty"`

	// Concurrency is the per-host limit of simultaneous crawl requests.
	Concurrency int `yaml:"concurrency,omitempty"`

	// DownloadConcurrency is the per-host limit of simultaneous downloads.
	DownloadConcurrency int `yaml:"downloadConcurrency,omitempty"`

	// Shared makes all sub domains matched by the pattern share one budget.
	Shared bool `yaml:"shared,omitempty"`

	// Cookie is an HTTP cookie sent with every request to this host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers sent with every request to this host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Referer is sent as the Referer header of downloads.
	Referer string `yaml:"referer,omitempty"`

	// ItemSelector is the CSS selector of file links on gallery pages.
	ItemSelector string `yaml:"itemSelector,omitempty"`

	// NextPageSelector is the CSS selector of the "next page" link.
	NextPageSelector string `yaml:"nextPageSelector,omitempty"`

	// MaxPages caps the number of gallery pages followed.
	MaxPages int `yaml:"maxPages,omitempty"`

	// IgnorePatterns are URL path glob patterns to skip.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict targets to URL paths matching one of them.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`

	// S3Profile is the shared AWS config profile used by the s3 crawler.
	S3Profile string `yaml:"s3Profile,omitempty"`

	// S3Region overrides the AWS region.
	S3Region string `yaml:"s3Region,omitempty"`

	// S3Endpoint points the s3 crawler at an S3 compatible service.
	S3Endpoint string `yaml:"s3Endpoint,omitempty"`

	// S3PathStyle enables path style addressing.
	S3PathStyle bool `yaml:"s3PathStyle,omitempty"`

	// S3AccessKeyID and S3SecretAccessKey are static credentials for
	// S3 compatible services.
	S3AccessKeyID     string `yaml:"s3AccessKeyId,omitempty"`
	S3SecretAccessKey string `yaml:"s3SecretAccessKey,omitempty"`
}

// File represents the structure of the dropfetch configuration file.
type File struct {
	// Hosts maps domain patterns to their configuration.
	// Keys are hostnames ("example.com" also matches its sub domains)
	// or wildcards ("*.example.com" matches sub domains only).
	Hosts map[string]HostConfig `yaml:"hosts,omitempty"`

	// Defaults applies to every host unless overridden.
	Defaults HostConfig `yaml:"defaults,omitempty"`
}

// GetHostConfig returns the configuration for a host pattern merged over
// the defaults.
func (cf *File) GetHostConfig(pattern string) HostConfig {
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)

	hc, ok := cf.Hosts[pattern]
	if !ok {
		return result
	}
	if hc.Crawler != "" {
		result.Crawler = hc.Crawler
	}
	if hc.RateLimit != 0 {
		result.RateLimit = hc.RateLimit
	}
	if hc.RateWindow != 0 {
		result.RateWindow = hc.RateWindow
	}
	if hc.Concurrency != 0 {
		result.Concurrency = hc.Concurrency
	}
	if hc.DownloadConcurrency != 0 {
		result.DownloadConcurrency = hc.DownloadConcurrency
	}
	if hc.Shared {
		result.Shared = true
	}
	if hc.Cookie != "" {
		result.Cookie = hc.Cookie
	}
	if len(hc.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(hc.Headers))
		}
		maps.Copy(result.Headers, hc.Headers)
	}
	if hc.Referer != "" {
		result.Referer = hc.Referer
	}
	if hc.ItemSelector != "" {
		result.ItemSelector = hc.ItemSelector
	}
	if hc.NextPageSelector != "" {
		result.NextPageSelector = hc.NextPageSelector
	}
	if hc.MaxPages != 0 {
		result.MaxPages = hc.MaxPages
	}
	if len(hc.IgnorePatterns) > 0 {
		result.IgnorePatterns = hc.IgnorePatterns
	}
	if len(hc.FollowPatterns) > 0 {
		result.FollowPatterns = hc.FollowPatterns
	}
	if hc.S3Profile != "" {
		result.S3Profile = hc.S3Profile
	}
	if hc.S3Region != "" {
		result.S3Region = hc.S3Region
	}
	if hc.S3Endpoint != "" {
		result.S3Endpoint = hc.S3Endpoint
	}
	if hc.S3PathStyle {
		result.S3PathStyle = true
	}
	if hc.S3AccessKeyID != "" {
		result.S3AccessKeyID = hc.S3AccessKeyID
		result.S3SecretAccessKey = hc.S3SecretAccessKey
	}
	return result
}

// Registry validates the file and converts it into a read-only host registry.
// A nil File yields a registry holding only the built-in defaults.
func (cf *File) Registry() (*host.Registry, error) {
	if cf == nil {
		return host.NewRegistry(host.DefaultProfile())
	}

	if err := cf.Defaults.validate("defaults"); err != nil {
		return nil, err
	}
	defaults := cf.Defaults.profile("")

	patterns := make([]string, 0, len(cf.Hosts))
	for pattern := range cf.Hosts {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	profiles := make([]host.Profile, 0, len(patterns))
	for _, pattern := range patterns {
		hc := cf.GetHostConfig(pattern)
		if err := hc.validate(pattern); err != nil {
			return nil, err
		}
		profiles = append(profiles, hc.profile(pattern))
	}
	return host.NewRegistry(defaults, profiles...)
}

func (hc HostConfig) validate(name string) error {
	switch hc.Crawler {
	case "", host.CrawlerGeneric, host.CrawlerGallery, host.CrawlerS3:
	default:
		return fmt.Errorf("%w %q for %s", ErrUnknownCrawler, hc.Crawler, name)
	}
	for _, sel := range []string{hc.ItemSelector, hc.NextPageSelector} {
		if sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("%w %q for %s: %w", ErrInvalidSelector, sel, name, err)
		}
	}
	return nil
}

func (hc HostConfig) profile(pattern string) host.Profile {
	return host.Profile{
		Pattern:             pattern,
		Crawler:             hc.Crawler,
		RateLimit:           hc.RateLimit,
		RateWindow:          hc.RateWindow,
		Concurrency:         hc.Concurrency,
		DownloadConcurrency: hc.DownloadConcurrency,
		Shared:              hc.Shared,
		Headers:             hc.Headers,
		Cookie:              hc.Cookie,
		Referer:             hc.Referer,
		ItemSelector:        hc.ItemSelector,
		NextPageSelector:    hc.NextPageSelector,
		MaxPages:            hc.MaxPages,
		IgnorePatterns:      hc.IgnorePatterns,
		FollowPatterns:      hc.FollowPatterns,
		S3: host.S3Options{
			Profile:         hc.S3Profile,
			Region:          hc.S3Region,
			Endpoint:        hc.S3Endpoint,
			PathStyle:       hc.S3PathStyle,
			AccessKeyID:     hc.S3AccessKeyID,
			SecretAccessKey: hc.S3SecretAccessKey,
		},
	}
}
