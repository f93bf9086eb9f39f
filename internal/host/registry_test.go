package host

import (
	"errors"
	"testing"
	"time"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	t.Run("fills zero fields from defaults", func(t *testing.T) {
		t.Parallel()
		r, err := NewRegistry(Profile{RateLimit: 5, Headers: map[string]string{"X-A": "1"}},
			Profile{Pattern: "example.com", Concurrency: 4, Headers: map[string]string{"X-B": "2"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p := r.Match("example.com")
		if p.RateLimit != 5 {
			t.Errorf("expected RateLimit 5 from defaults, got %d", p.RateLimit)
		}
		if p.Concurrency != 4 {
			t.Errorf("expected Concurrency 4, got %d", p.Concurrency)
		}
		if p.RateWindow != DefaultRateWindow {
			t.Errorf("expected RateWindow %v, got %v", DefaultRateWindow, p.RateWindow)
		}
		if p.Crawler != CrawlerGeneric {
			t.Errorf("expected generic crawler, got %s", p.Crawler)
		}
		if p.Headers["X-A"] != "1" || p.Headers["X-B"] != "2" {
			t.Errorf("expected merged headers, got %v", p.Headers)
		}
		if _, leaked := r.Defaults().Headers["X-B"]; leaked {
			t.Error("host headers must not leak into the default profile")
		}
	})

	t.Run("rejects empty pattern", func(t *testing.T) {
		t.Parallel()
		_, err := NewRegistry(Profile{}, Profile{Pattern: ""})
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("expected ErrInvalidPattern, got %v", err)
		}
	})

	t.Run("rejects url as pattern", func(t *testing.T) {
		t.Parallel()
		_, err := NewRegistry(Profile{}, Profile{Pattern: "example.com/path"})
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("expected ErrInvalidPattern, got %v", err)
		}
	})

	t.Run("rejects duplicates after normalization", func(t *testing.T) {
		t.Parallel()
		_, err := NewRegistry(Profile{}, Profile{Pattern: "Example.com"}, Profile{Pattern: "www.example.com"})
		if !errors.Is(err, ErrDuplicatePattern) {
			t.Errorf("expected ErrDuplicatePattern, got %v", err)
		}
	})
}

func TestRegistryMatch(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(Profile{},
		Profile{Pattern: "example.com", Crawler: CrawlerGallery, RateLimit: 1},
		Profile{Pattern: "cdn.example.com", Crawler: CrawlerGeneric, RateLimit: 2},
		Profile{Pattern: "*.media.org", Crawler: CrawlerGallery, RateLimit: 3},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testCases := []struct {
		host      string
		wantLimit int
	}{
		{"example.com", 1},
		{"www.example.com", 1},
		{"EXAMPLE.COM:8443", 1},
		{"img.example.com", 1},
		{"cdn.example.com", 2},
		{"a.cdn.example.com", 2},
		{"img.media.org", 3},
		{"media.org", DefaultRateLimit},
		{"notexample.com", DefaultRateLimit},
		{"other.net", DefaultRateLimit},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			t.Parallel()
			if got := r.Match(tc.host).RateLimit; got != tc.wantLimit {
				t.Errorf("expected rate limit %d, got %d", tc.wantLimit, got)
			}
		})
	}
}

func TestRegistryBudgetKey(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(Profile{},
		Profile{Pattern: "shared.com", Shared: true, RateWindow: time.Minute},
		Profile{Pattern: "split.com"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a, b := r.BudgetKey("a.shared.com"), r.BudgetKey("b.shared.com"); a != b {
		t.Errorf("expected shared key, got %s and %s", a, b)
	}
	if a, b := r.BudgetKey("a.split.com"), r.BudgetKey("b.split.com"); a == b {
		t.Errorf("expected distinct keys, got %s", a)
	}
	if got := r.BudgetKey("WWW.Other.com:80"); got != "other.com" {
		t.Errorf("expected other.com, got %s", got)
	}
}

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"Example.COM":          "example.com",
		"www.example.com":      "example.com",
		"example.com:8080":     "example.com",
		"example.com.":         "example.com",
		"[::1]:8080":           "::1",
		"::1":                  "::1",
		" files.example.com  ": "files.example.com",
	}
	for in, want := range testCases {
		if got := NormalizeHost(in); got != want {
			t.Errorf("NormalizeHost(%q): expected %q, got %q", in, want, got)
		}
	}
}
