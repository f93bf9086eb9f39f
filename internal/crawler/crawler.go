package crawler

import (
	"context"
	"errors"
	"iter"
	"net/http"

	"github.com/nao1215/dropfetch/internal/host"
	"github.com/nao1215/dropfetch/internal/model"
)

// Crawler resolves an input URL into download targets.
type Crawler interface {
	// Name returns the variant identifier used in host profiles.
	Name() string

	// Resolve returns the targets of in as a lazy, single-use sequence.
	Resolve(ctx context.Context, in model.InputURL) iter.Seq2[model.ResolvedTarget, error]
}

// Doer sends HTTP requests. Crawlers receive a gated client so every
// request waits for its host's rate limit and concurrency slot.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProfileSource resolves a host to its profile.
type ProfileSource interface {
	Match(hostname string) host.Profile
}

// Registry selects the crawler for an input URL. It is read-only after
// construction.
type Registry struct {
	profiles ProfileSource
	fallback Crawler
	byName   map[string]Crawler
}

// NewRegistry creates a registry. fallback handles http(s) URLs whose
// profile names no registered crawler.
func NewRegistry(profiles ProfileSource, fallback Crawler, crawlers ...Crawler) *Registry {
	r := &Registry{
		profiles: profiles,
		fallback: fallback,
		byName:   make(map[string]Crawler, len(crawlers)+1),
	}
	if fallback != nil {
		r.byName[fallback.Name()] = fallback
	}
	for _, c := range crawlers {
		r.byName[c.Name()] = c
	}
	return r
}

// For returns the crawler responsible for in.
func (r *Registry) For(in model.InputURL) (Crawler, error) {
	if in.URL == nil {
		return nil, newError(KindUnsupported, in.Raw, errors.New("url not parsed"))
	}

	switch in.URL.Scheme {
	case "s3":
		if c, ok := r.byName[host.CrawlerS3]; ok {
			return c, nil
		}
		return nil, newError(KindUnsupported, in.String(), errors.New("s3 crawler not configured"))
	case "http", "https":
	default:
		return nil, newError(KindUnsupported, in.String(), errors.New("unsupported scheme "+in.URL.Scheme))
	}

	name := r.profiles.Match(in.Host()).Crawler
	if c, ok := r.byName[name]; ok && name != host.CrawlerS3 {
		return c, nil
	}
	if r.fallback == nil {
		return nil, newError(KindUnsupported, in.String(), errors.New("no crawler for host "+in.Host()))
	}
	return r.fallback, nil
}

// single yields exactly one target or one error.
func single(t model.ResolvedTarget, err error) iter.Seq2[model.ResolvedTarget, error] {
	return func(yield func(model.ResolvedTarget, error) bool) {
		yield(t, err)
	}
}
