package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nao1215/dropfetch/internal/host"
	"github.com/nao1215/dropfetch/internal/model"
	"github.com/nao1215/dropfetch/internal/transport"
)

// Generic treats the input URL as a direct file link. It probes the URL
// and accepts it when the response looks like a file: served as an
// attachment, carrying a non-page content type, or having a known file
// extension.
type Generic struct {
	client Doer
	logger *slog.Logger
}

// GenericOption configures Generic.
type GenericOption func(*Generic)

// WithGenericLogger sets the logger.
func WithGenericLogger(logger *slog.Logger) GenericOption {
	return func(g *Generic) {
		g.logger = logger
	}
}

// NewGeneric creates the generic crawler. client should be a gated client.
func NewGeneric(client Doer, opts ...GenericOption) *Generic {
	g := &Generic{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Crawler.
func (g *Generic) Name() string {
	return host.CrawlerGeneric
}

// Resolve implements Crawler. The sequence has exactly one element.
func (g *Generic) Resolve(ctx context.Context, in model.InputURL) iter.Seq2[model.ResolvedTarget, error] {
	return func(yield func(model.ResolvedTarget, error) bool) {
		t, err := g.probe(ctx, in)
		if err != nil && ctx.Err() != nil {
			return
		}
		yield(t, err)
	}
}

func (g *Generic) probe(ctx context.Context, in model.InputURL) (model.ResolvedTarget, error) {
	raw := in.String()

	resp, err := g.do(ctx, http.MethodHead, in, nil)
	if err != nil {
		return model.ResolvedTarget{}, err
	}
	resp.Body.Close()

	// Some hosts refuse HEAD and signed links are only valid for GET,
	// so any failed probe is repeated as a one byte ranged GET.
	if transport.Classify(resp.StatusCode) != transport.ClassOK {
		resp, err = g.do(ctx, http.MethodGet, in, http.Header{"Range": {"bytes=0-0"}})
		if err != nil {
			return model.ResolvedTarget{}, err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
	}

	if transport.Classify(resp.StatusCode) != transport.ClassOK {
		return model.ResolvedTarget{}, statusError(raw, resp.StatusCode, transport.RetryAfter(resp))
	}

	final := in.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if !isAttachment(resp.Header) && isPageContentType(resp.Header.Get("Content-Type")) &&
		!hasExtension(in.URL, fileExtensions) && !hasExtension(final, fileExtensions) {
		return model.ResolvedTarget{}, newError(KindUnsupported, raw,
			fmt.Errorf("response is a %q page, not a file", resp.Header.Get("Content-Type")))
	}

	name := in.Filename
	if name == "" {
		name = FilenameFromDisposition(resp.Header.Get("Content-Disposition"))
	}
	if name == "" {
		name = FilenameFromURL(final)
	}
	if name == "" {
		name = fallbackFilename
	}

	t := model.ResolvedTarget{
		SourceURL:    in.URL,
		FetchURL:     in.URL,
		RelPath:      joinRel(in.Folder, name),
		ExpectedSize: responseSize(resp),
	}
	if etag := resp.Header.Get("ETag"); etag != "" && !strings.HasPrefix(etag, "W/") {
		t.Identity = model.IdentityHint{Algorithm: model.IdentityETag, Value: etag}
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		t.LastModified = lm
	}

	g.logger.Debug("resolved direct file",
		"url", raw,
		"name", name,
		"size", t.ExpectedSize,
	)
	return t, nil
}

func (g *Generic) do(ctx context.Context, method string, in model.InputURL, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, in.String(), nil)
	if err != nil {
		return nil, newError(KindUnsupported, in.String(), err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, requestError(ctx, in.String(), err)
	}
	return resp, nil
}

// requestError classifies an error returned by Doer.Do.
func requestError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return newError(KindTransient, rawURL, ctx.Err())
	}
	return newError(KindTransient, rawURL, err)
}

// responseSize returns the full size of the resource behind resp,
// or model.UnknownSize.
func responseSize(resp *http.Response) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if total := transport.ContentRangeTotal(resp.Header.Get("Content-Range")); total >= 0 {
			return total
		}
		return model.UnknownSize
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return model.UnknownSize
}

