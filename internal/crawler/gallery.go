package crawler

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/dropfetch/internal/host"
	"github.com/nao1215/dropfetch/internal/model"
)

// defaultItemSelector finds candidate file links when the profile has
// no item selector. Candidates are then filtered by media extension.
const defaultItemSelector = "a[href], img[src], video[src], source[src]"

const maxFolderRunes = 120

// itemAttributes are read in order to find an item's file URL.
var itemAttributes = []string{"href", "data-src", "data-original", "src"}

// Gallery resolves paginated HTML listings (albums, galleries, file
// indexes) into one target per linked file. Items of one album land in a
// folder named after the album title.
type Gallery struct {
	client   Doer
	profiles ProfileSource
	logger   *slog.Logger
}

// GalleryOption configures Gallery.
type GalleryOption func(*Gallery)

// WithGalleryLogger sets the logger.
func WithGalleryLogger(logger *slog.Logger) GalleryOption {
	return func(g *Gallery) {
		g.logger = logger
	}
}

// NewGallery creates the gallery crawler.
func NewGallery(client Doer, profiles ProfileSource, opts ...GalleryOption) *Gallery {
	g := &Gallery{client: client, profiles: profiles, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Crawler.
func (g *Gallery) Name() string {
	return host.CrawlerGallery
}

// Resolve implements Crawler. Pages are fetched lazily: the next page is
// requested only after every item of the current page was consumed.
func (g *Gallery) Resolve(ctx context.Context, in model.InputURL) iter.Seq2[model.ResolvedTarget, error] {
	return func(yield func(model.ResolvedTarget, error) bool) {
		prof := g.profiles.Match(in.Host())
		filter := newPathFilter(prof.IgnorePatterns, prof.FollowPatterns)
		itemSel := prof.ItemSelector
		if itemSel == "" {
			itemSel = defaultItemSelector
		}

		pager := NewPager(g.client, prof.NextPageSelector, prof.MaxPages)
		pager.referer = prof.Referer

		seen := make(map[string]struct{})
		album := ""
		found := 0
		for page, err := range pager.Pages(ctx, in.URL) {
			if err != nil {
				yield(model.ResolvedTarget{}, err)
				return
			}
			if page.Number == 1 {
				album = sanitizeFolder(albumTitle(page.Doc))
			}

			for _, link := range pageItems(page, itemSel, prof.ItemSelector == "") {
				key := link.String()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				if !filter.allows(link) {
					continue
				}
				found++
				if !yield(g.target(in, prof, page, album, link), nil) {
					return
				}
			}
			g.logger.Debug("gallery page parsed",
				"url", page.URL.String(),
				"page", page.Number,
				"items", found,
			)
		}
		if found == 0 && ctx.Err() == nil {
			yield(model.ResolvedTarget{}, newError(KindNotFound, in.String(), errors.New("no items found")))
		}
	}
}

func (g *Gallery) target(in model.InputURL, prof host.Profile, page *Page, album string, link *url.URL) model.ResolvedTarget {
	name := FilenameFromURL(link)
	if name == "" {
		name = fallbackFilename
	}
	referrer := prof.Referer
	if referrer == "" {
		referrer = page.URL.String()
	}
	return model.ResolvedTarget{
		SourceURL:    in.URL,
		FetchURL:     link,
		RelPath:      joinRel(in.Folder, album, name),
		ExpectedSize: model.UnknownSize,
		ResourceID:   link.String(),
		Referrer:     referrer,
	}
}

// pageItems returns the file URLs selected on page in document order.
// With filterMedia set, only links ending in a media extension are kept.
func pageItems(page *Page, selector string, filterMedia bool) []*url.URL {
	var items []*url.URL
	page.Doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range itemAttributes {
			v, ok := s.Attr(attr)
			if !ok {
				continue
			}
			u := resolveURL(page.URL, v)
			if u == nil {
				continue
			}
			if filterMedia && !hasExtension(u, mediaExtensions) {
				continue
			}
			items = append(items, u)
			return
		}
	})
	return items
}

// sanitizeFolder turns a page title into a single path element.
func sanitizeFolder(title string) string {
	title = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, title)
	title = strings.Trim(strings.TrimSpace(title), ".")
	if r := []rune(title); len(r) > maxFolderRunes {
		title = strings.TrimSpace(string(r[:maxFolderRunes]))
	}
	return title
}
