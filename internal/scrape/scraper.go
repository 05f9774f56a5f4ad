package scrape

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	fetchTimeout = 5 * time.Second

	// Sites behave differently for obvious bots, so present a regular browser.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	faviconFallbackFmt = "https://www.google.com/s2/favicons?sz=64&domain=%s"
)

// ErrFetchFailed covers every way the remote page can refuse us: timeout,
// network error, non-2xx status, unparseable body.
var ErrFetchFailed = errors.New("could not fetch site metadata")

var (
	// Screen-reader/icon-library artifacts some sites append to titles.
	// Everything from the first match onward is junk.
	junkMarkerRe = regexp.MustCompile(`(?i)Chevron|Vega|Fill|Play`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

type (
	Metadata struct {
		Title   string
		Favicon string
	}

	Scraper struct {
		client *resty.Client
		logger *zap.SugaredLogger
	}
)

func NewScraper(logger *zap.SugaredLogger) *Scraper {
	client := resty.New().
		SetTimeout(fetchTimeout).
		SetHeader("User-Agent", browserUserAgent)

	return &Scraper{
		client: client,
		logger: logger,
	}
}

// Scrape fetches the page once and derives a display title and favicon URL.
// One outbound call per invocation, no retry, no caching.
func (s *Scraper) Scrape(rawURL string) (*Metadata, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(ErrFetchFailed, "parse url")
	}

	resp, err := s.client.R().Get(rawURL)
	if err != nil {
		s.logger.Infow("page fetch failed", "url", rawURL, "error", err)
		return nil, errors.Wrap(ErrFetchFailed, "fetch page")
	}
	if !resp.IsSuccess() {
		s.logger.Infow("page fetch returned non-2xx", "url", rawURL, "status", resp.StatusCode())
		return nil, errors.Wrapf(ErrFetchFailed, "fetch page: status %d", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, errors.Wrap(ErrFetchFailed, "parse html")
	}

	return &Metadata{
		Title:   extractTitle(doc, rawURL),
		Favicon: extractFavicon(doc, pageURL),
	}, nil
}

// extractTitle prefers the Open Graph title since it is meant for display,
// then the document title, then the URL itself.
func extractTitle(doc *goquery.Document, rawURL string) string {
	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if title == "" {
		title = doc.Find("title").First().Text()
	}
	if title == "" {
		title = rawURL
	}
	return cleanTitle(title)
}

func cleanTitle(raw string) string {
	if loc := junkMarkerRe.FindStringIndex(raw); loc != nil {
		raw = raw[:loc[0]]
	}
	raw = whitespaceRe.ReplaceAllString(raw, " ")
	return strings.TrimSpace(raw)
}

// extractFavicon walks the icon link rels in preference order. Relative
// hrefs are resolved against the page origin; a page with no icon link at
// all falls back to the favicon-by-domain service.
func extractFavicon(doc *goquery.Document, pageURL *url.URL) string {
	rels := []string{`link[rel="icon"]`, `link[rel="shortcut icon"]`, `link[rel="apple-touch-icon"]`}

	favicon := ""
	for _, sel := range rels {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && href != "" {
			favicon = href
			break
		}
	}

	if favicon == "" {
		return fmt.Sprintf(faviconFallbackFmt, pageURL.Hostname())
	}

	if !strings.HasPrefix(favicon, "http") {
		origin := pageURL.Scheme + "://" + pageURL.Host
		if !strings.HasPrefix(favicon, "/") {
			favicon = "/" + favicon
		}
		favicon = origin + favicon
	}
	return favicon
}
