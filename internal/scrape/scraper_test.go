package scrape

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScraper() *Scraper {
	return NewScraper(zap.NewNop().Sugar())
}

func servePage(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapeTitleResolution(t *testing.T) {
	t.Run("prefers og:title", func(t *testing.T) {
		srv := servePage(t, `<html><head>
			<meta property="og:title" content="OG Title">
			<title>Document Title</title>
		</head><body></body></html>`)

		meta, err := newTestScraper().Scrape(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "OG Title", meta.Title)
	})

	t.Run("falls back to document title", func(t *testing.T) {
		srv := servePage(t, `<html><head><title>Document Title</title></head><body></body></html>`)

		meta, err := newTestScraper().Scrape(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "Document Title", meta.Title)
	})

	t.Run("falls back to the url itself", func(t *testing.T) {
		srv := servePage(t, `<html><head></head><body></body></html>`)

		meta, err := newTestScraper().Scrape(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, srv.URL, meta.Title)
	})
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"junk marker cut", "My Page  Title Chevron Icon", "My Page Title"},
		{"case insensitive marker", "Dashboard fill icon set", "Dashboard"},
		{"whitespace collapsed", "One\n\tTwo   Three", "One Two Three"},
		{"clean title untouched", "Plain Title", "Plain Title"},
		{"marker at start", "Chevron something", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanTitle(tc.in))
		})
	}
}

func TestScrapeFaviconResolution(t *testing.T) {
	t.Run("relative href resolved against origin", func(t *testing.T) {
		srv := servePage(t, `<html><head><link rel="icon" href="/favicon.ico"></head></html>`)

		meta, err := newTestScraper().Scrape(srv.URL + "/a")
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/favicon.ico", meta.Favicon)
	})

	t.Run("relative href without leading slash", func(t *testing.T) {
		srv := servePage(t, `<html><head><link rel="shortcut icon" href="static/icon.png"></head></html>`)

		meta, err := newTestScraper().Scrape(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/static/icon.png", meta.Favicon)
	})

	t.Run("absolute href passes through", func(t *testing.T) {
		srv := servePage(t, `<html><head><link rel="icon" href="https://cdn.example.com/icon.png"></head></html>`)

		meta, err := newTestScraper().Scrape(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/icon.png", meta.Favicon)
	})

	t.Run("icon rel wins over apple-touch-icon", func(t *testing.T) {
		srv := servePage(t, `<html><head>
			<link rel="apple-touch-icon" href="/touch.png">
			<link rel="icon" href="/icon.png">
		</head></html>`)

		meta, err := newTestScraper().Scrape(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/icon.png", meta.Favicon)
	})

	t.Run("no icon link falls back to favicon service", func(t *testing.T) {
		srv := servePage(t, `<html><head><title>t</title></head></html>`)

		meta, err := newTestScraper().Scrape(srv.URL)
		require.NoError(t, err)

		u, uErr := url.Parse(srv.URL)
		require.NoError(t, uErr)
		assert.Equal(t, fmt.Sprintf("https://www.google.com/s2/favicons?sz=64&domain=%s", u.Hostname()), meta.Favicon)
	})
}

func TestScrapeFetchFailures(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		_, err := newTestScraper().Scrape(srv.URL)
		assert.ErrorIs(t, err, ErrFetchFailed)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, err := newTestScraper().Scrape(srv.URL)
		assert.ErrorIs(t, err, ErrFetchFailed)
	})
}
