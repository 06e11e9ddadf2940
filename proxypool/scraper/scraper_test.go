package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	o := DefaultOptions()
	o.Timeout = 2 * time.Second
	o.MaxBytes = 1024
	o.MaxRedirects = 2
	return o
}

func TestSubscriptionScraper_PlainText(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "trojan://pw@h:443#a\nss://YWVzLTI1Ni1nY206cHc@h:8388#b\n")
	}))
	defer srv.Close()

	s := NewSubscriptionScraper(srv.URL, testOptions())
	text, err := s.Scrape(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "trojan://pw@h:443#a\nss://YWVzLTI1Ni1nY206cHc@h:8388#b\n", text)
	assert.Equal(t, DefaultOptions().UserAgent, gotUA)
	assert.Equal(t, srv.URL, s.Name())
}

func TestSubscriptionScraper_HTML(t *testing.T) {
	page := `<html><body>
<p>ignored prose</p>
<pre><code>vmess://abc</code></pre>
<textarea>trojan://pw@h:443#t</textarea>
<a href="ss://xyz#s">copy</a>
<a href="https://example.com">home</a>
<a href="trojan://pw@h:443#t">dup</a>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxBytes = 0
	text, err := NewSubscriptionScraper(srv.URL, opts).Scrape(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"vmess://abc", "trojan://pw@h:443#t", "ss://xyz#s"}, strings.Split(text, "\n"))
}

func TestSubscriptionScraper_Failures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 2048))
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("status", func(t *testing.T) {
		_, err := NewSubscriptionScraper(srv.URL+"/missing", testOptions()).Scrape(context.Background())
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, http.StatusNotFound, fe.StatusCode)
		assert.Contains(t, fe.Error(), "status 404")
	})

	t.Run("too large", func(t *testing.T) {
		_, err := NewSubscriptionScraper(srv.URL+"/huge", testOptions()).Scrape(context.Background())
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("redirect loop", func(t *testing.T) {
		_, err := NewSubscriptionScraper(srv.URL+"/loop", testOptions()).Scrape(context.Background())
		assert.ErrorIs(t, err, ErrTooManyRedirects)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := NewSubscriptionScraper(srv.URL+"/slow", testOptions()).Scrape(ctx)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestFileScraper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.txt")
	require.NoError(t, os.WriteFile(path, []byte("trojan://pw@h:443"), 0o644))

	s := New("file://"+path, testOptions())
	require.IsType(t, &FileScraper{}, s)
	text, err := s.Scrape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "trojan://pw@h:443", text)

	_, err = New(filepath.Join(dir, "absent.txt"), testOptions()).Scrape(context.Background())
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_PicksHTTP(t *testing.T) {
	assert.IsType(t, &SubscriptionScraper{}, New("HTTPS://example.com/sub", testOptions()))
}
