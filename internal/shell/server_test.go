package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x0BSoD/newsMonkey/internal/feed"
	"github.com/0x0BSoD/newsMonkey/internal/newsapi"
	"github.com/0x0BSoD/newsMonkey/internal/reader"
	"github.com/0x0BSoD/newsMonkey/internal/render"
)

type upstream struct {
	mu       sync.Mutex
	queries  []url.Values
	total    int
	failPage int
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	u.mu.Lock()
	u.queries = append(u.queries, q)
	total, failPage := u.total, u.failPage
	u.mu.Unlock()

	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	if page == failPage {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","code":"unexpectedError","message":"boom"}`))
		return
	}

	type article struct {
		Source      map[string]string `json:"source"`
		Title       string            `json:"title"`
		URL         string            `json:"url"`
		PublishedAt string            `json:"publishedAt"`
	}
	var articles []article
	for i := (page - 1) * size; i < page*size && i < total; i++ {
		articles = append(articles, article{
			Source:      map[string]string{"name": "Wire"},
			Title:       fmt.Sprintf("%s story %d", q.Get("category"), i),
			URL:         fmt.Sprintf("https://example.com/%s/%d", q.Get("category"), i),
			PublishedAt: "2024-05-01T12:00:00Z",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"totalResults": total,
		"articles":     articles,
	})
}

func (u *upstream) Queries() []url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]url.Values(nil), u.queries...)
}

func (u *upstream) set(total, failPage int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.total, u.failPage = total, failPage
}

type fakeReader struct{}

func (fakeReader) Read(ctx context.Context, rawURL string) (reader.View, error) {
	if !strings.HasPrefix(rawURL, "https://") {
		return reader.View{}, reader.ErrInvalidURL
	}
	return reader.View{
		URL:      rawURL,
		Title:    "Readable",
		Summary:  "In short.",
		Text:     "Body text.",
		Markdown: "Body **text**.",
	}, nil
}

type env struct {
	upstream *upstream
	app      *Server
	server   *httptest.Server
	client   *http.Client
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()

	up := &upstream{total: 20}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	renderer, err := render.New()
	require.NoError(t, err)

	if opts.AppName == "" {
		opts.AppName = "NewsMonkey"
	}
	if opts.Feed == (feed.Options{}) {
		opts.Feed = feed.Options{Country: "us", APIKey: "key", PageSize: 5}
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.ProgressFinishDelay == 0 {
		opts.ProgressFinishDelay = time.Hour
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := New(opts, newsapi.New(upSrv.URL, 5*time.Second, 0), nil, fakeReader{}, renderer, logger)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	return &env{upstream: up, app: app, server: srv, client: newClient(t)}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (e *env) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func cardsIn(t *testing.T, resp *http.Response) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return doc.Find(".card")
}

func TestServer_PageIsShellOnly(t *testing.T) {
	e := newEnv(t, Options{})

	resp := e.get(t, "/technology")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 0, doc.Find(".card").Length())
	_, hidden := doc.Find("#spinner").Attr("hidden")
	assert.False(t, hidden)
	assert.Empty(t, e.upstream.Queries())
}

func TestServer_InfiniteScroll(t *testing.T) {
	e := newEnv(t, Options{})
	e.upstream.set(12, 0)

	e.get(t, "/technology")

	resp := e.get(t, "/technology/more")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(headerHasMore))
	assert.Equal(t, 5, cardsIn(t, resp).Length())

	resp = e.get(t, "/technology/more")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(headerHasMore))
	assert.Equal(t, 5, cardsIn(t, resp).Length())

	resp = e.get(t, "/technology/more")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "false", resp.Header.Get(headerHasMore))
	assert.Equal(t, 2, cardsIn(t, resp).Length())

	resp = e.get(t, "/technology/more")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "false", resp.Header.Get(headerHasMore))

	queries := e.upstream.Queries()
	require.Len(t, queries, 3)
	for i, q := range queries {
		assert.Equal(t, "technology", q.Get("category"))
		assert.Equal(t, "us", q.Get("country"))
		assert.Equal(t, "key", q.Get("apiKey"))
		assert.Equal(t, "5", q.Get("pageSize"))
		assert.Equal(t, strconv.Itoa(i+1), q.Get("page"))
	}

	// opening the page again starts over from page 1
	e.get(t, "/technology")
	resp = e.get(t, "/technology/more")
	assert.Equal(t, 5, cardsIn(t, resp).Length())
	queries = e.upstream.Queries()
	require.Len(t, queries, 4)
	assert.Equal(t, "1", queries[3].Get("page"))
}

func TestServer_FailureResetsFeed(t *testing.T) {
	e := newEnv(t, Options{})
	e.upstream.set(20, 3)

	e.get(t, "/technology")
	e.get(t, "/technology/more")
	e.get(t, "/technology/more")

	resp := e.get(t, "/technology/more")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, feed.FailureNotice, resp.Header.Get(headerFeedError))
	assert.Equal(t, "false", resp.Header.Get(headerHasMore))

	resp = e.get(t, "/technology/more")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(headerFeedError))
	assert.Len(t, e.upstream.Queries(), 3)

	// selecting the category again starts over from page 1
	e.upstream.set(20, 0)
	e.get(t, "/technology")
	resp = e.get(t, "/technology/more")
	assert.Equal(t, 5, cardsIn(t, resp).Length())
	last := e.upstream.Queries()[3]
	assert.Equal(t, "1", last.Get("page"))
}

func TestServer_FailedFirstPage(t *testing.T) {
	e := newEnv(t, Options{})
	e.upstream.set(20, 1)

	resp := e.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Failed to load articles. Please try again later.")

	resp = e.get(t, "/health/more")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, feed.FailureNotice, resp.Header.Get(headerFeedError))
	assert.Equal(t, "false", resp.Header.Get(headerHasMore))
}

func TestServer_TabsPageIndependently(t *testing.T) {
	e := newEnv(t, Options{})

	e.get(t, "/technology")
	e.get(t, "/technology/more")

	// a second tab of the same browser opens another category
	e.get(t, "/sports")
	resp := e.get(t, "/sports/more")
	assert.Equal(t, 5, cardsIn(t, resp).Length())

	resp = e.get(t, "/technology/more")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(headerHasMore))
	assert.Equal(t, 5, cardsIn(t, resp).Length())

	resp = e.get(t, "/sports/more")
	assert.Equal(t, 5, cardsIn(t, resp).Length())

	queries := e.upstream.Queries()
	require.Len(t, queries, 4)
	assert.Equal(t, "technology", queries[2].Get("category"))
	assert.Equal(t, "2", queries[2].Get("page"))
	assert.Equal(t, "sports", queries[3].Get("category"))
	assert.Equal(t, "2", queries[3].Get("page"))
}

func TestServer_Routes(t *testing.T) {
	e := newEnv(t, Options{})

	for _, route := range Routes {
		e.client = newClient(t)
		resp := e.get(t, route.Path)
		require.Equal(t, http.StatusOK, resp.StatusCode, route.Path)

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, route.Category.Title()+" - NewsMonkey", doc.Find("title").Text())

		resp = e.get(t, route.MorePath())
		require.Equal(t, http.StatusOK, resp.StatusCode, route.MorePath())

		queries := e.upstream.Queries()
		assert.Equal(t, route.Category.String(), queries[len(queries)-1].Get("category"))
	}

	resp := e.get(t, "/weather")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_SessionsAreIndependent(t *testing.T) {
	e := newEnv(t, Options{})

	e.get(t, "/sports")
	e.get(t, "/sports/more")

	other := newClient(t)
	resp, err := other.Get(e.server.URL + "/sports/more")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, e.upstream.Queries(), 1)
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line != "\n" {
			return line
		}
	}
}

func TestServer_ProgressStreamFollowsFirstPage(t *testing.T) {
	e := newEnv(t, Options{})
	e.get(t, "/science")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.server.URL+"/progress", nil)
	require.NoError(t, err)

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := bufio.NewReader(resp.Body)
	assert.Equal(t, "data: 0\n", readEvent(t, events))

	more := e.get(t, "/science/more")
	require.Equal(t, http.StatusOK, more.StatusCode)

	// the finish delay is an hour, so the bar stays full after the load
	for _, want := range []int{feed.ProgressStart, feed.ProgressReceived, feed.ProgressApplied, feed.ProgressDone} {
		assert.Equal(t, fmt.Sprintf("data: %d\n", want), readEvent(t, events))
	}
}

func TestServer_ShutdownWithOpenProgressStream(t *testing.T) {
	e := newEnv(t, Options{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- e.app.Serve(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "data: 0\n", readEvent(t, bufio.NewReader(resp.Body)))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop while a progress stream was open")
	}
}

func TestServer_Reader(t *testing.T) {
	e := newEnv(t, Options{})
	e.get(t, "/technology")
	e.get(t, "/technology/more")

	article := url.QueryEscape("https://example.com/technology/0")

	resp := e.get(t, "/read?url="+article)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Readable", doc.Find("h1").Text())
	assert.Equal(t, "In short.", doc.Find(".summary").Text())

	resp = e.get(t, "/read?format=markdown&url="+article)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "# Readable\n\n> In short.\n\nBody **text**.\n\n[Original](https://example.com/technology/0)\n", string(body))
}

func TestServer_ReaderRefusesUnknownURLs(t *testing.T) {
	e := newEnv(t, Options{})
	e.get(t, "/technology")
	e.get(t, "/technology/more")

	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"http://169.254.169.254/latest/meta-data/",
		"https://example.com/technology/19",
		"ftp://nowhere",
		"",
	} {
		resp := e.get(t, "/read?url="+url.QueryEscape(raw))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, raw)
	}
}

func TestServer_RateLimit(t *testing.T) {
	e := newEnv(t, Options{ClientRPS: 0.001, ClientBurst: 1})

	resp := e.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.get(t, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRoute_MorePath(t *testing.T) {
	assert.Equal(t, "/more", Routes[0].MorePath())
	assert.Equal(t, "/technology/more", Route{Path: "/technology"}.MorePath())
}
