// Package feed implements the per-category pagination controller: it owns the loaded articles,
// the page counter and the total reported upstream, and drives the shared progress signal
// around every fetch.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/0x0BSoD/newsMonkey/internal/model"
	"github.com/0x0BSoD/newsMonkey/internal/newsapi"
)

// FailureNotice is the message shown to the reader when a page could not be loaded.
const FailureNotice = "Failed to load articles. Please check your API key and category."

// Progress values reported around a fetch.
const (
	ProgressStart    = 10
	ProgressReceived = 30
	ProgressApplied  = 70
	ProgressDone     = 100
)

// Fetcher requests one page of top headlines.
type Fetcher interface {
	TopHeadlines(ctx context.Context, q newsapi.Query) (newsapi.Page, error)
}

// Progress receives the loading percentage.
type Progress interface {
	Set(pct int)
}

// Reporter surfaces failure notices.
type Reporter interface {
	Notify(msg string)
}

// Options are passed to the upstream unchanged on every request.
type Options struct {
	Country  string
	APIKey   string
	PageSize int
}

// State is a snapshot of a controller.
type State struct {
	Category     model.Category
	Articles     []model.Article
	Page         int
	TotalResults int
	Loading      bool
	// Fetched is set once the first page attempt has completed.
	Fetched bool
	Failure error
}

// HasMore reports whether the upstream holds articles that are not loaded yet.
func (s State) HasMore() bool {
	return len(s.Articles) < s.TotalResults
}

// Result describes what a Next or LoadNext call did.
type Result struct {
	Issued bool
	Page   int
	Added  []model.Article
}

type Controller struct {
	fetcher  Fetcher
	progress Progress
	reporter Reporter
	opts     Options

	mu       sync.Mutex
	category model.Category
	articles []model.Article
	page     int
	total    int
	loading  bool
	started  bool
	fetched  bool
	failure  error
	gen      uint64
	cancel   context.CancelFunc
}

func New(
	category model.Category,
	fetcher Fetcher,
	progress Progress,
	reporter Reporter,
	opts Options,
) *Controller {
	return &Controller{
		fetcher:  fetcher,
		progress: progress,
		reporter: reporter,
		opts:     opts,
		category: category,
		page:     1,
	}
}

// Start fetches the first page. Calling it again after the controller started is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.start(ctx)
	return err
}

// Next loads page 1 on its first call and the following page afterwards.
func (c *Controller) Next(ctx context.Context) (Result, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if !started {
		return c.start(ctx)
	}
	return c.LoadNext(ctx)
}

func (c *Controller) start(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return Result{}, nil
	}
	fetchCtx, gen, category := c.resetLocked(ctx, c.category)
	c.mu.Unlock()

	added, err := c.fetch(fetchCtx, gen, category, 1)
	return Result{Issued: true, Page: 1, Added: added}, err
}

// SwitchCategory drops all loaded state, abandons any fetch in flight and loads page 1 of
// category.
func (c *Controller) SwitchCategory(ctx context.Context, category model.Category) error {
	c.mu.Lock()
	fetchCtx, gen, category := c.resetLocked(ctx, category)
	c.mu.Unlock()

	_, err := c.fetch(fetchCtx, gen, category, 1)
	return err
}

// LoadNext fetches the following page. It does nothing while a fetch is in flight or when every
// result has been loaded.
func (c *Controller) LoadNext(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.loading || len(c.articles) >= c.total {
		c.mu.Unlock()
		return Result{}, nil
	}
	c.page++
	page := c.page
	fetchCtx, gen, category := c.beginLocked(ctx)
	c.mu.Unlock()

	added, err := c.fetch(fetchCtx, gen, category, page)
	return Result{Issued: true, Page: page, Added: added}, err
}

func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.articles) < c.total
}

func (c *Controller) Category() model.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.category
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Category:     c.category,
		Articles:     slices.Clone(c.articles),
		Page:         c.page,
		TotalResults: c.total,
		Loading:      c.loading,
		Fetched:      c.fetched,
		Failure:      c.failure,
	}
}

// Close abandons the fetch in flight, if any.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.loading = false
}

func (c *Controller) resetLocked(ctx context.Context, category model.Category) (context.Context, uint64, model.Category) {
	c.category = category
	c.started = true
	c.articles = nil
	c.page = 1
	c.total = 0
	c.fetched = false
	c.failure = nil
	return c.beginLocked(ctx)
}

// beginLocked opens a new fetch generation. Any older fetch still running is cancelled and its
// result will be ignored.
func (c *Controller) beginLocked(ctx context.Context) (context.Context, uint64, model.Category) {
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.loading = true

	// the fetch outlives a disconnecting caller; only a newer generation cancels it
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	return fetchCtx, c.gen, c.category
}

func (c *Controller) fetch(ctx context.Context, gen uint64, category model.Category, page int) ([]model.Article, error) {
	c.progress.Set(ProgressStart)

	result, err := c.fetcher.TopHeadlines(ctx, newsapi.Query{
		Country:  c.opts.Country,
		Category: category,
		APIKey:   c.opts.APIKey,
		PageSize: c.opts.PageSize,
		Page:     page,
	})

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		log.Printf("[INFO] discarded stale %s page %d", category, page)
		return nil, nil
	}
	c.loading = false
	c.fetched = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if err != nil {
		c.articles = nil
		c.total = 0
		c.failure = err
		c.mu.Unlock()

		c.progress.Set(ProgressDone)
		log.Printf("[ERROR] failed to fetch %s page %d: %v", category, page, err)
		if c.reporter != nil {
			c.reporter.Notify(fmt.Sprintf("%s (%s page %d: %v)", FailureNotice, category, page, describe(err)))
		}
		return nil, err
	}

	c.progress.Set(ProgressReceived)

	added := result.Articles
	if room := result.TotalResults - len(c.articles); len(added) > room {
		added = added[:max(room, 0)]
	}
	c.articles = append(c.articles, added...)
	c.total = result.TotalResults
	c.failure = nil
	loaded := len(c.articles)
	c.mu.Unlock()

	c.progress.Set(ProgressApplied)
	c.progress.Set(ProgressDone)
	log.Printf("[INFO] loaded %s page %d: %d/%d articles", category, page, loaded, result.TotalResults)

	return slices.Clone(added), nil
}

func describe(err error) string {
	var statusErr *newsapi.StatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.Is(err, newsapi.ErrMalformed):
		return "malformed response"
	default:
		return err.Error()
	}
}
