// Package newsapi implements the client for the upstream top-headlines endpoint.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/0x0BSoD/newsMonkey/internal/model"
)

const DefaultBaseURL = "https://newsapi.org/v2"

const userAgent = "newsMonkey/1.0"

var (
	ErrTransport = errors.New("newsapi: transport failure")
	ErrStatus    = errors.New("newsapi: unsuccessful response")
	ErrMalformed = errors.New("newsapi: malformed response")
)

// StatusError is returned for a non-success HTTP status or an "error" document.
// It matches ErrStatus with errors.Is.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("newsapi: status %d", e.StatusCode)
	}
	return fmt.Sprintf("newsapi: status %d: %s (%s)", e.StatusCode, e.Message, e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}

// Query holds the request parameters. None of them are validated locally.
type Query struct {
	Country  string
	Category model.Category
	APIKey   string
	PageSize int
	Page     int
}

func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("country", q.Country)
	v.Set("category", q.Category.String())
	v.Set("apiKey", q.APIKey)
	v.Set("pageSize", strconv.Itoa(q.PageSize))
	v.Set("page", strconv.Itoa(q.Page))
	return v
}

type Page struct {
	Articles     []model.Article
	TotalResults int
}

type document struct {
	Status       string            `json:"status"`
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	TotalResults int               `json:"totalResults"`
	Articles     []documentArticle `json:"articles"`
}

type documentArticle struct {
	Source *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
}

// headerTransport stamps every outgoing request with the client's User-Agent;
// the upstream rejects anonymous clients.
type headerTransport struct {
	base http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(req)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a client. A non-positive rps disables client-side rate limiting.
func New(baseURL string, timeout time.Duration, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: headerTransport{base: http.DefaultTransport},
			Timeout:   timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Client) TopHeadlines(ctx context.Context, q Query) (Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/top-headlines?"+q.Values().Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	var doc document
	decodeErr := json.Unmarshal(body, &doc)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// the error document is best effort; the status alone decides
		return Page{}, &StatusError{StatusCode: resp.StatusCode, Code: doc.Code, Message: doc.Message}
	}
	if decodeErr != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrMalformed, decodeErr)
	}
	if doc.Status == "error" {
		return Page{}, &StatusError{StatusCode: resp.StatusCode, Code: doc.Code, Message: doc.Message}
	}
	if doc.TotalResults < 0 {
		return Page{}, fmt.Errorf("%w: negative totalResults %d", ErrMalformed, doc.TotalResults)
	}

	return Page{
		Articles: lo.Map(doc.Articles, func(a documentArticle, _ int) model.Article {
			return a.toModel()
		}),
		TotalResults: doc.TotalResults,
	}, nil
}

func (a documentArticle) toModel() model.Article {
	article := model.Article{
		Title:       a.Title,
		Description: a.Description,
		ImageURL:    a.URLToImage,
		URL:         a.URL,
		Author:      a.Author,
	}
	if a.Source != nil {
		article.SourceName = a.Source.Name
	}
	if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
		article.PublishedAt = t.UTC()
	}
	return article.WithDefaults()
}
