// Package reader builds a distraction-free view of an article page: the readable text is
// extracted from the publisher's HTML and, when a summarizer is configured, condensed.
package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const maxPageSize = 5 << 20

var (
	ErrInvalidURL = errors.New("reader: invalid article url")
	ErrFetch      = errors.New("reader: failed to fetch article")
	ErrForbidden  = errors.New("reader: address not allowed")
	ErrTooLarge   = errors.New("reader: article page too large")
)

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type View struct {
	URL      string
	Title    string
	Byline   string
	SiteName string
	Image    string
	Excerpt  string
	HTML     string
	Text     string
	Markdown string
	Summary  string
}

type Reader struct {
	client     *http.Client
	summarizer Summarizer
}

// New creates a Reader. summarizer may be nil. Article pages are only downloaded from public
// addresses, redirects included.
func New(timeout time.Duration, summarizer Summarizer) *Reader {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: publicOnly,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Reader{
		client:     &http.Client{Timeout: timeout, Transport: transport},
		summarizer: summarizer,
	}
}

// publicOnly is a dialer control that refuses loopback, private, link-local and other
// non-routable addresses.
func publicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbidden, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbidden, address)
	}

	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrForbidden, address)
	}
	return nil
}

func (r *Reader) Read(ctx context.Context, rawURL string) (View, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return View{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	body, err := r.download(ctx, pageURL)
	if err != nil {
		return View{}, err
	}

	doc, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return View{}, fmt.Errorf("extract %s: %w", pageURL, err)
	}

	view := View{
		URL:      pageURL.String(),
		Title:    doc.Title,
		Byline:   doc.Byline,
		SiteName: doc.SiteName,
		Image:    doc.Image,
		Excerpt:  doc.Excerpt,
		HTML:     doc.Content,
		Text:     cleanupText(doc.TextContent),
	}
	fillFromMeta(&view, body)

	if view.HTML != "" {
		md, err := htmltomarkdown.ConvertString(view.HTML)
		if err != nil {
			log.Printf("[ERROR] failed to convert %s to markdown: %v", view.URL, err)
			md = view.Text
		}
		view.Markdown = md
	}

	if r.summarizer != nil && view.Text != "" {
		summary, err := r.summarizer.Summarize(ctx, view.Text)
		if err != nil {
			log.Printf("[ERROR] failed to summarize %s: %v", view.URL, err)
		} else {
			view.Summary = summary
		}
	}

	return view, nil
}

func (r *Reader) download(ctx context.Context, pageURL *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; newsMonkey reader)")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if len(body) > maxPageSize {
		return nil, fmt.Errorf("%w: %w: more than %d bytes", ErrFetch, ErrTooLarge, maxPageSize)
	}
	return body, nil
}

// fillFromMeta completes the view from OpenGraph tags when extraction left gaps.
func fillFromMeta(view *View, body []byte) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}

	meta := func(property string) string {
		v, _ := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).First().Attr("content")
		return strings.TrimSpace(v)
	}

	if view.Title == "" {
		view.Title = meta("og:title")
	}
	if view.Title == "" {
		view.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if view.Image == "" {
		view.Image = meta("og:image")
	}
	if view.SiteName == "" {
		view.SiteName = meta("og:site_name")
	}
	if view.Excerpt == "" {
		view.Excerpt = meta("og:description")
	}
}

var redundantNewLines = regexp.MustCompile(`\n{3,}`)

func cleanupText(text string) string {
	return strings.TrimSpace(redundantNewLines.ReplaceAllString(text, "\n\n"))
}
