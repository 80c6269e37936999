// Package render turns articles into HTML cards and lays out the category pages around them.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/0x0BSoD/newsMonkey/internal/model"
	"github.com/0x0BSoD/newsMonkey/internal/reader"
)

//go:embed templates/*.html.tmpl
var templatesFS embed.FS

const (
	// DateLayout matches how browsers print a date in GMT.
	DateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

	maxDescription = 120
)

type Card struct {
	Key         string
	Title       string
	Description string
	ImageURL    string
	URL         string
	ReaderPath  string
	Author      string
	Published   string
	Source      string
}

// NewCard maps an article onto a card. Missing fields degrade to empty text or "Unknown".
func NewCard(a model.Article) Card {
	a = a.WithDefaults()

	var published string
	if !a.PublishedAt.IsZero() {
		published = a.PublishedAt.UTC().Format(DateLayout)
	}

	var readerPath string
	if a.URL != "" {
		readerPath = "/read?" + url.Values{"url": {a.URL}}.Encode()
	}

	return Card{
		Key:         a.URL,
		Title:       strings.TrimSpace(a.Title),
		Description: shorten(strings.TrimSpace(a.Description), maxDescription),
		ImageURL:    a.ImageURL,
		URL:         a.URL,
		ReaderPath:  readerPath,
		Author:      a.Author,
		Published:   published,
		Source:      a.SourceName,
	}
}

func NewCards(articles []model.Article) []Card {
	return lo.Map(articles, func(a model.Article, _ int) Card {
		return NewCard(a)
	})
}

type NavItem struct {
	Title  string
	Path   string
	Active bool
}

// Page is the category page shell. The cards are fetched by the page itself from MorePath,
// starting with the first batch.
type Page struct {
	AppName  string
	Category model.Category
	Nav      []NavItem
	Loading  bool
	HasMore  bool
	Progress int
	MorePath string
}

type ReaderPage struct {
	AppName    string
	Nav        []NavItem
	View       reader.View
	Paragraphs []string
}

type Renderer struct {
	tmpl *template.Template
}

func New() (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Page(w io.Writer, p Page) error {
	return r.tmpl.ExecuteTemplate(w, "page", p)
}

func (r *Renderer) Cards(w io.Writer, cards []Card) error {
	return r.tmpl.ExecuteTemplate(w, "cards", cards)
}

func (r *Renderer) Reader(w io.Writer, p ReaderPage) error {
	if p.Paragraphs == nil {
		p.Paragraphs = Paragraphs(p.View.Text)
	}
	return r.tmpl.ExecuteTemplate(w, "reader", p)
}

// Paragraphs splits extracted text on blank lines.
func Paragraphs(text string) []string {
	return lo.FilterMap(strings.Split(text, "\n\n"), func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	})
}

func shorten(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:limit])) + "..."
}
