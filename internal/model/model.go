// Package model defines the data structures used in the newsMonkey application: the headline
// categories served by the shell and the articles received from the upstream news API.
package model

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Unknown is shown in place of a missing author or source name.
const Unknown = "Unknown"

type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryBusiness      Category = "business"
	CategoryEntertainment Category = "entertainment"
	CategoryHealth        Category = "health"
	CategoryScience       Category = "science"
	CategorySports        Category = "sports"
	CategoryTechnology    Category = "technology"
)

var Categories = []Category{
	CategoryGeneral,
	CategoryBusiness,
	CategoryEntertainment,
	CategoryHealth,
	CategoryScience,
	CategorySports,
	CategoryTechnology,
}

// Title returns the category name with its first letter upper-cased.
func (c Category) Title() string {
	r, size := utf8.DecodeRuneInString(string(c))
	if r == utf8.RuneError {
		return string(c)
	}
	return string(unicode.ToUpper(r)) + string(c)[size:]
}

func (c Category) String() string {
	return string(c)
}

type Article struct {
	Title       string
	Description string
	ImageURL    string
	URL         string
	Author      string
	PublishedAt time.Time
	SourceName  string
}

// WithDefaults fills the fields that have a display fallback.
func (a Article) WithDefaults() Article {
	if strings.TrimSpace(a.Author) == "" {
		a.Author = Unknown
	}
	if strings.TrimSpace(a.SourceName) == "" {
		a.SourceName = Unknown
	}
	return a
}
