// Package parser extracts catalog links and item fields from rendered HTML
// using CSS selectors.
package parser

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Selectors names the CSS selectors for each extracted field.
type Selectors struct {
	ItemLink        string
	NextPage        string
	Title           string
	Author          string
	Recommendations string
}

// DefaultSelectors matches the stock catalog markup.
func DefaultSelectors() Selectors {
	return Selectors{
		ItemLink:        "a.item-link",
		NextPage:        "a[rel=next], li.next a",
		Title:           "h1",
		Author:          ".author",
		Recommendations: ".recommendations",
	}
}

// Parser implements crawler.Parser with goquery.
type Parser struct {
	sel Selectors
}

var _ crawler.Parser = (*Parser)(nil)

// New validates the selectors and builds a Parser.
func New(sel Selectors) (*Parser, error) {
	var missing []string
	if strings.TrimSpace(sel.ItemLink) == "" {
		missing = append(missing, "item_link")
	}
	if strings.TrimSpace(sel.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(sel.Author) == "" {
		missing = append(missing, "author")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("parser selectors missing: %s", strings.Join(missing, ", "))
	}
	return &Parser{sel: sel}, nil
}

// ParseListing returns the absolute item links on a listing page, in
// document order without duplicates, plus the next page link if any.
func (p *Parser) ParseListing(html string, pageURL string) (crawler.ListingPage, error) {
	base, doc, err := load(html, pageURL)
	if err != nil {
		return crawler.ListingPage{}, err
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find(p.sel.ItemLink).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		abs, ok := resolve(base, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})

	var next string
	if p.sel.NextPage != "" {
		if href, ok := doc.Find(p.sel.NextPage).First().Attr("href"); ok {
			if abs, ok := resolve(base, href); ok && abs != stripFragment(base) {
				next = abs
			}
		}
	}
	return crawler.ListingPage{Links: links, Next: next}, nil
}

// ParseDetail extracts title, author and the optional recommendation count.
// A missing title or author yields a *crawler.ParseError naming the fields.
func (p *Parser) ParseDetail(html string, pageURL string) (crawler.Detail, error) {
	_, doc, err := load(html, pageURL)
	if err != nil {
		return crawler.Detail{}, err
	}

	detail := crawler.Detail{
		Title:  textOf(doc, p.sel.Title),
		Author: textOf(doc, p.sel.Author),
	}
	var missing []string
	if detail.Title == "" {
		missing = append(missing, "title")
	}
	if detail.Author == "" {
		missing = append(missing, "author")
	}
	if len(missing) > 0 {
		return crawler.Detail{}, &crawler.ParseError{URL: pageURL, Fields: missing, Err: crawler.ErrMissingField}
	}
	if p.sel.Recommendations != "" {
		detail.RecommendationCount = parseCount(textOf(doc, p.sel.Recommendations))
	}
	return detail, nil
}

func load(html, pageURL string) (*url.URL, *goquery.Document, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, &crawler.ParseError{URL: pageURL, Err: fmt.Errorf("parse page url: %w", err)}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, &crawler.ParseError{URL: pageURL, Err: fmt.Errorf("parse html: %w", err)}
	}
	return base, doc, nil
}

func textOf(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find(selector).First().Text()), " ")
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return stripFragment(abs), true
}

func stripFragment(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	clone.RawFragment = ""
	return clone.String()
}

var errNoDigits = errors.New("no digits")

// parseCount reads counts such as "1,234 recommendations" or "2.5k". Text
// without a number counts as zero.
func parseCount(text string) int {
	n, err := countFromText(text)
	if err != nil {
		return 0
	}
	return n
}

func countFromText(text string) (int, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	start := strings.IndexFunc(text, isDigit)
	if start < 0 {
		return 0, errNoDigits
	}
	end := start
	for end < len(text) && (isDigit(rune(text[end])) || text[end] == ',' || text[end] == '.') {
		end++
	}
	number := strings.ReplaceAll(text[start:end], ",", "")
	multiplier := 1.0
	if end < len(text) {
		switch text[end] {
		case 'k':
			multiplier = 1_000
		case 'm':
			multiplier = 1_000_000
		}
	}
	if multiplier == 1 {
		number = strings.ReplaceAll(number, ".", "")
		return strconv.Atoi(number)
	}
	f, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", text, err)
	}
	return int(math.Round(f * multiplier)), nil
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
