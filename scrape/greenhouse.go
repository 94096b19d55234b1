package scrape

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"jobhunter/normalize"
	"jobhunter/pkg/posting"
)

// Greenhouse parses boards.greenhouse.io pages.
// Posting URL shape: https://boards.greenhouse.io/<company>/jobs/<id>
type Greenhouse struct {
	fetcher *Fetcher
	// base overrides the board host; empty means production.
	base string
}

func (g *Greenhouse) boardBase() string {
	if g.base != "" {
		return g.base
	}
	return "https://boards.greenhouse.io"
}

// Platform implements Adapter.
func (*Greenhouse) Platform() string { return "greenhouse" }

// Parse implements Adapter.
func (g *Greenhouse) Parse(ctx context.Context, postingURL string) (posting.Raw, error) {
	u := normalize.CanonicalURL(postingURL)
	parts := pathParts(u)
	var companySlug, sourceID string
	if len(parts) > 0 {
		companySlug = parts[0]
	}
	if len(parts) > 2 && parts[1] == "jobs" {
		sourceID = parts[2]
	}

	body, err := g.fetcher.Get(ctx, u)
	if err != nil {
		return posting.Raw{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return posting.Raw{}, fmt.Errorf("parse greenhouse page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	title = trimTitleSuffix(title)

	loc := strings.TrimSpace(doc.Find("[class*='location'], [class*='opening-location']").First().Text())

	return posting.Raw{
		Company:  companySlug,
		Title:    title,
		Location: loc,
		URL:      u,
		Source:   g.Platform(),
		SourceID: sourceID,
	}, nil
}

// ListCompanyPostingURLs implements Adapter.
func (g *Greenhouse) ListCompanyPostingURLs(ctx context.Context, companySlug string) ([]string, error) {
	boardURL := g.boardBase() + "/" + companySlug
	body, err := g.fetcher.Get(ctx, boardURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse greenhouse board: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "/jobs/") || !strings.Contains(href, companySlug) {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = g.boardBase() + href
		}
		links = append(links, normalize.CanonicalURL(href))
	})
	return dedupeURLs(links), nil
}
