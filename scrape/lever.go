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

// Lever parses jobs.lever.co pages.
// Posting URL shape: https://jobs.lever.co/<company>/<id>
type Lever struct {
	fetcher *Fetcher
	// base overrides the board host; empty means production.
	base string
}

func (l *Lever) boardBase() string {
	if l.base != "" {
		return l.base
	}
	return "https://jobs.lever.co"
}

// Platform implements Adapter.
func (*Lever) Platform() string { return "lever" }

// Parse implements Adapter.
func (l *Lever) Parse(ctx context.Context, postingURL string) (posting.Raw, error) {
	u := normalize.CanonicalURL(postingURL)
	parts := pathParts(u)
	var companySlug, sourceID string
	if len(parts) > 0 {
		companySlug = parts[0]
	}
	if len(parts) > 1 {
		sourceID = parts[1]
	}

	body, err := l.fetcher.Get(ctx, u)
	if err != nil {
		return posting.Raw{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return posting.Raw{}, fmt.Errorf("parse lever page: %w", err)
	}

	// Lever puts the role in an h2; h1 carries the company banner.
	title := strings.TrimSpace(doc.Find("h2").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	title = trimTitleSuffix(title)

	loc := strings.TrimSpace(doc.Find("[class*='location'], [class*='posting-categories']").First().Text())
	// The categories block lists location alongside team and commitment;
	// take the first token.
	if i := strings.IndexAny(loc, ",|/"); i >= 0 {
		loc = strings.TrimSpace(loc[:i])
	}

	return posting.Raw{
		Company:  companySlug,
		Title:    title,
		Location: loc,
		URL:      u,
		Source:   l.Platform(),
		SourceID: sourceID,
	}, nil
}

// ListCompanyPostingURLs implements Adapter.
func (l *Lever) ListCompanyPostingURLs(ctx context.Context, companySlug string) ([]string, error) {
	boardURL := l.boardBase() + "/" + companySlug
	body, err := l.fetcher.Get(ctx, boardURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse lever board: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		// Apply links point at the same posting; keep only the posting page.
		if !strings.Contains(href, companySlug) || strings.HasSuffix(href, "/apply") {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = l.boardBase() + href
		}
		links = append(links, normalize.CanonicalURL(href))
	})
	return dedupeURLs(links), nil
}
