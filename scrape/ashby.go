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

// Ashby parses jobs.ashbyhq.com pages.
// Posting URL shape: https://jobs.ashbyhq.com/<company>/<job-id-or-slug>
type Ashby struct {
	fetcher *Fetcher
	// base overrides the board host; empty means production.
	base string
}

func (a *Ashby) boardBase() string {
	if a.base != "" {
		return a.base
	}
	return "https://jobs.ashbyhq.com"
}

// Platform implements Adapter.
func (*Ashby) Platform() string { return "ashby" }

// Parse implements Adapter.
func (a *Ashby) Parse(ctx context.Context, postingURL string) (posting.Raw, error) {
	u := normalize.CanonicalURL(postingURL)
	parts := pathParts(u)
	var companySlug, sourceID string
	if len(parts) > 0 {
		companySlug = parts[0]
	}
	if len(parts) > 1 {
		sourceID = parts[1]
	}

	body, err := a.fetcher.Get(ctx, u)
	if err != nil {
		return posting.Raw{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return posting.Raw{}, fmt.Errorf("parse ashby page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	title = trimTitleSuffix(title)

	loc := strings.TrimSpace(doc.Find("[class*='location'], [class*='Location']").First().Text())

	return posting.Raw{
		Company:  companySlug,
		Title:    title,
		Location: loc,
		URL:      u,
		Source:   a.Platform(),
		SourceID: sourceID,
	}, nil
}

// ListCompanyPostingURLs implements Adapter.
func (a *Ashby) ListCompanyPostingURLs(ctx context.Context, companySlug string) ([]string, error) {
	boardURL := a.boardBase() + "/" + companySlug
	body, err := a.fetcher.Get(ctx, boardURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ashby board: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "/"+companySlug+"/") {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = a.boardBase() + href
		}
		links = append(links, normalize.CanonicalURL(href))
	})

	// Board navigation links live under /jobs/; posting pages do not.
	var out []string
	for _, u := range dedupeURLs(links) {
		if strings.Contains(u, "/jobs/") {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
