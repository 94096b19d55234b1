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

// Workable parses apply.workable.com pages.
// Posting URL shape: https://apply.workable.com/<company>/<job-id-or-slug>
type Workable struct {
	fetcher *Fetcher
	// base overrides the board host; empty means production.
	base string
}

func (w *Workable) boardBase() string {
	if w.base != "" {
		return w.base
	}
	return "https://apply.workable.com"
}

// Platform implements Adapter.
func (*Workable) Platform() string { return "workable" }

// Parse implements Adapter.
func (w *Workable) Parse(ctx context.Context, postingURL string) (posting.Raw, error) {
	u := normalize.CanonicalURL(postingURL)
	parts := pathParts(u)
	var companySlug, sourceID string
	if len(parts) > 0 {
		companySlug = parts[0]
	}
	if len(parts) > 1 {
		sourceID = parts[1]
	}

	body, err := w.fetcher.Get(ctx, u)
	if err != nil {
		return posting.Raw{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return posting.Raw{}, fmt.Errorf("parse workable page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	title = trimTitleSuffix(title)

	loc := strings.TrimSpace(doc.Find("[class*='location'], [class*='job-location']").First().Text())

	return posting.Raw{
		Company:  companySlug,
		Title:    title,
		Location: loc,
		URL:      u,
		Source:   w.Platform(),
		SourceID: sourceID,
	}, nil
}

// ListCompanyPostingURLs implements Adapter.
func (w *Workable) ListCompanyPostingURLs(ctx context.Context, companySlug string) ([]string, error) {
	boardURL := w.boardBase() + "/" + companySlug
	body, err := w.fetcher.Get(ctx, boardURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse workable board: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, companySlug) {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = w.boardBase() + href
		}
		links = append(links, normalize.CanonicalURL(href))
	})
	return dedupeURLs(links), nil
}
