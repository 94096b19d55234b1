// Package search discovers posting URLs through the Google Custom Search
// JSON API, scoped to the supported ATS hosts.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// DefaultSites are the site: filters for the supported ATS platforms.
var DefaultSites = []string{
	"site:greenhouse.io",
	"site:jobs.lever.co",
	"site:jobs.ashbyhq.com",
	"site:apply.workable.com",
}

// atsHosts gates which result links count as posting URLs.
var atsHosts = []string{
	"greenhouse.io",
	"jobs.lever.co",
	"jobs.ashbyhq.com",
	"apply.workable.com",
}

// QueryOptions shapes the generated search queries.
type QueryOptions struct {
	// Roles are role keywords, OR-combined as quoted phrases.
	Roles []string
	// RemoteOnly adds a quoted "Remote" term.
	RemoteOnly bool
	// Days is a recency window used to derive the after: date.
	Days int
	// After is an explicit YYYY-MM-DD lower bound; it overrides Days.
	After string
	// Sites are site: filters; DefaultSites when empty.
	Sites []string
	// Now is the clock for computing After from Days. time.Now when nil.
	Now func() time.Time
}

// BuildQueries returns one query string per site filter.
func BuildQueries(opts QueryOptions) []string {
	sites := opts.Sites
	if len(sites) == 0 {
		sites = DefaultSites
	}

	after := opts.After
	if after == "" && opts.Days > 0 {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		after = now().UTC().AddDate(0, 0, -opts.Days).Format("2006-01-02")
	}

	var rolePart string
	if len(opts.Roles) > 0 {
		quoted := make([]string, len(opts.Roles))
		for i, r := range opts.Roles {
			quoted[i] = fmt.Sprintf("%q", r)
		}
		rolePart = "(" + strings.Join(quoted, " OR ") + ")"
	}

	queries := make([]string, 0, len(sites))
	for _, site := range sites {
		terms := []string{site}
		if rolePart != "" {
			terms = append(terms, rolePart)
		}
		if opts.RemoteOnly {
			terms = append(terms, `"Remote"`)
		}
		if after != "" {
			terms = append(terms, "after:"+after)
		}
		queries = append(queries, strings.Join(terms, " "))
	}
	return queries
}

// DateRestrict maps a day window to the API's dateRestrict parameter.
func DateRestrict(days int) string {
	switch {
	case days <= 0:
		return ""
	case days <= 1:
		return "d1"
	case days <= 7:
		return fmt.Sprintf("d%d", days)
	case days <= 30:
		return "m1"
	default:
		return "y1"
	}
}

// FilterATSLinks keeps URLs on supported ATS hosts, deduplicated in order.
func FilterATSLinks(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Host)
		supported := false
		for _, h := range atsHosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				supported = true
				break
			}
		}
		if !supported {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}
	return out
}

// Client queries the Custom Search JSON API.
type Client struct {
	svc    *customsearch.Service
	cseID  string
	logger *slog.Logger
}

// NewClient builds a search client from an API key and engine ID.
func NewClient(ctx context.Context, apiKey, cseID string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing Google API key")
	}
	if cseID == "" {
		return nil, fmt.Errorf("missing Google custom search engine ID")
	}
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create customsearch service: %w", err)
	}
	return &Client{svc: svc, cseID: cseID, logger: logger}, nil
}

// FetchLinks runs one query and returns the result links. num is capped at
// the API maximum of 10 per request. siteSearch may be empty.
func (c *Client) FetchLinks(ctx context.Context, query string, num, days int, siteSearch string) ([]string, error) {
	if num < 1 || num > 10 {
		num = 10
	}

	call := c.svc.Cse.List().Context(ctx).Cx(c.cseID).Q(query).Num(int64(num))
	if siteSearch != "" {
		call = call.SiteSearch(siteSearch).SiteSearchFilter("i")
	}
	if dr := DateRestrict(days); dr != "" {
		call = call.DateRestrict(dr)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("custom search %q: %w", query, err)
	}

	var links []string
	for _, item := range resp.Items {
		if item.Link != "" {
			links = append(links, item.Link)
		}
	}
	c.logger.Info("Search complete", "query", query, "results", len(links))
	return links, nil
}

// Discover runs every generated query and returns the deduplicated posting
// URLs found across all of them. Per-query failures are logged and skipped.
func (c *Client) Discover(ctx context.Context, opts QueryOptions) []string {
	var all []string
	for _, q := range BuildQueries(opts) {
		links, err := c.FetchLinks(ctx, q, 10, opts.Days, "")
		if err != nil {
			c.logger.Warn("Search query failed", "query", q, "error", err)
			continue
		}
		all = append(all, links...)
	}
	return FilterATSLinks(all)
}
