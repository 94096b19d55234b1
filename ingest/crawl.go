package ingest

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"jobhunter/scrape"
)

// CrawlSummary extends the batch summary with URLs no platform adapter
// could handle.
type CrawlSummary struct {
	Summary
	Unsupported int
}

// CrawlURLs resolves each URL to its platform adapter, parses the page, and
// ingests the result. URLs from unsupported platforms are counted and
// skipped; parse failures count as errored. Work runs on a bounded pool.
func (o *Orchestrator) CrawlURLs(ctx context.Context, reg *scrape.Registry, urls []string, workers int) CrawlSummary {
	if workers < 1 {
		workers = 1
	}

	var (
		mu      sync.Mutex
		summary CrawlSummary
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		adapter, ok := reg.Lookup(u)
		if !ok {
			o.logger.Warn("Unsupported platform", "url", u)
			mu.Lock()
			summary.Unsupported++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			raw, err := adapter.Parse(ctx, u)
			if err != nil {
				o.logger.Error("Parse failed", "url", u, "platform", adapter.Platform(), "error", err)
				mu.Lock()
				summary.Errored++
				mu.Unlock()
				return nil
			}
			res, err := o.Ingest(ctx, raw)
			if err != nil {
				o.logger.Error("Ingestion failed", "url", u, "error", err)
			}
			mu.Lock()
			summary.add(res, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("Crawl complete",
		"urls", len(urls),
		"new", summary.New,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"rejected", summary.Rejected,
		"errored", summary.Errored,
		"unsupported", summary.Unsupported)
	return summary
}

// CrawlBoards lists every posting URL on the named company boards and crawls
// them. boards maps platform name to company slugs.
func (o *Orchestrator) CrawlBoards(ctx context.Context, reg *scrape.Registry, boards map[string][]string, workers int) CrawlSummary {
	var urls []string
	for platform, slugs := range boards {
		adapter, ok := reg.ByPlatform(platform)
		if !ok {
			o.logger.Warn("Unknown platform in board list", "platform", platform)
			continue
		}
		for _, slug := range slugs {
			found, err := adapter.ListCompanyPostingURLs(ctx, slug)
			if err != nil {
				o.logger.Error("Board listing failed", "platform", platform, "company", slug, "error", err)
				continue
			}
			o.logger.Info("Board listed", "platform", platform, "company", slug, "postings", len(found))
			urls = append(urls, found...)
		}
	}
	return o.CrawlURLs(ctx, reg, urls, workers)
}
