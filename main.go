// Package main implements the jobhunter command line tool. It tracks job
// postings across ATS platforms: discover posting URLs via Google search,
// crawl and parse them, and maintain a change-tracked store of roles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"

	"jobhunter/events"
	"jobhunter/ingest"
	"jobhunter/metrics"
	"jobhunter/pkg/posting"
	"jobhunter/resilience"
	"jobhunter/scrape"
	"jobhunter/search"
	"jobhunter/store"
	"jobhunter/validate"
	"jobhunter/watch"
)

const (
	defaultStorePath     = "data/store.json"
	defaultRetentionDays = 7
	defaultWorkers       = 4
	defaultIntervalHours = 6
)

type app struct {
	logger    *slog.Logger
	store     store.Store
	counters  *metrics.Counters
	registry  *scrape.Registry
	publisher events.Publisher
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := setup(ctx, logger)
	if err != nil {
		logger.Error("Setup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	switch cmd {
	case "ingest":
		err = a.cmdIngest(ctx, args)
	case "crawl":
		err = a.cmdCrawl(ctx, args)
	case "search":
		err = a.cmdSearch(ctx, args)
	case "list":
		err = a.cmdList(ctx)
	case "cleanup":
		err = a.cmdCleanup(ctx)
	case "watch":
		err = a.cmdWatch(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}

	a.logCounters()
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: jobhunter <command> [flags]

commands:
  ingest    read raw postings (JSON array) from stdin or -file and ingest them
  crawl     parse and ingest posting URLs or whole company boards
  search    discover posting URLs via Google Custom Search
  list      print all tracked roles
  cleanup   remove roles older than the retention window
  watch     run crawl + cleanup cycles on a schedule

environment:
  STORE_PATH       local JSON store path (default %s)
  STORAGE_BUCKET   GCS bucket for the JSON store (overrides STORE_PATH)
  DATABASE_URL     Postgres DSN (overrides both JSON store variants)
  REDIS_URL        enable change event publishing via Redis pub/sub
  GOOGLE_API_KEY   Google Custom Search API key
  GOOGLE_CSE_ID    Google Custom Search engine ID
  RETENTION_DAYS   staleness window in days (default %d)
  INGEST_WORKERS   concurrent ingestion workers (default %d)
  STRICT_SOURCES   set to reject postings from unknown platforms
  STORE_HISTORY    set to keep prior versions of each role
`, defaultStorePath, defaultRetentionDays, defaultWorkers)
}

// setup wires the store, publisher, and scrape registry from environment
// configuration. The returned cleanup closes everything.
func setup(ctx context.Context, logger *slog.Logger) (*app, func(), error) {
	counters := metrics.NewCounters()

	st, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	var publisher events.Publisher = events.Nop{}
	closePublisher := func() {}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rp, err := events.NewRedis(ctx, redisURL, os.Getenv("REDIS_CHANNEL"))
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("Event publishing enabled")
		publisher = rp
		closePublisher = func() {
			if err := rp.Close(); err != nil {
				logger.Warn("Failed to close redis client", "error", err)
			}
		}
	}

	breaker := resilience.NewBreaker(5, time.Minute)
	fetcher := scrape.NewFetcher(
		&http.Client{Timeout: 30 * time.Second},
		logger,
		counters,
		scrape.WithBreaker(breaker),
	)

	a := &app{
		logger:    logger,
		store:     st,
		counters:  counters,
		registry:  scrape.NewRegistry(fetcher),
		publisher: publisher,
	}
	cleanup := func() {
		closePublisher()
		closeStore()
	}
	return a, cleanup, nil
}

// openStore selects the persistence backend: Postgres when DATABASE_URL is
// set, the GCS JSON store when STORAGE_BUCKET is set, a local JSON file
// otherwise.
func openStore(ctx context.Context, logger *slog.Logger) (store.Store, func(), error) {
	var opts []store.JSONOption
	if os.Getenv("STORE_HISTORY") != "" {
		opts = append(opts, store.WithHistory())
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		st, err := store.NewPGStore(ctx, dsn, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("Using Postgres store")
		return st, closeQuietly(st, logger), nil
	}

	if bucket := os.Getenv("STORAGE_BUCKET"); bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		object := os.Getenv("STORAGE_OBJECT")
		if object == "" {
			object = "store.json"
		}
		st := store.NewJSONStoreGCS(client, bucket, object, logger, opts...)
		logger.Info("Using GCS store", "bucket", bucket, "object", object)
		closeAll := func() {
			if err := st.Close(); err != nil {
				logger.Warn("Failed to close store", "error", err)
			}
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		return st, closeAll, nil
	}

	path := os.Getenv("STORE_PATH")
	if path == "" {
		path = defaultStorePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create store directory: %w", err)
	}
	st := store.NewJSONStore(path, logger, opts...)
	logger.Info("Using local JSON store", "path", path)
	return st, closeQuietly(st, logger), nil
}

func closeQuietly(st store.Store, logger *slog.Logger) func() {
	return func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}
}

func (a *app) orchestrator() *ingest.Orchestrator {
	opts := []ingest.Option{ingest.WithPublisher(a.publisher)}
	if os.Getenv("STRICT_SOURCES") != "" {
		opts = append(opts, ingest.WithStrictSources())
	}
	return ingest.New(a.store, a.logger, a.counters, opts...)
}

func (a *app) cmdIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", "read postings from this file instead of stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open %s: %w", *file, err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				a.logger.Warn("Failed to close input file", "error", err)
			}
		}()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, 64<<20))
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("input must be a JSON array of postings: %w", err)
	}

	// Shape errors surface as rejections so one malformed object does not
	// abort the batch.
	raws := make([]posting.Raw, 0, len(items))
	for i, item := range items {
		raw, verrs := validate.FromJSON(item)
		if len(verrs) > 0 {
			a.counters.Inc(metrics.PostingsRejected)
			a.logger.Warn("Posting rejected", "index", i, "errors", verrs)
			continue
		}
		raws = append(raws, raw)
	}

	summary := a.orchestrator().IngestAll(ctx, raws, envInt("INGEST_WORKERS", defaultWorkers))
	return printJSON(summary)
}

func (a *app) cmdCrawl(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	board := fs.String("board", "", "comma-separated platform:company board specs, e.g. greenhouse:acme,lever:acme")
	if err := fs.Parse(args); err != nil {
		return err
	}

	o := a.orchestrator()
	workers := envInt("INGEST_WORKERS", defaultWorkers)

	if *board != "" {
		boards, err := parseBoards(*board)
		if err != nil {
			return err
		}
		return printJSON(o.CrawlBoards(ctx, a.registry, boards, workers))
	}

	urls := fs.Args()
	if len(urls) == 0 {
		return fmt.Errorf("nothing to crawl: pass posting URLs or -board")
	}
	return printJSON(o.CrawlURLs(ctx, a.registry, urls, workers))
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	roles := fs.String("roles", "", "comma-separated role keywords")
	remote := fs.Bool("remote", false, "restrict to remote postings")
	days := fs.Int("days", 0, "recency window in days")
	doIngest := fs.Bool("ingest", false, "crawl and ingest discovered URLs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *roles == "" {
		return fmt.Errorf("-roles is required")
	}

	client, err := search.NewClient(ctx, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GOOGLE_CSE_ID"), a.logger)
	if err != nil {
		return err
	}

	urls := client.Discover(ctx, search.QueryOptions{
		Roles:      splitList(*roles),
		RemoteOnly: *remote,
		Days:       *days,
	})
	a.logger.Info("Discovery complete", "urls", len(urls))

	if *doIngest {
		summary := a.orchestrator().CrawlURLs(ctx, a.registry, urls, envInt("INGEST_WORKERS", defaultWorkers))
		return printJSON(summary)
	}
	for _, u := range urls {
		fmt.Println(u)
	}
	return nil
}

func (a *app) cmdList(ctx context.Context) error {
	records, err := a.store.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("%s\t%s\t%s\t%s\n", rec.RoleID, rec.Current.Title, rec.Current.Location, rec.Current.URL)
	}
	a.logger.Info("Listed roles", "count", len(records))
	return nil
}

func (a *app) cmdCleanup(ctx context.Context) error {
	before, after, err := a.store.DeleteStale(ctx, envInt("RETENTION_DAYS", defaultRetentionDays))
	if err != nil {
		return err
	}
	a.logger.Info("Cleanup complete", "before", before, "after", after, "removed", before-after)
	return nil
}

func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	board := fs.String("board", "", "comma-separated platform:company board specs to crawl each cycle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *board == "" {
		return fmt.Errorf("-board is required")
	}
	boards, err := parseBoards(*board)
	if err != nil {
		return err
	}

	o := a.orchestrator()
	workers := envInt("INGEST_WORKERS", defaultWorkers)
	crawl := func(ctx context.Context) {
		o.CrawlBoards(ctx, a.registry, boards, workers)
	}

	w := watch.New(a.store, crawl, a.logger,
		envInt("CRAWL_INTERVAL_HOURS", defaultIntervalHours),
		envInt("RETENTION_DAYS", defaultRetentionDays))
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (a *app) logCounters() {
	snapshot := a.counters.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	attrs := make([]any, 0, len(snapshot)*2)
	for name, v := range snapshot {
		attrs = append(attrs, name, v)
	}
	a.logger.Info("Run counters", attrs...)
}

func parseBoards(spec string) (map[string][]string, error) {
	boards := make(map[string][]string)
	for _, entry := range splitList(spec) {
		platform, slug, ok := strings.Cut(entry, ":")
		if !ok || platform == "" || slug == "" {
			return nil, fmt.Errorf("invalid board spec %q, want platform:company", entry)
		}
		boards[platform] = append(boards[platform], slug)
	}
	return boards, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		slog.Warn("Ignoring invalid numeric environment variable", "name", name, "value", v)
		return fallback
	}
	return n
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
