package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/hn-pager/pkg/client"
	"github.com/Sternrassler/hn-pager/pkg/deadline"
	"github.com/Sternrassler/hn-pager/pkg/item"
	"github.com/Sternrassler/hn-pager/pkg/task"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidPage is returned for negative page indexes.
var ErrInvalidPage = errors.New("invalid page index")

// Config holds orchestrator configuration.
type Config struct {
	// PageSize is used when Options.PageSize is zero.
	PageSize int

	// Deadline bounds filling one page. Non-positive disables it.
	Deadline time.Duration

	// StaggerStep is the per-row start delay in slow mode.
	StaggerStep time.Duration

	// MaxConcurrency is the maximum number of parallel item fetches.
	MaxConcurrency int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:       25,
		Deadline:       10 * time.Second,
		StaggerStep:    100 * time.Millisecond,
		MaxConcurrency: 10,
	}
}

// Options select the page to fetch.
type Options struct {
	// PageSize (default: Config.PageSize).
	PageSize int

	// Forced refetches the listing even when it is cached.
	Forced bool

	// Slowly staggers item fetches so the page fills bottom-up.
	Slowly bool

	// Listing (default: item.ListingTop).
	Listing item.Listing
}

// PageRequest is the parameter of the orchestrator's task producer.
type PageRequest struct {
	Page    int
	Options Options
}

// Fetcher is the API the orchestrator consumes. *client.Client implements it.
type Fetcher interface {
	Listing(ctx context.Context, kind item.Listing) ([]int64, error)
	Item(ctx context.Context, p *task.Progress[client.Transfer], id int64) (item.Item, error)
}

// Orchestrator fetches listing pages.
type Orchestrator struct {
	fetcher Fetcher
	cache   *ListingCache
	config  Config
}

// New creates an orchestrator. A nil cache gets a private one.
func New(fetcher Fetcher, cache *ListingCache, config Config) *Orchestrator {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.StaggerStep <= 0 {
		config.StaggerStep = defaults.StaggerStep
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if cache == nil {
		cache = NewListingCache()
	}

	return &Orchestrator{
		fetcher: fetcher,
		cache:   cache,
		config:  config,
	}
}

// Cache returns the listing cache.
func (o *Orchestrator) Cache() *ListingCache {
	return o.cache
}

// Producer adapts FetchPage to a task.Runner.
func (o *Orchestrator) Producer() task.Producer[PageRequest, []item.Root, Partial] {
	return func(ctx context.Context, p *task.Progress[Partial], req PageRequest) ([]item.Root, error) {
		return o.FetchPage(ctx, p, req.Page, req.Options)
	}
}

// FetchPage returns the stories and jobs of one page in listing order.
//
// The listing is fetched when opts.Forced is set or nothing is cached for
// it. A page starting past the end of the listing is empty, not an error.
// Otherwise the page's ids are posted to p, every item is fetched
// concurrently and p receives a fresh Partial each time a slot resolves.
// Filling the page fails with deadline.ErrTimeout after Config.Deadline;
// the first fetch failure is returned as is.
func (o *Orchestrator) FetchPage(ctx context.Context, p *task.Progress[Partial], page int, opts Options) ([]item.Root, error) {
	if page < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = o.config.PageSize
	}
	if opts.Listing == "" {
		opts.Listing = item.ListingTop
	}

	logger := p.Logger().With().
		Str("listing", string(opts.Listing)).
		Int("page", page).
		Logger()
	start := time.Now()

	ids, err := o.listing(ctx, opts.Listing, opts.Forced)
	if err != nil {
		pagesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	first := page * opts.PageSize
	if first >= len(ids) {
		pagesTotal.WithLabelValues("empty").Inc()
		logger.Debug().Int("listed", len(ids)).Msg("Page past end of listing")
		return []item.Root{}, nil
	}
	last := min(first+opts.PageSize, len(ids))
	pageIDs := ids[first:last:last]

	logger.Info().
		Int("items", len(pageIDs)).
		Bool("slowly", opts.Slowly).
		Msg("Starting parallel item fetch")

	roots, err := deadline.Race(ctx, o.config.Deadline, func(ctx context.Context) ([]item.Root, error) {
		return o.fill(ctx, p, pageIDs, opts.Slowly)
	})
	pageDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, deadline.ErrTimeout):
		pagesTotal.WithLabelValues("timeout").Inc()
		logger.Warn().Dur("deadline", o.config.Deadline).Msg("Page fetch timed out")
		return nil, err
	case err != nil:
		pagesTotal.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Msg("Page fetch failed")
		return nil, err
	}

	pagesTotal.WithLabelValues("ok").Inc()
	logger.Info().
		Int("roots", len(roots)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")
	return roots, nil
}

// listing returns the ids for kind, refreshing the cache when forced or cold.
func (o *Orchestrator) listing(ctx context.Context, kind item.Listing, forced bool) ([]int64, error) {
	ids, ok := o.cache.Get(kind)
	if ok && !forced {
		return ids, nil
	}

	reason := "cold"
	if forced {
		reason = "forced"
	}
	listingFetchesTotal.WithLabelValues(string(kind), reason).Inc()

	ids, err := o.fetcher.Listing(ctx, kind)
	if err != nil {
		return nil, err
	}
	o.cache.Replace(kind, ids)
	return ids, nil
}

type resolved struct {
	index int
	item  item.Item
}

// fill fetches every id and streams the slot array through p. Slots are
// written only here, on the calling goroutine; workers hand results over a
// channel.
func (o *Orchestrator) fill(ctx context.Context, p *task.Progress[Partial], ids []int64, slowly bool) ([]item.Root, error) {
	slots := make(Partial, len(ids))
	for i, id := range ids {
		slots[i] = Slot{ID: id}
	}
	_ = p.Post(slots.clone())

	sub := task.Delegate[client.Transfer](p, task.DelegateQuiet)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.MaxConcurrency)

	results := make(chan resolved, len(ids))
	done := make(chan error, 1)

	begin := time.Now()
	go func() {
		for n := range ids {
			i := n
			var startAt time.Time
			if slowly {
				// Bottom rows go first so they hold the concurrency slots.
				i = len(ids) - 1 - n
				startAt = begin.Add(time.Duration(n) * o.config.StaggerStep)
			}
			g.Go(func() error {
				return o.fetchSlot(gctx, sub, i, ids[i], startAt, results)
			})
		}
		done <- g.Wait()
		close(results)
	}()

	for r := range results {
		slots[r.index].Item = r.item
		itemsResolvedTotal.Inc()
		_ = p.Post(slots.clone())
	}
	if err := <-done; err != nil {
		return nil, err
	}

	roots := make([]item.Root, 0, len(slots))
	for _, s := range slots {
		if root, ok := item.AsRoot(s.Item); ok {
			roots = append(roots, root)
		}
	}
	return roots, nil
}

// fetchSlot fetches one id, waiting until startAt first in slow mode.
func (o *Orchestrator) fetchSlot(ctx context.Context, sub *task.Progress[client.Transfer], index int, id int64, startAt time.Time, results chan<- resolved) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay := time.Until(startAt); !startAt.IsZero() && delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := sub.AssertActive(); err != nil {
		return err
	}

	it, err := o.fetcher.Item(ctx, sub, id)
	if err != nil {
		return err
	}
	results <- resolved{index: index, item: it}
	return nil
}
