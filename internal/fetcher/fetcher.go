// Package fetcher resolves organization websites into page text for scoring.
// A bounded worker pool walks the org list, consults the shared content
// cache before touching the network, and emits exactly one FetchResult per
// org with the outcome classified for the batch report.
package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/expoforge/scout-cli/internal/cache"
	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/resilience"
)

// Options configures the fetcher. Zero values take the defaults noted on
// each field.
type Options struct {
	// MaxConcurrent bounds the number of in-flight page fetches. Default: 20.
	MaxConcurrent int

	// Timeout bounds each fetch attempt. Default: 10s.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// transient failures. The zero value disables retries.
	MaxRetries int

	// MaxContentBytes caps how much of a response body is read. Default: 512 KiB.
	MaxContentBytes int64

	// MaxContentChars caps the extracted text kept per page. Default: 3000.
	MaxContentChars int

	// DrainTimeout bounds how long an in-flight attempt may keep running
	// after the run is cancelled. Default: 10s.
	DrainTimeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// PerHostRPS limits the request rate per host. Default: 2.
	PerHostRPS float64

	// Retry sets the backoff schedule for transient failures. MaxAttempts
	// is derived from MaxRetries; a value set here is overwritten.
	Retry resilience.RetryConfig
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 20
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.MaxContentBytes <= 0 {
		o.MaxContentBytes = 512 << 10
	}
	if o.MaxContentChars <= 0 {
		o.MaxContentChars = 3000
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (compatible; ScoutBot/1.0)"
	}
	if o.PerHostRPS <= 0 {
		o.PerHostRPS = 2
	}
	return o
}

// Fetcher downloads org pages with caching, retries, and per-host rate
// limits. Safe for concurrent use.
type Fetcher struct {
	cache  *cache.Cache
	client *http.Client
	opts   Options
	retry  resilience.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher over the given content cache.
func New(c *cache.Cache, opts Options) *Fetcher {
	opts = opts.withDefaults()
	retry := opts.Retry
	retry.MaxAttempts = opts.MaxRetries + 1
	return &Fetcher{
		cache:    c,
		client:   newHTTPClient(),
		opts:     opts,
		retry:    retry,
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchAll resolves every org concurrently and streams one result per org.
// The channel closes once all orgs are accounted for; completion order is
// not the input order, callers correlate by OrgID. Cancelling ctx stops
// new dispatches and marks the remaining orgs cancelled, while in-flight
// attempts drain on their own clock.
func (f *Fetcher) FetchAll(ctx context.Context, orgs []model.Org) <-chan model.FetchResult {
	out := make(chan model.FetchResult)

	go func() {
		defer close(out)

		g := new(errgroup.Group)
		g.SetLimit(f.opts.MaxConcurrent)

		for _, org := range orgs {
			if ctx.Err() != nil {
				out <- cancelledResult(org)
				continue
			}
			g.Go(func() error {
				out <- f.fetchOne(ctx, org)
				return nil
			})
		}

		_ = g.Wait()
	}()

	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, org model.Org) model.FetchResult {
	if ctx.Err() != nil {
		return cancelledResult(org)
	}

	key, err := cache.NormalizeKey(org.Website)
	if err != nil {
		return model.FetchResult{
			OrgID:     org.ID,
			URL:       strings.TrimSpace(org.Website),
			Status:    model.FetchStatusFailed,
			Reason:    model.ReasonPermanent,
			Error:     err.Error(),
			FetchedAt: time.Now().UTC(),
		}
	}

	if entry, ok := f.cache.Get(ctx, key); ok {
		return cachedResult(org, key, entry)
	}

	// fetched flips only when this worker's fill actually runs; workers
	// coalesced onto another flight report a cache origin instead.
	var (
		fetched  bool
		attempts int
		status   int
	)
	entry, _, err := f.cache.Claim(ctx, key, func(ctx context.Context) (*model.CacheEntry, error) {
		fetched = true
		e, n, code, err := f.fetchPage(ctx, key, org.Website)
		attempts, status = n, code
		return e, err
	})
	if err != nil {
		return failedResult(ctx, org, key, attempts, status, err)
	}
	if fetched {
		return networkResult(org, key, entry, attempts, status)
	}
	return cachedResult(org, key, entry)
}

// failedResult classifies a fetch error into a terminal result. Once the
// run is cancelled every non-success outcome counts as cancelled; a drained
// attempt that succeeded never reaches here.
func failedResult(ctx context.Context, org model.Org, key string, attempts, httpStatus int, err error) model.FetchResult {
	res := model.FetchResult{
		OrgID:      org.ID,
		Key:        key,
		URL:        requestURL(org.Website),
		HTTPStatus: httpStatus,
		Attempts:   attempts,
		Error:      err.Error(),
		FetchedAt:  time.Now().UTC(),
	}

	switch {
	case ctx.Err() != nil:
		res.Status = model.FetchStatusCancelled
		res.Reason = model.ReasonCancelled
	case isTimeoutError(err):
		res.Status = model.FetchStatusTimeout
		res.Reason = model.ReasonTransientExhausted
	case resilience.IsTransient(err):
		res.Status = model.FetchStatusFailed
		res.Reason = model.ReasonTransientExhausted
	default:
		res.Status = model.FetchStatusFailed
		res.Reason = model.ReasonPermanent
	}
	return res
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func cachedResult(org model.Org, key string, entry *model.CacheEntry) model.FetchResult {
	return model.FetchResult{
		OrgID:     org.ID,
		Key:       key,
		URL:       requestURL(org.Website),
		Content:   entry.Content,
		Title:     entry.Title,
		Origin:    model.OriginCache,
		Status:    model.FetchStatusCached,
		FetchedAt: time.Now().UTC(),
	}
}

func networkResult(org model.Org, key string, entry *model.CacheEntry, attempts, httpStatus int) model.FetchResult {
	return model.FetchResult{
		OrgID:      org.ID,
		Key:        key,
		URL:        requestURL(org.Website),
		Content:    entry.Content,
		Title:      entry.Title,
		HTTPStatus: httpStatus,
		Origin:     model.OriginNetwork,
		Status:     model.FetchStatusSuccess,
		Attempts:   attempts,
		FetchedAt:  time.Now().UTC(),
	}
}

func cancelledResult(org model.Org) model.FetchResult {
	return model.FetchResult{
		OrgID:     org.ID,
		URL:       strings.TrimSpace(org.Website),
		Status:    model.FetchStatusCancelled,
		Reason:    model.ReasonCancelled,
		FetchedAt: time.Now().UTC(),
	}
}
