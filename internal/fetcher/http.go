package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/expoforge/scout-cli/internal/model"
	"github.com/expoforge/scout-cli/internal/resilience"
)

const maxRedirects = 5

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return eris.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// requestURL is the address actually fetched: trimmed, with a default
// https scheme, but otherwise as the roster spelled it. The normalized
// cache key is a dedup identity, not a fetchable address.
func requestURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s != "" && !strings.Contains(s, "://") {
		s = "https://" + s
	}
	return s
}

func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := int(f.opts.PerHostRPS)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(f.opts.PerHostRPS), burst)
		f.limiters[host] = lim
	}
	return lim
}

// attemptContext detaches one attempt from run cancellation so an in-flight
// request can drain. The attempt stays bounded by the per-attempt timeout
// and, once the run is cancelled, by the drain grace.
func (f *Fetcher) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.Timeout)
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(f.opts.DrainTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-actx.Done():
		}
	})
	return actx, func() {
		stop()
		cancel()
	}
}

// fetchPage downloads and extracts one page, returning the entry to cache
// plus the attempt count and last HTTP status seen. A success after the run
// is cancelled still caches; the write uses a detached context.
func (f *Fetcher) fetchPage(ctx context.Context, key, rawURL string) (*model.CacheEntry, int, int, error) {
	reqURL := requestURL(rawURL)

	retry := f.retry
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("fetch: retrying page",
			zap.String("url", reqURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	var attempts, lastStatus int
	entry, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.CacheEntry, error) {
		attempts++
		actx, cancel := f.attemptContext(ctx)
		defer cancel()

		e, code, err := f.attempt(actx, key, reqURL)
		if code != 0 {
			lastStatus = code
		}
		return e, err
	})
	if err != nil {
		return nil, attempts, lastStatus, err
	}

	if perr := f.cache.Put(context.WithoutCancel(ctx), *entry); perr != nil {
		zap.L().Warn("fetch: cache write failed",
			zap.String("key", key),
			zap.Error(perr),
		)
	}

	return entry, attempts, lastStatus, nil
}

// attempt performs a single GET and converts the response into a cache
// entry. DNS failures, non-retryable statuses, and unsupported content
// types come back as permanent errors so the retry loop stops early.
func (f *Fetcher) attempt(ctx context.Context, key, reqURL string) (*model.CacheEntry, int, error) {
	if err := f.limiterFor(reqURL).Wait(ctx); err != nil {
		return nil, 0, resilience.NewTransientError(eris.Wrap(err, "fetch: rate limiter wait"), 0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, resilience.NewPermanentError(eris.Wrapf(err, "fetch: create request for %s", reqURL), 0)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, 0, resilience.NewPermanentError(eris.Wrapf(err, "fetch: resolve host for %s", reqURL), 0)
		}
		return nil, 0, eris.Wrapf(err, "fetch: get %s", reqURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resp.StatusCode, resilience.NewTransientError(
			eris.Errorf("fetch: http %d from %s", resp.StatusCode, reqURL), resp.StatusCode)
	default:
		return nil, resp.StatusCode, resilience.NewPermanentError(
			eris.Errorf("fetch: http %d from %s", resp.StatusCode, reqURL), resp.StatusCode)
	}

	ctype := resp.Header.Get("Content-Type")
	if !allowedContentType(ctype) {
		return nil, resp.StatusCode, resilience.NewPermanentError(
			eris.Errorf("fetch: unsupported content type %q from %s", ctype, reqURL), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxContentBytes))
	if err != nil {
		return nil, resp.StatusCode, eris.Wrapf(err, "fetch: read body from %s", reqURL)
	}

	text, title, err := extractText(body, ctype, f.opts.MaxContentChars)
	if err != nil {
		return nil, resp.StatusCode, resilience.NewPermanentError(
			eris.Wrapf(err, "fetch: extract %s", reqURL), resp.StatusCode)
	}

	return &model.CacheEntry{
		Key:      key,
		Content:  text,
		Title:    title,
		StoredAt: time.Now().UTC(),
	}, resp.StatusCode, nil
}
