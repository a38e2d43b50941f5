// Package fetch retrieves raw feed payloads for catalogue sources.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/feeddigest/internal/catalogue"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultConcurrency = 8
	DefaultMaxBytes    = 10 << 20
	DefaultRunTimeout  = 2 * time.Minute
	DefaultUserAgent   = "Mozilla/5.0 (compatible; feeddigest/1.0; +https://github.com/ppiankov/feeddigest)"

	acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, text/html;q=0.8, */*;q=0.5"
)

// retryBackoff is the base delay between attempts. Tests shorten it.
var retryBackoff = time.Second

// Payload is the outcome of fetching one source.
type Payload struct {
	SourceID    string
	URL         string
	Body        []byte
	ContentType string
	Err         *Error
	Duration    time.Duration
}

// OK reports whether the fetch produced content.
func (p Payload) OK() bool { return p.Err == nil }

// Options tunes a Fetcher. Zero values fall back to defaults.
type Options struct {
	Timeout     time.Duration
	Concurrency int
	Retries     int
	DomainDelay time.Duration
	RunTimeout  time.Duration // caps a whole FetchAll call; negative disables it
	MaxBytes    int64
	UserAgent   string
	Transport   http.RoundTripper
	Logger      *slog.Logger
}

// Fetcher downloads sources concurrently.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	retries     int
	domainDelay time.Duration
	runTimeout  time.Duration
	maxBytes    int64
	logger      *slog.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.RunTimeout == 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Fetcher{
		client: &http.Client{
			Transport: &uaTransport{base: opts.Transport, userAgent: opts.UserAgent},
		},
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		retries:     opts.Retries,
		domainDelay: opts.DomainDelay,
		runTimeout:  opts.RunTimeout,
		maxBytes:    opts.MaxBytes,
		logger:      logger,
	}
}

// FetchAll fetches every source and returns one payload per source, in the
// order of sources. A failing source never affects the others. Sources still
// pending when the run timeout expires fail with KindTimeout.
func (f *Fetcher) FetchAll(ctx context.Context, sources []catalogue.Source) []Payload {
	payloads := make([]Payload, len(sources))
	if len(sources) == 0 {
		return payloads
	}
	if f.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.runTimeout)
		defer cancel()
	}

	// Same-host sources share one worker so a host never sees parallel requests.
	var hosts []string
	byHost := make(map[string][]int)
	for i, src := range sources {
		h := feedHost(src.URL)
		if _, ok := byHost[h]; !ok {
			hosts = append(hosts, h)
		}
		byHost[h] = append(byHost[h], i)
	}

	jobs := make(chan []int, len(hosts))
	for _, h := range hosts {
		jobs <- byHost[h]
	}
	close(jobs)

	workers := min(f.concurrency, len(hosts))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idxs := range jobs {
				for n, i := range idxs {
					if n > 0 && f.domainDelay > 0 {
						sleepCtx(ctx, f.domainDelay)
					}
					payloads[i] = f.fetchWithRetry(ctx, sources[i])
				}
			}
		}()
	}
	wg.Wait()

	return payloads
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, src catalogue.Source) Payload {
	start := time.Now()
	var p Payload
	for attempt := 0; attempt <= f.retries; attempt++ {
		p = f.fetchOnce(ctx, src)
		if p.OK() || !p.Err.Retryable() || ctx.Err() != nil {
			break
		}
		if attempt < f.retries {
			backoff := time.Duration(1<<uint(attempt)) * retryBackoff // 1s, 2s, 4s
			f.logger.Debug("retrying fetch", "source", src.ID, "attempt", attempt+1, "backoff", backoff, "error", p.Err)
			sleepCtx(ctx, backoff)
		}
	}
	p.Duration = time.Since(start)
	return p
}

func (f *Fetcher) fetchOnce(ctx context.Context, src catalogue.Source) Payload {
	p := Payload{SourceID: src.ID, URL: src.URL}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, contentType, err := f.get(ctx, src.URL)
	if err != nil {
		p.Err = classify(err)
		return p
	}
	p.Body = body
	p.ContentType = contentType
	return p
}

func (f *Fetcher) get(ctx context.Context, feedURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, "", &Error{Kind: KindNetwork, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &Error{Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if err := checkContentType(contentType); err != nil {
		return nil, "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", &Error{Kind: KindBody, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", &Error{Kind: KindBody, Err: fmt.Errorf("body exceeds %d bytes", f.maxBytes)}
	}
	if len(body) == 0 {
		return nil, "", &Error{Kind: KindBody, Err: errors.New("empty body")}
	}
	return body, contentType, nil
}

// checkContentType rejects unparseable headers and media that can never be
// a feed or listing. Declared XML/HTML types are not trusted for format
// detection; the parser sniffs the body instead.
func checkContentType(contentType string) error {
	if strings.TrimSpace(contentType) == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return &Error{Kind: KindContentType, Err: fmt.Errorf("parse %q: %w", contentType, err)}
	}
	for _, prefix := range []string{"image/", "audio/", "video/", "font/"} {
		if strings.HasPrefix(mediaType, prefix) {
			return &Error{Kind: KindContentType, Err: fmt.Errorf("unsupported media type %q", mediaType)}
		}
	}
	return nil
}

// feedHost extracts the host from a feed URL for per-host serialization.
func feedHost(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// uaTransport injects a User-Agent header into every request.
type uaTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
