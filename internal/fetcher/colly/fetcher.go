// Package collyfetcher implements the static page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/follower-tracker/internal/fetcher"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	MinBodyBytes   int
	MaxBodyBytes   int
}

// Waiter throttles outbound requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements tracker.Fetcher with a single GET per call.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MinBodyBytes == 0 {
		cfg.MinBodyBytes = fetcher.DefaultMinBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	// Non-2xx responses still reach OnResponse so the status can be reported.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, limiter: limiter, baseCollector: c}
}

// Fetch normalizes the URL, performs one GET and validates the response.
func (f *Fetcher) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.FetchResponse, error) {
	target, err := fetcher.NormalizeURL(request.URL)
	if err != nil {
		return tracker.FetchResponse{}, err
	}
	request.URL = target
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return tracker.FetchResponse{}, &tracker.FetchError{URL: target, Err: err}
		}
	}

	var (
		result   tracker.FetchResponse
		fetchErr error
	)
	collector := f.buildCollector(request, time.Now(), &result, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return tracker.FetchResponse{}, &tracker.FetchError{URL: target, Err: err}
	}
	if err := fetcher.CheckResponse(result, f.cfg.MinBodyBytes); err != nil {
		return result, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request tracker.FetchRequest,
	start time.Time,
	result *tracker.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = fetcher.BrowserHeaders(f.cfg.UserAgent, "").Get("User-Agent")
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request tracker.FetchRequest,
	start time.Time,
	result *tracker.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.applyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = tracker.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response: %w", *fetchErr)
		}
		return nil
	}
}

// applyHeaders sets the browser header profile, then any per-request overrides.
func (f *Fetcher) applyHeaders(request tracker.FetchRequest, r *colly.Request) {
	for key, values := range fetcher.BrowserHeaders(f.cfg.UserAgent, f.cfg.AcceptLanguage) {
		r.Headers.Set(key, values[0])
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}
