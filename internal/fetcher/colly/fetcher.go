// Package collyfetcher implements pipeline.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/metrics"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/retry"
)

const (
	acceptHTML  = "text/html,application/xhtml+xml"
	acceptImage = "image/*"

	kindHTML  = "html"
	kindImage = "image"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Pacer delays requests before they are sent.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements pipeline.Fetcher using the Colly collector. Every
// attempt waits on the pacer, runs with the configured timeout, and is
// retried with backoff on any network, timeout or HTTP error.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	pacer         Pacer
	retry         *retry.Policy
	metrics       *metrics.Recorder
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. pacer, policy and recorder may be nil.
func New(cfg Config, pacer Pacer, policy *retry.Policy, recorder *metrics.Recorder, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if policy == nil {
		policy = retry.New(0, time.Second, time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []colly.CollectorOption{
		colly.Async(false),
		// Retries and repeated runs revisit the same URL.
		colly.AllowURLRevisit(),
		// Non-2xx responses reach OnResponse and are classified here.
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.MaxBodySize < 0 {
		cfg.MaxBodySize = 0
	}
	// Zero disables colly's own 10 MiB default.
	opts = append(opts, colly.MaxBodySize(cfg.MaxBodySize))
	c := colly.NewCollector(opts...)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pacer:         pacer,
		retry:         policy,
		metrics:       recorder,
		logger:        logger,
	}
}

// FetchHTML fetches a page body as text.
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	body, err := f.fetch(ctx, kindHTML, url, acceptHTML)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchImage fetches raw image bytes.
func (f *Fetcher) FetchImage(ctx context.Context, url string) ([]byte, error) {
	return f.fetch(ctx, kindImage, url, acceptImage)
}

func (f *Fetcher) fetch(ctx context.Context, kind, url, accept string) ([]byte, error) {
	var body []byte
	attempts, err := f.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx, url); err != nil {
				return retry.Permanent(err)
			}
		}
		start := time.Now()
		b, err := f.attempt(ctx, url, accept)
		if err != nil {
			f.metrics.ObserveFetch(kind, pipeline.Kind(err), time.Since(start))
			f.logger.Debug("fetch attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.String("error_kind", pipeline.Kind(err)),
				zap.Error(err),
			)
			var tooLarge *pipeline.BodyTooLargeError
			if errors.As(err, &tooLarge) {
				return retry.Permanent(err)
			}
			return err
		}
		f.metrics.ObserveFetch(kind, metrics.OutcomeSuccess, time.Since(start))
		body = b
		return nil
	})
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", url), zap.Int("attempts", attempts), zap.Error(err))
		return nil, err
	}
	return body, nil
}

type attemptResult struct {
	status    int
	body      []byte
	truncated bool
	hookErr   error
}

func (f *Fetcher) attempt(ctx context.Context, url, accept string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	result := &attemptResult{}
	configureCollectorHooks(collector, accept, f.cfg.MaxBodySize, result)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, classify(url, ctx.Err())
	case err := <-done:
		if err == nil {
			err = result.hookErr
		}
		if err != nil {
			return nil, classify(url, err)
		}
	}
	if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
		return nil, &pipeline.HTTPError{URL: url, StatusCode: result.status}
	}
	if result.truncated {
		return nil, &pipeline.BodyTooLargeError{URL: url, Limit: f.cfg.MaxBodySize}
	}
	return result.body, nil
}

func configureCollectorHooks(hooks collectorHooks, accept string, maxBody int, result *attemptResult) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", accept)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
		result.truncated = bodyTruncated(r, maxBody)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.hookErr = err
	})
}

// bodyTruncated reports whether colly cut the body at maxBody. A body that
// fills the limit exactly is treated as cut.
func bodyTruncated(r *colly.Response, maxBody int) bool {
	if maxBody <= 0 {
		return false
	}
	if len(r.Body) >= maxBody {
		return true
	}
	if r.Headers == nil {
		return false
	}
	n, err := strconv.Atoi(r.Headers.Get("Content-Length"))
	return err == nil && n > maxBody
}

func classify(url string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &pipeline.TimeoutError{URL: url, Err: err}
	}
	return &pipeline.NetworkError{URL: url, Err: fmt.Errorf("colly visit: %w", err)}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
