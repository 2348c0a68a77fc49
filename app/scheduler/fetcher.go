package scheduler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rsmw/feedloop/app/database"
)

// FetchResult is the outcome of one conditional source fetch.
type FetchResult struct {
	NotModified  bool
	Body         []byte
	ETag         string
	LastModified string

	// RetryAfter is the server's explicit retry directive (Retry-After on
	// 429/503). It is a hard floor on the next attempt.
	RetryAfter time.Duration

	// MaxAge is the Cache-Control max-age hint on success; it overrides
	// the source's own interval hint when larger.
	MaxAge time.Duration
}

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	return &Fetcher{client: client, userAgent: userAgent}
}

// Run performs one conditional GET against the source, honoring stored
// validators.
func (f *Fetcher) Run(ctx context.Context, source *database.Source) (*FetchResult, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, Classify(source.URL, err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	if source.ETag != "" {
		req.Header.Set("If-None-Match", source.ETag)
	}
	if source.LastModified != "" {
		req.Header.Set("If-Modified-Since", source.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, Classify(source.URL, err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		RetryAfter:   parseRetryAfter(resp.Header.Get("Retry-After")),
		MaxAge:       parseMaxAge(resp.Header.Get("Cache-Control")),
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		result.NotModified = true
		return result, nil

	case resp.StatusCode != http.StatusOK:
		ferr := ClassifyStatus(source.URL, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			ferr.Message = "Source is rate limiting requests"
		}
		// The retry directive travels with the error so backoff can
		// honor it as a floor.
		ferr.RetryAfter = result.RetryAfter
		return nil, ferr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(source.URL, err)
	}
	result.Body = body

	return result, nil
}

// FetchPage retrieves an entry's HTML page for content extraction.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyStatus(pageURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, &FetchError{
			Category: CategoryDocument,
			Message:  "Page is not HTML",
		}
	}

	return io.ReadAll(resp.Body)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

func parseMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return 0
}
