package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "coursebot/internal/log"
)

// ErrEmptyBody is returned when a source answers without any payload.
var ErrEmptyBody = errors.New("empty ICS body")

// Source represents a single ICS subscription source.
type Source struct {
	// ID is the cohort name the calendar belongs to.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source      Source
	Body        []byte
	NotModified bool // true if the server answered 304 and Body is the last known payload
}

// validators holds HTTP cache metadata and the last body for one URL.
type validators struct {
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// Fetcher fetches ICS feeds with conditional requests (ETag / Last-Modified).
// The validator cache is kept in memory only and is lost on restart.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]validators
}

// NewFetcher creates a new ICS Fetcher. A zero timeout means 15 seconds.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  make(map[string]validators),
	}
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
// Network errors and non-OK statuses are returned to the caller; there is no
// silent fallback to an older body.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	key := cacheKey(src.URL)
	f.mu.Lock()
	meta := f.cache[key]
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if len(meta.Body) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", redactURL(src.URL), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, fmt.Errorf("read %s: %w", redactURL(src.URL), err)
		}
		if len(body) == 0 {
			return FetchResult{}, ErrEmptyBody
		}

		f.mu.Lock()
		f.cache[key] = validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    time.Now().UTC(),
		}
		f.mu.Unlock()

		appLog.Debug("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(meta.Body) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no previous body available")
		}
		appLog.Debug("ics fetch not modified", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: meta.Body, NotModified: true}, nil

	default:
		return FetchResult{}, fmt.Errorf("fetch %s: unexpected status %s", redactURL(src.URL), resp.Status)
	}
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
