package ics

import (
	"context"
	"time"

	"coursebot/internal/model"
)

// Client is the calendar source used by the refresh coordinator: fetch,
// parse and expand one cohort's feed into raw components.
type Client struct {
	fetcher *Fetcher
	horizon time.Duration

	// Now is overridable in tests.
	Now func() time.Time
}

// NewClient builds a Client that expands recurring events from one day in
// the past up to horizonDays ahead.
func NewClient(fetcher *Fetcher, horizonDays int) *Client {
	if horizonDays <= 0 {
		horizonDays = 120
	}
	return &Client{
		fetcher: fetcher,
		horizon: time.Duration(horizonDays) * 24 * time.Hour,
		Now:     time.Now,
	}
}

// Fetch returns every VEVENT occurrence of the source. Transport and
// whole-payload parse failures are returned as errors.
func (c *Client) Fetch(ctx context.Context, src Source) ([]model.Component, error) {
	res, err := c.fetcher.FetchOne(ctx, src)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseICS(src, res.Body)
	if err != nil {
		return nil, err
	}

	now := c.Now()
	return Expand(parsed, ExpandConfig{
		RangeStart: now.Add(-24 * time.Hour),
		RangeEnd:   now.Add(c.horizon),
	})
}
