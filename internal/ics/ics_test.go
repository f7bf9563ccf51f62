package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//coursebot//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:algo-1\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"DTSTART:20261019T080000Z\r\n" +
	"DTEND:20261019T100000Z\r\n" +
	"SUMMARY:Algorithms, Mme Dubois, Room 3\r\n" +
	"LOCATION:Room 3\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"DTSTART:20261020T120000Z\r\n" +
	"DTEND:20261020T130000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=3\r\n" +
	"EXDATE:20261027T120000Z\r\n" +
	"SUMMARY:Networks\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken-1\r\n" +
	"DTSTAMP:20261001T000000Z\r\n" +
	"SUMMARY:No dates\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseAndExpand(t *testing.T) {
	t.Parallel()
	parsed, err := ParseICS(Source{ID: "alpha"}, []byte(fixture))
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	assert.Equal(t, "algo-1", parsed[0].UID)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=3", parsed[1].RawRRule)
	require.Len(t, parsed[1].ExDates, 1)
	assert.True(t, parsed[2].Start.IsZero())

	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	comps, err := Expand(parsed, ExpandConfig{RangeStart: from, RangeEnd: from.AddDate(0, 2, 0)})
	require.NoError(t, err)

	var weekly []time.Time
	for _, c := range comps {
		if c.UID == "weekly-1" {
			weekly = append(weekly, c.Start.UTC())
			assert.Equal(t, time.Hour, c.End.Sub(c.Start))
		}
	}
	assert.Equal(t, []time.Time{
		time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 11, 3, 12, 0, 0, 0, time.UTC),
	}, weekly)
	assert.Len(t, comps, 4)
}

func TestParseAllDayKeepsCalendarDate(t *testing.T) {
	t.Parallel()
	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//coursebot//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:holiday-1\r\n" +
		"DTSTAMP:20261001T000000Z\r\n" +
		"DTSTART;VALUE=DATE:20261102\r\n" +
		"SUMMARY:Holiday\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:seminar-1\r\n" +
		"DTSTAMP:20261001T000000Z\r\n" +
		"DTSTART;VALUE=DATE:20261105\r\n" +
		"DTEND;VALUE=DATE:20261107\r\n" +
		"SUMMARY:Seminar\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	parsed, err := ParseICS(Source{ID: "alpha"}, []byte(body))
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	assert.True(t, parsed[0].AllDay)
	assert.Equal(t, time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC), parsed[0].Start)
	assert.Equal(t, time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC), parsed[0].End)

	assert.True(t, parsed[1].AllDay)
	assert.Equal(t, time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC), parsed[1].Start)
	assert.Equal(t, time.Date(2026, 11, 7, 0, 0, 0, 0, time.UTC), parsed[1].End)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	t.Parallel()
	now := time.Now()
	_, err := Expand(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)})
	assert.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := ParseICS(Source{ID: "alpha"}, nil)
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestClientFetchUsesConditionalRequests(t *testing.T) {
	t.Parallel()
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	client := NewClient(NewFetcher(time.Second), 60)
	client.Now = func() time.Time { return time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC) }

	src := Source{ID: "alpha", URL: srv.URL + "/cal.ics"}
	first, err := client.Fetch(context.Background(), src)
	require.NoError(t, err)
	second, err := client.Fetch(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestClientFetchPropagatesStatusErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	client := NewClient(NewFetcher(time.Second), 60)
	_, err := client.Fetch(context.Background(), Source{ID: "alpha", URL: srv.URL})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "/cal.ics")
}

func TestRedactURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private.ics?token=abc"))
	assert.True(t, strings.HasPrefix(redactURL("nonsense"), "ics://"))
}
