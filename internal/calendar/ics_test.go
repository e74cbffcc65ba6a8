package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"family-planner/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const feedBody = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:dentist\r\n" +
	"SUMMARY:Dentist\r\n" +
	"DTSTART:20250107T100000Z\r\n" +
	"DTEND:20250107T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20250106T083000\r\n" +
	"DTEND:20250106T084500\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20250108T083000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"RECURRENCE-ID:20250109T083000\r\n" +
	"DTSTART:20250109T120000\r\n" +
	"DTEND:20250109T121500\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:trip\r\n" +
	"SUMMARY:Trip\r\n" +
	"DTSTART;VALUE=DATE:20250110\r\n" +
	"DTEND;VALUE=DATE:20250112\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No uid\r\n" +
	"DTSTART:20250107T100000Z\r\n" +
	"DTEND:20250107T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

var weekStart = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)

func TestParseAndExpand(t *testing.T) {
	parsed, err := parseICS(Feed{ID: "work"}, []byte(feedBody), time.UTC)
	require.NoError(t, err)
	require.Len(t, parsed, 4)

	events := expand(parsed, "work", weekStart, weekStart.AddDate(0, 0, 7))
	sortEvents(events)

	var standups []Event
	var trip *Event
	for i, ev := range events {
		switch ev.UID {
		case "standup":
			standups = append(standups, ev)
		case "trip":
			trip = &events[i]
		}
		require.Equal(t, "work", ev.Source)
	}

	require.Len(t, standups, 4)
	require.Equal(t, time.Date(2025, time.January, 6, 8, 30, 0, 0, time.UTC), standups[0].Start)
	require.Equal(t, time.Date(2025, time.January, 7, 8, 30, 0, 0, time.UTC), standups[1].Start)
	require.Equal(t, "Standup (moved)", standups[2].Summary)
	require.Equal(t, time.Date(2025, time.January, 9, 12, 0, 0, 0, time.UTC), standups[2].Start)
	require.Equal(t, time.Date(2025, time.January, 10, 8, 30, 0, 0, time.UTC), standups[3].Start)

	require.NotNil(t, trip)
	require.True(t, trip.AllDay)
	require.Equal(t, 48*time.Hour, trip.End.Sub(trip.Start))
}

func TestExpandClipsToRange(t *testing.T) {
	parsed, err := parseICS(Feed{ID: "work"}, []byte(feedBody), time.UTC)
	require.NoError(t, err)

	day := time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC)
	events := expand(parsed, "work", day, day.AddDate(0, 0, 1))
	require.Len(t, events, 2)
}

type stubSubs map[uint][]model.CalendarSubscription

func (s stubSubs) Subscriptions(_ context.Context, userID uint) ([]model.CalendarSubscription, error) {
	return s[userID], nil
}

type stubUsers map[uint]model.User

func (s stubUsers) FindByID(_ context.Context, id uint) (*model.User, error) {
	u := s[id]
	return &u, nil
}

func TestICSSourceDegradesPerFeed(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feedBody))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer bad.Close()

	src := NewICSSource(
		stubSubs{1: {{ID: 1, Name: "work", URL: good.URL}, {ID: 2, Name: "shared", URL: bad.URL}}},
		stubUsers{1: {ID: 1, Timezone: "UTC"}},
		NewFetcher(t.TempDir(), time.Second),
		time.UTC,
	)

	events, err := src.GetEvents(context.Background(), 1, weekStart, weekStart.AddDate(0, 0, 7))
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.NotEmpty(t, events)
}

func TestFetcherUsesCacheOnNotModifiedAndFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(feedBody))
		case 2:
			if r.Header.Get("If-None-Match") != `"v1"` {
				_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
				return
			}
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second)
	feed := Feed{ID: "work", URL: srv.URL}

	first, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Body, second.Body)

	third, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	require.True(t, third.FromCache)
}

func TestRedactURL(t *testing.T) {
	require.Equal(t, "https://calendar.example.com/...(redacted)", redactURL("https://calendar.example.com/private/abc.ics?token=1"))
	require.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
