package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"family-planner/internal/repository"
	"family-planner/internal/testutil"
)

func TestLocalCalendarRoundTrip(t *testing.T) {
	db := testutil.NewTestDB(t, repository.Models()...)
	cal := NewLocalCalendar(repository.NewEventRepository(db))
	ctx := context.Background()

	start := time.Date(2025, time.January, 6, 18, 0, 0, 0, time.UTC)
	id, err := cal.CreateEvent(ctx, 1, "Laundry", "assigned by the weekly plan", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, id, 36)

	events, err := cal.GetEvents(ctx, 1, start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Laundry", events[0].Summary)

	doc, err := cal.ExportICS(ctx, 1, "Family plan", start)
	require.NoError(t, err)
	require.Contains(t, doc, "BEGIN:VEVENT")
	require.Contains(t, doc, "SUMMARY:Laundry")
	require.Contains(t, doc, id+"@family-planner")

	require.NoError(t, cal.DeleteEvent(ctx, 1, id))
	require.ErrorIs(t, cal.DeleteEvent(ctx, 1, id), gorm.ErrRecordNotFound)
}

type countingSource struct {
	calls  int
	events []Event
	err    error
}

func (c *countingSource) GetEvents(context.Context, uint, time.Time, time.Time) ([]Event, error) {
	c.calls++
	return c.events, c.err
}

func TestCachedSource(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	start := time.Date(2025, time.January, 7, 10, 0, 0, 0, time.UTC)
	next := &countingSource{events: []Event{{UID: "a", Summary: "Dentist", Start: start, End: start.Add(time.Hour)}}}
	cached := NewCachedSource(next, rdb, time.Minute)

	for i := 0; i < 2; i++ {
		events, err := cached.GetEvents(ctx, 1, weekStart, weekStart.AddDate(0, 0, 7))
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.True(t, events[0].Start.Equal(start))
	}
	require.Equal(t, 1, next.calls)

	require.NoError(t, cached.Invalidate(ctx, 1))
	_, err := cached.GetEvents(ctx, 1, weekStart, weekStart.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestCachedSourceSkipsPartialAnswers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	next := &countingSource{err: ErrUpstreamUnavailable}
	cached := NewCachedSource(next, rdb, time.Minute)
	for i := 0; i < 2; i++ {
		_, err := cached.GetEvents(context.Background(), 1, weekStart, weekStart.AddDate(0, 0, 1))
		require.ErrorIs(t, err, ErrUpstreamUnavailable)
	}
	require.Equal(t, 2, next.calls)
}

type flakyWriter struct {
	failures int
	calls    int
}

func (f *flakyWriter) CreateEvent(context.Context, uint, string, string, time.Time, time.Time) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("provider timeout")
	}
	return "evt-1", nil
}

func (f *flakyWriter) DeleteEvent(context.Context, uint, string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("provider timeout")
	}
	return gorm.ErrRecordNotFound
}

func newTestMirror(w Writer, retries uint64) *Mirror {
	m := NewMirror(w, retries)
	m.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return m
}

func TestMirrorRetriesThenSucceeds(t *testing.T) {
	w := &flakyWriter{failures: 2}
	id, err := newTestMirror(w, 3).Create(context.Background(), 1, "Run", "", weekStart, weekStart.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "evt-1", id)
	require.Equal(t, 3, w.calls)
}

func TestMirrorGivesUp(t *testing.T) {
	w := &flakyWriter{failures: 10}
	_, err := newTestMirror(w, 2).Create(context.Background(), 1, "Run", "", weekStart, weekStart.Add(time.Hour))
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.Equal(t, 3, w.calls)
}

func TestMirrorDeleteMissingIsDone(t *testing.T) {
	w := &flakyWriter{failures: 1}
	require.NoError(t, newTestMirror(w, 3).Delete(context.Background(), 1, "evt-1"))
	require.Equal(t, 2, w.calls)
}
