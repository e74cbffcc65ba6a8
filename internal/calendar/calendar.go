// Package calendar talks to calendars outside the planner: subscribed ICS
// feeds it reads third-party events from, and the per-user calendar it
// mirrors committed task instances into.
package calendar

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrUpstreamUnavailable marks a calendar that could not be read or
// written. Readers that get it may still return partial events.
var ErrUpstreamUnavailable = errors.New("calendar upstream unavailable")

// Event is a third-party event occurrence. All-day events span whole days
// in the owner's location.
type Event struct {
	UID     string    `json:"uid"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	AllDay  bool      `json:"all_day"`
	Source  string    `json:"source,omitempty"`
}

// Source is the read side of a calendar provider.
type Source interface {
	GetEvents(ctx context.Context, userID uint, from, to time.Time) ([]Event, error)
}

// Writer is the write side of a calendar provider.
type Writer interface {
	CreateEvent(ctx context.Context, userID uint, title, body string, start, end time.Time) (string, error)
	DeleteEvent(ctx context.Context, userID uint, eventID string) error
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].UID < events[j].UID
	})
}
