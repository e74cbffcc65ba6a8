package calendar

import (
	"context"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"family-planner/internal/model"
)

// EventStore persists the planner's own calendar.
type EventStore interface {
	Create(ctx context.Context, ev *model.CalendarEvent) error
	Delete(ctx context.Context, userID uint, id string) error
	Between(ctx context.Context, userID uint, from, to time.Time) ([]model.CalendarEvent, error)
	ListByUser(ctx context.Context, userID uint) ([]model.CalendarEvent, error)
}

// LocalCalendar is the per-user calendar committed instances are mirrored
// into. It is exported as ICS so users can subscribe to it.
type LocalCalendar struct {
	store EventStore
}

func NewLocalCalendar(store EventStore) *LocalCalendar {
	return &LocalCalendar{store: store}
}

func (c *LocalCalendar) CreateEvent(ctx context.Context, userID uint, title, body string, start, end time.Time) (string, error) {
	ev := model.CalendarEvent{
		ID:      uuid.NewString(),
		UserID:  userID,
		Title:   title,
		Body:    body,
		StartAt: start,
		EndAt:   end,
	}
	if err := c.store.Create(ctx, &ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (c *LocalCalendar) DeleteEvent(ctx context.Context, userID uint, eventID string) error {
	return c.store.Delete(ctx, userID, eventID)
}

// GetEvents lets the planner's own events block time like any other
// calendar.
func (c *LocalCalendar) GetEvents(ctx context.Context, userID uint, from, to time.Time) ([]Event, error) {
	rows, err := c.store.Between(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, Event{UID: r.ID, Summary: r.Title, Start: r.StartAt, End: r.EndAt, Source: "local"})
	}
	return out, nil
}

// ExportICS renders every event of userID as an iCalendar document.
func (c *LocalCalendar) ExportICS(ctx context.Context, userID uint, name string, now time.Time) (string, error) {
	rows, err := c.store.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("export calendar: %w", err)
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//family-planner//EN")
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}
	for _, r := range rows {
		ev := cal.AddEvent(r.ID + "@family-planner")
		ev.SetDtStampTime(now.UTC())
		ev.SetCreatedTime(r.CreatedAt.UTC())
		ev.SetStartAt(r.StartAt.UTC())
		ev.SetEndAt(r.EndAt.UTC())
		ev.SetSummary(r.Title)
		if r.Body != "" {
			ev.SetDescription(r.Body)
		}
	}
	return cal.Serialize(), nil
}
