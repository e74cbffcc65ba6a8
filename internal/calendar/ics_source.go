package calendar

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"family-planner/internal/model"
)

// SubscriptionStore lists a user's ICS feeds.
type SubscriptionStore interface {
	Subscriptions(ctx context.Context, userID uint) ([]model.CalendarSubscription, error)
}

// UserStore resolves the location floating feed times are read in.
type UserStore interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

// ICSSource reads third-party events from the user's subscribed feeds.
type ICSSource struct {
	subs     SubscriptionStore
	users    UserStore
	fetcher  *Fetcher
	fallback *time.Location
}

func NewICSSource(subs SubscriptionStore, users UserStore, fetcher *Fetcher, fallback *time.Location) *ICSSource {
	return &ICSSource{subs: subs, users: users, fetcher: fetcher, fallback: fallback}
}

// GetEvents returns every occurrence overlapping [from, to). Feeds that
// could not be fetched or parsed are reported through an error wrapping
// ErrUpstreamUnavailable while events from the others are still returned.
func (s *ICSSource) GetEvents(ctx context.Context, userID uint, from, to time.Time) ([]Event, error) {
	subs, err := s.subs.Subscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	loc := s.fallback
	if user, err := s.users.FindByID(ctx, userID); err == nil {
		loc = user.Location(s.fallback)
	}

	feeds := make([]Feed, 0, len(subs))
	for _, sub := range subs {
		id := sub.Name
		if id == "" {
			id = strconv.FormatUint(uint64(sub.ID), 10)
		}
		feeds = append(feeds, Feed{ID: id, URL: sub.URL})
	}

	results, fetchErrs := s.fetcher.FetchAll(ctx, feeds)

	var (
		out  []Event
		errs []error
	)
	for i, res := range results {
		if res == nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", feeds[i].ID, fetchErrs[i]))
			continue
		}
		parsed, err := parseICS(res.Feed, res.Body, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, expand(parsed, res.Feed.ID, from, to)...)
	}
	sortEvents(out)

	if len(errs) > 0 {
		zap.L().Warn("[Calendar] some feeds unavailable", zap.Uint("user_id", userID), zap.Int("failed", len(errs)), zap.Int("feeds", len(feeds)))
		return out, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, errors.Join(errs...))
	}
	return out, nil
}
