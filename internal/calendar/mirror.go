package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mirror writes to a calendar with bounded retries. Callers treat its
// failures as best effort; they never undo a scheduling decision.
type Mirror struct {
	writer     Writer
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewMirror(writer Writer, maxRetries uint64) *Mirror {
	return &Mirror{
		writer:     writer,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

func (m *Mirror) policy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.maxRetries), ctx)
}

// Create returns the new event id.
func (m *Mirror) Create(ctx context.Context, userID uint, title, body string, start, end time.Time) (string, error) {
	var id string
	op := func() error {
		var err error
		id, err = m.writer.CreateEvent(ctx, userID, title, body, start, end)
		return err
	}
	notify := func(err error, wait time.Duration) {
		zap.L().Warn("[Calendar] create event retry", zap.Uint("user_id", userID), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, m.policy(ctx), notify); err != nil {
		return "", fmt.Errorf("%w: create event: %w", ErrUpstreamUnavailable, err)
	}
	return id, nil
}

// Delete treats an already missing event as deleted.
func (m *Mirror) Delete(ctx context.Context, userID uint, eventID string) error {
	op := func() error {
		err := m.writer.DeleteEvent(ctx, userID, eventID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		zap.L().Warn("[Calendar] delete event retry", zap.Uint("user_id", userID), zap.String("event_id", eventID), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, m.policy(ctx), notify); err != nil {
		return fmt.Errorf("%w: delete event: %w", ErrUpstreamUnavailable, err)
	}
	return nil
}
