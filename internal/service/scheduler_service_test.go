package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildDailySpec(t *testing.T) {
	spec, err := buildDailySpec("07:30")
	require.NoError(t, err)
	require.Equal(t, "0 30 7 * * *", spec)

	for _, bad := range []string{"7", "24:00", "07:60", "aa:10"} {
		_, err := buildDailySpec(bad)
		require.Error(t, err, bad)
	}
}

func TestSchedulerRegistersJobs(t *testing.T) {
	s := NewSchedulerService(time.UTC)

	_, err := s.ScheduleJob("sweep", "@every 1h", func(context.Context) error { return nil })
	require.NoError(t, err)
	_, err = s.ScheduleJob("five fields", "*/10 * * * *", func(context.Context) error { return nil })
	require.NoError(t, err)
	_, err = s.ScheduleJob("empty", " ", func(context.Context) error { return nil })
	require.Error(t, err)
	_, err = s.ScheduleInterval(0, func() {})
	require.Error(t, err)
	_, err = s.ScheduleDaily("09:00", func() {})
	require.NoError(t, err)
}
