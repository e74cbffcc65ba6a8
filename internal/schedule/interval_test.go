package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", "2025-01-06 "+hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func mustInterval(t *testing.T, from, to string, kind BlockKind) Interval {
	t.Helper()
	iv, err := NewInterval(at(from), at(to), kind)
	require.NoError(t, err)
	return iv
}

func TestNewIntervalRejectsEmptyAndInverted(t *testing.T) {
	_, err := NewInterval(at("09:00"), at("09:00"), BlockWorkHours)
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = NewInterval(at("10:00"), at("09:00"), BlockWorkHours)
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestOverlapsIsStrict(t *testing.T) {
	a := mustInterval(t, "09:00", "10:00", BlockWorkHours)
	b := mustInterval(t, "10:00", "11:00", BlockCommute)
	c := mustInterval(t, "09:30", "10:30", BlockCommute)

	require.False(t, Overlaps(a, b))
	require.True(t, Overlaps(a, c))
	require.True(t, Overlaps(c, b))
}

func TestSubtract(t *testing.T) {
	free := mustInterval(t, "06:00", "22:00", BlockFree)

	tests := []struct {
		name    string
		blocked []Interval
		want    [][2]string
	}{
		{
			name: "no overlap",
			blocked: []Interval{
				mustInterval(t, "04:00", "05:00", BlockWorkHours),
			},
			want: [][2]string{{"06:00", "22:00"}},
		},
		{
			name: "split in two",
			blocked: []Interval{
				mustInterval(t, "09:00", "17:30", BlockWorkHours),
			},
			want: [][2]string{{"06:00", "09:00"}, {"17:30", "22:00"}},
		},
		{
			name: "clip head",
			blocked: []Interval{
				mustInterval(t, "05:00", "07:00", BlockCommute),
			},
			want: [][2]string{{"07:00", "22:00"}},
		},
		{
			name: "fully covered",
			blocked: []Interval{
				mustInterval(t, "00:00", "23:59", BlockVacation),
			},
			want: nil,
		},
		{
			name: "several blocks",
			blocked: []Interval{
				mustInterval(t, "17:30", "18:00", BlockCommute),
				mustInterval(t, "09:00", "17:30", BlockWorkHours),
				mustInterval(t, "08:30", "09:00", BlockCommute),
				mustInterval(t, "19:00", "20:00", BlockThirdPartyEvent),
			},
			want: [][2]string{{"06:00", "08:30"}, {"18:00", "19:00"}, {"20:00", "22:00"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subtract(free, tt.blocked)
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				require.Equal(t, at(w[0]), got[i].Start)
				require.Equal(t, at(w[1]), got[i].End)
				require.Equal(t, BlockFree, got[i].Kind)
			}
		})
	}
}

func TestMergeKeepsKindsApart(t *testing.T) {
	merged := Merge([]Interval{
		mustInterval(t, "09:00", "10:00", BlockThirdPartyEvent),
		mustInterval(t, "10:00", "11:00", BlockThirdPartyEvent),
		mustInterval(t, "10:30", "12:00", BlockThirdPartyEvent),
		mustInterval(t, "09:30", "10:30", BlockCommute),
	})

	require.Len(t, merged, 2)
	require.Equal(t, BlockThirdPartyEvent, merged[0].Kind)
	require.Equal(t, at("09:00"), merged[0].Start)
	require.Equal(t, at("12:00"), merged[0].End)
	require.Equal(t, BlockCommute, merged[1].Kind)
	require.Equal(t, at("09:30"), merged[1].Start)
}
