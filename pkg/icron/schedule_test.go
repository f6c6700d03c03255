package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		last time.Time
		next time.Time
	}{
		{
			name: "daily",
			expr: "0 3 * * *",
			last: time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC),
			next: time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "every ten minutes picks the latest trigger",
			expr: "*/10 * * * *",
			last: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			next: time.Date(2024, 3, 10, 12, 10, 0, 0, time.UTC),
		},
		{
			name: "descriptor",
			expr: "@weekly",
			last: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			next: time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "trigger at reference time counts as last",
			expr: "5 12 * * *",
			last: ref,
			next: ref.Add(24 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := GetTriggerInfo(tt.expr, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, info.Expression)
			assert.WithinDuration(t, tt.last, info.Last, 0)
			assert.WithinDuration(t, tt.next, info.Next, 0)
			assert.Equal(t, ref.Sub(tt.last), info.TimeSinceLast)
			assert.Equal(t, tt.next.Sub(ref), info.TimeUntilNext)
		})
	}
}

func TestGetTriggerInfo_NoRecentTrigger(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Feb 29 only; the previous one is more than a year back
	info, err := GetTriggerInfo("0 0 29 2 *", ref)
	require.NoError(t, err)
	assert.True(t, info.Last.IsZero())
	assert.Zero(t, info.TimeSinceLast)
	assert.WithinDuration(t, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), info.Next, 0)
}

func TestGetTriggerInfo_InvalidExpression(t *testing.T) {
	_, err := GetTriggerInfo("not a cron", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}
